// Package chatfmt holds the small text helpers shared by every outbound message:
// '&' colour code translation, printf-style template expansion that never fails,
// and JSON text components for title/tellraw commands.
package chatfmt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SectionSign is the colour prefix understood by game clients.
const SectionSign = '§'

const colorCodes = "0123456789AaBbCcDdEeFfKkLlMmNnOoRrXx"

// TranslateColors replaces alt+code pairs (e.g. "&c") with the section-sign form.
// Unknown codes are left untouched.
func TranslateColors(alt rune, s string) string {
	if !strings.ContainsRune(s, alt) {
		return s
	}
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(rs); i++ {
		if rs[i] == alt && i+1 < len(rs) && strings.ContainsRune(colorCodes, rs[i+1]) {
			b.WriteRune(SectionSign)
			b.WriteRune([]rune(strings.ToLower(string(rs[i+1])))[0])
			i++
			continue
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

// StripColors removes both '&' and section-sign colour codes, for plain-text sinks.
func StripColors(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(rs); i++ {
		if (rs[i] == '&' || rs[i] == SectionSign) && i+1 < len(rs) && strings.ContainsRune(colorCodes, rs[i+1]) {
			i++
			continue
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

// Sprintf expands a printf-style template with string arguments.
//
// Supported: %s, %S, %d (argument parsed as an integer, otherwise printed as text),
// %n, %%, explicit indexes (%2$s), and the usual flags/width/precision. Any other
// conversion is printed as text. Missing arguments expand to "" and surplus
// arguments are ignored, so a bad template degrades to odd text instead of an error.
func Sprintf(format string, args ...string) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			b.WriteByte(c)
			continue
		}
		switch format[i+1] {
		case '%':
			b.WriteByte('%')
			i++
			continue
		case 'n':
			b.WriteByte('\n')
			i++
			continue
		}

		j := i + 1
		// explicit argument index: digits followed by '$'
		idx := -1
		k := j
		for k < len(format) && format[k] >= '0' && format[k] <= '9' {
			k++
		}
		if k > j && k < len(format) && format[k] == '$' {
			n, _ := strconv.Atoi(format[j:k])
			idx = n - 1
			j = k + 1
		}
		specStart := j
		for j < len(format) && strings.IndexByte("-#+ 0,(", format[j]) >= 0 {
			j++
		}
		for j < len(format) && ((format[j] >= '0' && format[j] <= '9') || format[j] == '.') {
			j++
		}
		if j >= len(format) {
			b.WriteString(format[i:])
			break
		}
		verb := format[j]
		spec := strings.NewReplacer(",", "", "(", "").Replace(format[specStart:j])

		arg := ""
		if idx < 0 {
			idx = next
			next++
		}
		if idx >= 0 && idx < len(args) {
			arg = args[idx]
		}
		b.WriteString(expand(spec, verb, arg))
		i = j
	}
	return b.String()
}

func expand(spec string, verb byte, arg string) string {
	switch verb {
	case 'd':
		if n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64); err == nil {
			return fmt.Sprintf("%"+spec+"d", n)
		}
		return fmt.Sprintf("%"+stripPrecision(spec)+"s", arg)
	case 'S':
		return strings.ToUpper(fmt.Sprintf("%"+spec+"s", arg))
	default:
		return fmt.Sprintf("%"+spec+"s", arg)
	}
}

func stripPrecision(spec string) string {
	if i := strings.IndexByte(spec, '.'); i >= 0 {
		return spec[:i]
	}
	return spec
}

// TextComponent returns {"text":"..."} with s JSON-escaped.
func TextComponent(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(struct {
		Text string `json:"text"`
	}{Text: s})
	return strings.TrimRight(buf.String(), "\n")
}
