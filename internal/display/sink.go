// Package display delivers on-screen title directives to every connected player.
package display

import (
	"fmt"
	"strings"
	"sync"

	"nerdalert/pkg/chatfmt"
	logx "nerdalert/pkg/logx"
)

// Sink receives typed title directives. All directives address every client.
type Sink interface {
	SetTiming(fadeInTicks, displayTicks, fadeOutTicks int)
	SetTitle(text string)
	SetSubtitle(text string)
}

// Dispatcher runs one server console command line.
type Dispatcher interface {
	Dispatch(line string) error
}

// Console renders directives as vanilla server commands:
//
//	title @a times 10 70 20
//	title @a title {"text":"§cRestart"}
//	title @a subtitle {"text":"in 5 minutes"}
type Console struct {
	out    Dispatcher
	target string
	log    logx.Logger
}

func NewConsole(out Dispatcher, log logx.Logger) *Console {
	return &Console{out: out, target: "@a", log: log}
}

func (c *Console) SetTiming(fadeIn, display, fadeOut int) {
	c.send(fmt.Sprintf("title %s times %d %d %d", c.target, fadeIn, display, fadeOut))
}

func (c *Console) SetTitle(text string) {
	c.send(fmt.Sprintf("title %s title %s", c.target, chatfmt.TextComponent(chatfmt.TranslateColors('&', text))))
}

func (c *Console) SetSubtitle(text string) {
	c.send(fmt.Sprintf("title %s subtitle %s", c.target, chatfmt.TextComponent(chatfmt.TranslateColors('&', text))))
}

func (c *Console) send(line string) {
	if err := c.out.Dispatch(line); err != nil {
		c.log.Warn("display dispatch failed", logx.String("line", line), logx.Err(err))
	}
}

type Kind string

const (
	KindTiming   Kind = "timing"
	KindTitle    Kind = "title"
	KindSubtitle Kind = "subtitle"
)

type Directive struct {
	Kind    Kind
	FadeIn  int
	Display int
	FadeOut int
	Text    string
}

func (d Directive) String() string {
	switch d.Kind {
	case KindTiming:
		return fmt.Sprintf("timing %d/%d/%d", d.FadeIn, d.Display, d.FadeOut)
	default:
		return fmt.Sprintf("%s %q", d.Kind, chatfmt.StripColors(d.Text))
	}
}

// Recorder keeps every directive it receives.
type Recorder struct {
	mu         sync.Mutex
	directives []Directive
}

func (r *Recorder) SetTiming(fadeIn, display, fadeOut int) {
	r.add(Directive{Kind: KindTiming, FadeIn: fadeIn, Display: display, FadeOut: fadeOut})
}
func (r *Recorder) SetTitle(text string)    { r.add(Directive{Kind: KindTitle, Text: text}) }
func (r *Recorder) SetSubtitle(text string) { r.add(Directive{Kind: KindSubtitle, Text: text}) }

func (r *Recorder) add(d Directive) {
	r.mu.Lock()
	r.directives = append(r.directives, d)
	r.mu.Unlock()
}

// Directives returns a copy of everything recorded so far.
func (r *Recorder) Directives() []Directive {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Directive(nil), r.directives...)
}

// Subtitles returns only the subtitle texts, in order.
func (r *Recorder) Subtitles() []string {
	var out []string
	for _, d := range r.Directives() {
		if d.Kind == KindSubtitle {
			out = append(out, d.Text)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.directives = nil
	r.mu.Unlock()
}

// Multi fans each directive out to every sink.
type Multi []Sink

func (m Multi) SetTiming(fadeIn, display, fadeOut int) {
	for _, s := range m {
		s.SetTiming(fadeIn, display, fadeOut)
	}
}

func (m Multi) SetTitle(text string) {
	for _, s := range m {
		s.SetTitle(text)
	}
}

func (m Multi) SetSubtitle(text string) {
	for _, s := range m {
		s.SetSubtitle(text)
	}
}

// Lines is a Dispatcher that collects command lines.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

func (l *Lines) Dispatch(line string) error {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
	return nil
}

func (l *Lines) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
