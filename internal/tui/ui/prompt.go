package ui

import (
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt line means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

// Prompt is the ':' command line and the '/' friend filter. Commands keep
// a history browsable with Up/Down and complete against a known word list.
// Filter text is reported on every change so the list narrows while typing.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	words    []string
	past     History
	onSubmit func(mode PromptMode, text string)
	onChange func(mode PromptMode, text string)
	onCancel func(mode PromptMode)
}

func NewPrompt(theme *Theme) *Prompt {
	p := &Prompt{InputField: tview.NewInputField(), past: History{Limit: 50}}
	p.SetBorder(true)
	p.SetBorderColor(theme.PromptColor)
	p.SetBackgroundColor(theme.BgColor)
	p.SetFieldBackgroundColor(theme.BgColor)
	p.SetFieldTextColor(theme.FgColor)
	p.SetLabelColor(theme.MenuKeyColor)

	p.SetChangedFunc(func(text string) {
		if p.mode == PromptFilter && p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	p.SetAutocompleteFunc(p.complete)
	p.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if p.mode != PromptCommand {
			return ev
		}
		switch ev.Key() {
		case tcell.KeyUp:
			if line, ok := p.past.Prev(); ok {
				p.SetText(line)
			}
			return nil
		case tcell.KeyDown:
			p.SetText(p.past.Next())
			return nil
		}
		return ev
	})
	p.SetDoneFunc(func(key tcell.Key) {
		text := strings.TrimSpace(p.GetText())
		mode := p.mode
		switch key {
		case tcell.KeyEnter:
			if mode == PromptCommand {
				p.past.Add(text)
			}
			if p.onSubmit != nil {
				p.onSubmit(mode, text)
			}
		case tcell.KeyEscape:
			if p.onCancel != nil {
				p.onCancel(mode)
			}
		}
	})
	return p
}

func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) { p.onSubmit = fn }

func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) { p.onChange = fn }

func (p *Prompt) SetOnCancel(fn func(mode PromptMode)) { p.onCancel = fn }

// SetCompletions sets the command names offered while typing the first word.
func (p *Prompt) SetCompletions(words []string) {
	p.words = append([]string(nil), words...)
	sort.Strings(p.words)
}

func (p *Prompt) complete(text string) []string {
	if p.mode != PromptCommand || text == "" || strings.Contains(text, " ") {
		return nil
	}
	var out []string
	for _, w := range p.words {
		if strings.HasPrefix(w, strings.ToLower(text)) && w != text {
			out = append(out, w)
		}
	}
	return out
}

// Activate switches mode and seeds the line with initial.
func (p *Prompt) Activate(mode PromptMode, initial string) {
	p.mode = mode
	p.past.Reset()
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
	p.SetText(initial)
}

// History is a bounded list of submitted lines with a browse cursor.
type History struct {
	Limit  int
	lines  []string
	cursor int
}

// Add appends line unless it is blank or repeats the newest entry.
func (h *History) Add(line string) {
	if line == "" || (len(h.lines) > 0 && h.lines[len(h.lines)-1] == line) {
		h.Reset()
		return
	}
	h.lines = append(h.lines, line)
	if h.Limit > 0 && len(h.lines) > h.Limit {
		h.lines = h.lines[len(h.lines)-h.Limit:]
	}
	h.Reset()
}

// Reset moves the cursor past the newest entry.
func (h *History) Reset() { h.cursor = len(h.lines) }

// Prev steps back; ok is false once the oldest entry was returned.
func (h *History) Prev() (string, bool) {
	if h.cursor == 0 {
		return "", false
	}
	h.cursor--
	return h.lines[h.cursor], true
}

// Next steps forward, returning "" when it moves past the newest entry.
func (h *History) Next() string {
	if h.cursor < len(h.lines) {
		h.cursor++
	}
	if h.cursor == len(h.lines) {
		return ""
	}
	return h.lines[h.cursor]
}
