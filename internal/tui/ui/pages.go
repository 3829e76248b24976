package ui

import "github.com/rivo/tview"

// Pages is a stack of named tview pages. Every pushed page must implement
// Component so the header can follow it.
type Pages struct {
	*tview.Pages
	stack    []Component
	onChange func(top Component, names []string)
}

func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// Add registers a page without showing it.
func (p *Pages) Add(c Component, prim tview.Primitive) {
	p.AddPage(c.Name(), prim, true, false)
}

// SetOnChange sets a callback fired after every stack change.
func (p *Pages) SetOnChange(fn func(top Component, names []string)) {
	p.onChange = fn
}

// Push shows c on top of the stack. Pushing the current top is a no-op.
func (p *Pages) Push(c Component) {
	if top := p.Top(); top != nil {
		if top.Name() == c.Name() {
			return
		}
		p.HidePage(top.Name())
	}
	p.stack = append(p.stack, c)
	p.ShowPage(c.Name())
	p.SendToFront(c.Name())
	p.notify()
}

// Pop removes the top page. The bottom page is never popped.
func (p *Pages) Pop() Component {
	if len(p.stack) < 2 {
		return nil
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top.Name())
	p.stack = p.stack[:len(p.stack)-1]
	cur := p.stack[len(p.stack)-1]
	p.ShowPage(cur.Name())
	p.SendToFront(cur.Name())
	p.notify()
	return top
}

func (p *Pages) Top() Component {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// Reset leaves only c on the stack.
func (p *Pages) Reset(c Component) {
	for _, old := range p.stack {
		p.HidePage(old.Name())
	}
	p.stack = []Component{c}
	p.ShowPage(c.Name())
	p.SendToFront(c.Name())
	p.notify()
}

func (p *Pages) notify() {
	if p.onChange == nil {
		return
	}
	names := make([]string, len(p.stack))
	for i, c := range p.stack {
		names[i] = c.Name()
	}
	p.onChange(p.Top(), names)
}
