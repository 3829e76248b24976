package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/czeful/goalchat/internal/wire"
	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MessageThread shows one conversation: a presence header, the messages,
// the staged attachments and the composer line.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	header   *tview.TextView
	messages *tview.TextView
	staged   *tview.TextView
	input    *tview.InputField

	peerName string
	quiet    bool
	onType   func(text string)
	onSend   func(text string)
	onLeave  func()
}

func NewMessageThread(theme *ui.Theme) *MessageThread {
	header := tview.NewTextView().
		SetDynamicColors(true)
	header.SetBackgroundColor(theme.BgColor)

	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	staged := tview.NewTextView().
		SetDynamicColors(true)
	staged.SetBackgroundColor(theme.BgColor)

	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitle(" Message (i to focus, Enter to send) ")
	input.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(messages, 0, 1, true).
		AddItem(staged, 1, 0, false).
		AddItem(input, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		header:   header,
		messages: messages,
		staged:   staged,
		input:    input,
	}

	input.SetChangedFunc(func(text string) {
		if mt.onType != nil && !mt.quiet {
			mt.onType(text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			if mt.onSend != nil {
				mt.onSend(input.GetText())
			}
		case tcell.KeyEscape:
			if mt.onLeave != nil {
				mt.onLeave()
			}
		}
	})
	return mt
}

func (mt *MessageThread) Name() string { return "Chat" }

// SetOnType is called with the whole line after every edit.
func (mt *MessageThread) SetOnType(fn func(text string)) { mt.onType = fn }

// SetOnSend is called when Enter is pressed in the composer.
func (mt *MessageThread) SetOnSend(fn func(text string)) { mt.onSend = fn }

// SetOnLeave is called when Escape is pressed in the composer.
func (mt *MessageThread) SetOnLeave(fn func()) { mt.onLeave = fn }

func (mt *MessageThread) Input() *tview.InputField { return mt.input }

func (mt *MessageThread) Messages() *tview.TextView { return mt.messages }

// Reset prepares the view for a newly opened peer.
func (mt *MessageThread) Reset(peerName string) {
	mt.peerName = peerName
	mt.messages.SetTitle(fmt.Sprintf(" %s ", clean(peerName)))
	mt.messages.Clear()
	mt.header.Clear()
	mt.staged.Clear()
	mt.setInput("")
}

// ClearInput empties the composer if it still holds sent.
func (mt *MessageThread) ClearInput(sent string) {
	if mt.input.GetText() == sent {
		mt.setInput("")
	}
}

// setInput replaces the composer text without reporting it as typing.
func (mt *MessageThread) setInput(text string) {
	mt.quiet = true
	mt.input.SetText(text)
	mt.quiet = false
}

// Update renders st. nameOf resolves user ids to display names.
func (mt *MessageThread) Update(st *api.ChatState, nameOf func(string) string) {
	if st == nil {
		return
	}
	mt.renderHeader(st)
	mt.renderStaged(st.Composer)

	row, _ := mt.messages.GetScrollOffset()
	_, _, _, height := mt.messages.GetInnerRect()
	atEnd := row+height >= strings.Count(mt.messages.GetText(false), "\n")

	mt.messages.Clear()
	now := time.Now()
	for _, m := range st.Messages {
		mt.writeMessage(m, st.PeerID, nameOf, now)
	}
	if st.Loading {
		_, _ = fmt.Fprint(mt.messages, "[::d]loading history…[-:-:-]\n")
	}
	if st.LoadError != "" {
		_, _ = fmt.Fprintf(mt.messages, "[%s]history failed: %s (Ctrl-R to retry)[-]\n",
			ui.ColorName(mt.theme.FlashErrColor), clean(st.LoadError))
	}
	if atEnd {
		mt.messages.ScrollToEnd()
	}
}

func (mt *MessageThread) writeMessage(m wire.Message, peerID string, nameOf func(string) string, now time.Time) {
	who, color, mark := "You", mt.theme.SelfColor, badge(m.Delivery)
	if m.SenderID == peerID {
		who, color, mark = nameOf(m.SenderID), mt.theme.PeerColor, ""
	}
	_, _ = fmt.Fprintf(mt.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-] %s\n%s\n",
		ui.ColorName(color), clean(who), stamp(m.CreatedAt, now), mark, body(m))
	if m.Attachment != nil {
		_, _ = fmt.Fprintf(mt.messages, "[::d]%s[-:-:-]\n", clean(m.Attachment.URL))
	}
	_, _ = fmt.Fprintln(mt.messages)
}

func (mt *MessageThread) renderHeader(st *api.ChatState) {
	mt.header.Clear()
	var state string
	switch p := st.Presence; {
	case p.Typing:
		state = fmt.Sprintf("[%s]typing…[-]", ui.ColorName(mt.theme.OnlineColor))
	case p.Online:
		state = fmt.Sprintf("[%s]● online[-]", ui.ColorName(mt.theme.OnlineColor))
	case p.Known:
		state = fmt.Sprintf("[%s]○ offline[-]", ui.ColorName(mt.theme.OfflineColor))
	default:
		state = "[::d]…[-:-:-]"
	}
	_, _ = fmt.Fprintf(mt.header, " [::b]%s[-:-:-] %s", clean(mt.peerName), state)
}

func (mt *MessageThread) renderStaged(c composer.State) {
	mt.staged.Clear()
	var parts []string
	if c.Recording {
		parts = append(parts, fmt.Sprintf("[%s]● recording (Ctrl-A to stop)[-]", ui.ColorName(mt.theme.FlashErrColor)))
	}
	for _, p := range []*composer.Pending{c.Audio, c.File} {
		if p == nil {
			continue
		}
		s := fmt.Sprintf("%s %s (%s)", p.Kind, clean(p.Name), humanize.Bytes(uint64(max(p.Size, 0))))
		if p.Err != "" {
			s += fmt.Sprintf(" [%s]upload failed: %s[-]", ui.ColorName(mt.theme.FlashErrColor), clean(p.Err))
		}
		parts = append(parts, s)
	}
	if c.Sending {
		parts = append(parts, "[::d]sending…[-:-:-]")
	}
	if len(parts) > 0 {
		_, _ = fmt.Fprint(mt.staged, " "+strings.Join(parts, "  |  "))
	}
}
