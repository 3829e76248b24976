package views

import (
	"fmt"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/dustin/go-humanize"
	"github.com/rivo/tview"
)

// PeerInfo shows details about the selected peer and the conversation.
type PeerInfo struct {
	*tview.TextView
	theme *ui.Theme
}

func NewPeerInfo(theme *ui.Theme) *PeerInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)
	return &PeerInfo{TextView: tv, theme: theme}
}

func (pi *PeerInfo) Name() string { return "Details" }

// Update renders friend f and the conversation state st.
func (pi *PeerInfo) Update(f api.Friend, st *api.ChatState) {
	pi.Clear()
	pi.SetTitle(fmt.Sprintf(" %s ", clean(displayName(f))))

	fg := ui.ColorName(pi.theme.FgColor)
	val := ui.ColorName(pi.theme.CounterColor)
	row := func(label, value string) {
		_, _ = fmt.Fprintf(pi, " [%s::b]%-10s[-:-:-] [%s]%s[-]\n", fg, label, val, value)
	}

	_, _ = fmt.Fprintln(pi)
	row("Name:", clean(displayName(f)))
	row("ID:", clean(f.ID))
	row("Presence:", lastSeen(f))
	if st == nil || st.PeerID != f.ID {
		return
	}

	var mine, theirs, files int
	var bytes int64
	for _, m := range st.Messages {
		if m.SenderID == f.ID {
			theirs++
		} else {
			mine++
		}
		if m.Attachment != nil {
			files++
			bytes += m.Attachment.SizeBytes
		}
	}
	row("Messages:", fmt.Sprintf("%d sent, %d received", mine, theirs))
	row("Files:", fmt.Sprintf("%d (%s)", files, humanize.Bytes(uint64(max(bytes, 0)))))
	if n := len(st.Messages); n > 0 {
		row("Last:", humanize.Time(st.Messages[n-1].CreatedAt))
	}
}
