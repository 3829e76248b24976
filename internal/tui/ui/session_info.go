package ui

import (
	"fmt"
	"time"

	"github.com/czeful/goalchat/internal/api"
	"github.com/dustin/go-humanize"
	"github.com/rivo/tview"
)

// SessionInfo shows the daemon's session in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &SessionInfo{TextView: tv, theme: theme}
}

func (si *SessionInfo) Update(st *api.SessionStatus) {
	si.Clear()
	if st == nil {
		return
	}
	fg := ColorName(si.theme.FgColor)
	val := ColorName(si.theme.CounterColor)

	user := "-"
	if st.LoggedIn {
		user = st.Username
		if user == "" {
			user = st.UserID
		}
	}
	row := func(label, value string) {
		_, _ = fmt.Fprintf(si, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, label, val, tview.Escape(value))
	}
	row("Session:", st.Session)
	row("User:", user)
	row("State:", fmt.Sprintf("%s (%s)", st.State, humanize.Time(st.Since)))
	row("Outbox:", humanize.Comma(int64(st.OutboxDepth)))
	row("Uptime:", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second).String())
}
