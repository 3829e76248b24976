package views

import (
	"fmt"
	"time"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/status"
	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar is the bottom line: session, connection banner and outbox.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
	st    *api.SessionStatus
	down  bool
}

func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv, theme: theme}
}

func (sb *StatusBar) SetStatus(st *api.SessionStatus) {
	sb.st = st
	sb.down = false
	sb.render()
}

// SetDaemonDown marks the daemon unreachable until the next SetStatus.
func (sb *StatusBar) SetDaemonDown() {
	sb.down = true
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	clock := time.Now().Format("15:04")
	if sb.down {
		_, _ = fmt.Fprintf(sb, " [%s::b]daemon unreachable[-:-:-] | %s", ui.ColorName(sb.theme.FlashErrColor), clock)
		return
	}
	if sb.st == nil {
		_, _ = fmt.Fprintf(sb, " … | %s", clock)
		return
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-]", clean(sb.st.Session))
	if sb.st.LoggedIn {
		line += " | " + clean(firstNonEmpty(sb.st.Username, sb.st.UserID))
	} else {
		line += " | not logged in"
	}
	if sb.st.Banner != "" {
		color := sb.theme.FlashWarnColor
		if sb.st.State == status.AuthRejected {
			color = sb.theme.FlashErrColor
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.ColorName(color), sb.st.Banner)
	} else {
		line += fmt.Sprintf(" | [%s]connected[-]", ui.ColorName(sb.theme.OnlineColor))
	}
	if sb.st.OutboxDepth > 0 {
		line += fmt.Sprintf(" | %d queued", sb.st.OutboxDepth)
	}
	_, _ = fmt.Fprintf(sb, "%s | %s", line, clock)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
