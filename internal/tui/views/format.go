package views

import (
	"fmt"
	"time"

	"github.com/czeful/goalchat/internal/wire"
	"github.com/dustin/go-humanize"
)

// stamp renders a message time as HH:MM today and a relative time before that.
func stamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// badge is the delivery marker shown after own messages.
func badge(d wire.Delivery) string {
	switch d {
	case wire.Confirmed:
		return "[green]✓✓[-]"
	case wire.Sent:
		return "[gray]✓[-]"
	case wire.Pending:
		return "[yellow]…[-]"
	case wire.Failed:
		return "[red]![-]"
	}
	return ""
}

// body renders the content of m on one line.
func body(m wire.Message) string {
	a := m.Attachment
	if a == nil {
		return clean(m.Text)
	}
	icon := "📎"
	switch m.Type {
	case wire.TypeImage:
		icon = "🖼"
	case wire.TypeAudio:
		icon = "🎤"
	}
	name := a.Name
	if name == "" {
		name = a.URL
	}
	size := ""
	if a.SizeBytes > 0 {
		size = " " + humanize.Bytes(uint64(a.SizeBytes))
	}
	return fmt.Sprintf("%s %s[::d]%s[-:-:-]", icon, clean(name), size)
}
