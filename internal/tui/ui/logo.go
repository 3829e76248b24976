package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo is the header's left column.
type Logo struct {
	*tview.TextView
}

func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 0)

	title := ColorName(theme.TitleColor)
	_, _ = fmt.Fprintf(tv,
		"[%s::b]┏━╸┏━┓┏━┓╻  [-:-:-]\n"+
			"[%s::b]┃╺┓┃ ┃┣━┫┃  [-:-:-]\n"+
			"[%s::b]┗━┛┗━┛╹ ╹┗━╸[-:-:-]\n"+
			"[%s]chat[-]",
		title, title, title, ColorName(theme.FgColor))
	return &Logo{TextView: tv}
}
