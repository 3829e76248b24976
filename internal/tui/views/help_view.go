package views

import (
	"fmt"

	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView lists keys and prompt commands.
type HelpView struct {
	*tview.TextView
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global", [][2]string{
		{":", "command prompt"},
		{"?", "this help"},
		{"Esc", "back"},
		{"Ctrl-C", "quit"},
	}},
	{"Friends", [][2]string{
		{"Enter", "open conversation"},
		{"/", "filter by name"},
		{"r", "refresh from server"},
		{"1-9", "open the Nth friend"},
	}},
	{"Chat", [][2]string{
		{"i", "focus the composer"},
		{"Enter", "send draft and attachments"},
		{"Ctrl-A", "start or stop a voice recording"},
		{"Ctrl-R", "reload history"},
		{"d", "peer details"},
		{"o", "QR code of the last attachment"},
	}},
	{"Commands", [][2]string{
		{":chat <name>", "open a conversation"},
		{":attach <path>", "stage a file"},
		{":audio <path>", "stage an audio clip"},
		{":discard file|audio", "drop a staged attachment"},
		{":record", "start or stop recording"},
		{":reload", "reload history"},
		{":refresh", "refresh friends"},
		{":login / :logout", "switch account"},
		{":quit", "quit"},
	}},
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.ColorName(theme.MenuKeyColor)
	for _, s := range helpSections {
		_, _ = fmt.Fprintf(tv, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			_, _ = fmt.Fprintf(tv, "  [%s]%-22s[-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
	return &HelpView{TextView: tv}
}

func (hv *HelpView) Name() string { return "Help" }

