package views

import (
	"fmt"
	"strings"

	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// LoginView asks for a bearer token when the session has none or the
// server rejected the stored one.
type LoginView struct {
	*tview.Flex
	message *tview.TextView
	input   *tview.InputField
	onLogin func(token string)
}

func NewLoginView(theme *ui.Theme) *LoginView {
	message := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	message.SetBackgroundColor(theme.BgColor)
	message.SetTextColor(theme.FgColor)

	input := tview.NewInputField().
		SetLabel(" Token: ").
		SetFieldWidth(0).
		SetMaskCharacter('*')
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(message, 0, 1, false).
		AddItem(input, 3, 0, true)
	flex.SetBorder(true)
	flex.SetBorderColor(theme.BorderColor)
	flex.SetTitle(" Log in ")
	flex.SetTitleColor(theme.TitleColor)
	flex.SetBackgroundColor(theme.BgColor)

	lv := &LoginView{Flex: flex, message: message, input: input}
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		token := strings.TrimSpace(input.GetText())
		if token != "" && lv.onLogin != nil {
			input.SetText("")
			lv.onLogin(token)
		}
	})
	lv.ShowMessage("Paste the token issued by the chat server and press Enter.")
	return lv
}

func (lv *LoginView) Name() string { return "Login" }

func (lv *LoginView) Input() *tview.InputField { return lv.input }

func (lv *LoginView) SetOnLogin(fn func(token string)) { lv.onLogin = fn }

func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "\n\n%s", tview.Escape(msg))
}
