package views

import (
	"fmt"
	"strings"

	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"
)

// QRView shows an attachment URL as a QR code so it can be opened on a phone.
type QRView struct {
	*tview.TextView
}

func NewQRView(theme *ui.Theme) *QRView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Attachment ")
	tv.SetTitleColor(theme.TitleColor)
	return &QRView{TextView: tv}
}

func (qv *QRView) Name() string { return "QR" }

// Show renders url for the attachment called name.
func (qv *QRView) Show(name, url string) {
	qv.Clear()
	_, _ = fmt.Fprintf(qv, "\n%s\n\n%s\n[::d]%s[-:-:-]", clean(name), renderQR(url), clean(url))
}

// renderQR draws content with half-block characters, two modules per cell.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "(cannot encode: " + tview.Escape(err.Error()) + ")"
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
