package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/matheus3301/tilechat/internal/tui/ui"
)

// AttachmentView shows an attachment link as a QR code so it can be opened
// on a phone.
type AttachmentView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewAttachmentView creates a new attachment view.
func NewAttachmentView(theme *ui.Theme) *AttachmentView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Attachment ")
	tv.SetTitleColor(theme.TitleColor)

	return &AttachmentView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (av *AttachmentView) Name() string { return "Attachment" }

// Init implements Component.
func (av *AttachmentView) Init() {}

// Start implements Component.
func (av *AttachmentView) Start() {}

// Stop implements Component.
func (av *AttachmentView) Stop() {}

// Hints implements Component.
func (av *AttachmentView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// Show renders url as a QR code above the plain link.
func (av *AttachmentView) Show(url string) {
	av.Clear()
	_, _ = fmt.Fprintf(av, "\n  Scan to open the attachment:\n\n%s\n  [::u]%s[-:-:-]", renderQR(url), tview.Escape(url))
}

// renderQR converts a string to a compact QR code drawn with Unicode
// half-block characters, two modules per terminal row.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
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
		sb.WriteRune('\n')
	}
	return sb.String()
}
