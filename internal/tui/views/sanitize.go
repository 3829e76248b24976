package views

import (
	"strings"

	"github.com/rivo/tview"
)

// joinerRanges are codepoints tcell renders as separate cells, breaking
// emoji sequences and shifting the rest of the line. They are dropped.
var joinerRanges = [][2]rune{
	{0x1F3FB, 0x1F3FF}, // skin tone modifiers
	{0x200D, 0x200D},   // zero width joiner
	{0xFE00, 0xFE0F},   // variation selectors
	{0xE0100, 0xE01EF}, // variation selectors supplement
}

func dropJoiner(r rune) rune {
	for _, rg := range joinerRanges {
		if r >= rg[0] && r <= rg[1] {
			return -1
		}
	}
	return r
}

// clean makes user-supplied text safe to print in a dynamic-color view.
func clean(s string) string {
	return tview.Escape(strings.Map(dropJoiner, s))
}
