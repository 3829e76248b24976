package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// FriendList is the landing page: one row per friend with presence.
type FriendList struct {
	*tview.Table
	theme   *ui.Theme
	friends []api.Friend
	visible []api.Friend
	stale   bool
	filter  string
}

func NewFriendList(theme *ui.Theme) *FriendList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	fl := &FriendList{Table: table, theme: theme}
	fl.render()
	return fl
}

func (fl *FriendList) Name() string { return "Friends" }

// Update replaces the rows, keeping the selected friend when still listed.
func (fl *FriendList) Update(list *api.FriendList) {
	selected := fl.Selected()
	fl.friends = nil
	fl.stale = false
	if list != nil {
		fl.friends = list.Friends
		fl.stale = list.Stale
	}
	fl.render()
	fl.selectID(selected)
}

func (fl *FriendList) SetFilter(filter string) {
	fl.filter = strings.TrimSpace(filter)
	fl.render()
}

func (fl *FriendList) Filter() string { return fl.filter }

// Selected returns the id of the highlighted friend.
func (fl *FriendList) Selected() string {
	row, _ := fl.GetSelection()
	return fl.At(row)
}

// At returns the id of the friend on table row n (1-based, header is row 0).
func (fl *FriendList) At(n int) string {
	if n < 1 || n > len(fl.visible) {
		return ""
	}
	return fl.visible[n-1].ID
}

func (fl *FriendList) selectID(id string) {
	for i, f := range fl.visible {
		if f.ID == id {
			fl.Select(i+1, 0)
			return
		}
	}
	if len(fl.visible) > 0 {
		fl.Select(1, 0)
	}
}

func (fl *FriendList) render() {
	fl.Clear()
	for col, h := range []struct {
		text string
		exp  int
	}{{" ", 0}, {"NAME", 1}, {"LAST SEEN", 0}, {"ID", 1}} {
		fl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(fl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	fl.visible = matchFriends(fl.friends, fl.filter)
	for i, f := range fl.visible {
		row := i + 1
		dot, color := "○", fl.theme.OfflineColor
		if f.Online {
			dot, color = "●", fl.theme.OnlineColor
		}
		fl.SetCell(row, 0, tview.NewTableCell(dot).SetTextColor(color))
		fl.SetCell(row, 1, tview.NewTableCell(clean(displayName(f))).SetExpansion(1).SetTextColor(fl.theme.FgColor))
		fl.SetCell(row, 2, tview.NewTableCell(lastSeen(f)).SetTextColor(fl.theme.FgColor).SetAlign(tview.AlignRight))
		fl.SetCell(row, 3, tview.NewTableCell(clean(f.ID)).SetExpansion(1).SetTextColor(fl.theme.OfflineColor))
	}

	title := fmt.Sprintf(" Friends (%d) ", len(fl.friends))
	if fl.filter != "" {
		title = fmt.Sprintf(" Friends (%d/%d) filter: %s ", len(fl.visible), len(fl.friends), clean(fl.filter))
	}
	if fl.stale {
		title += "[orange](offline copy)[-] "
	}
	fl.SetTitle(title)
}

func displayName(f api.Friend) string {
	if f.Username != "" {
		return f.Username
	}
	return f.ID
}

func lastSeen(f api.Friend) string {
	switch {
	case f.Online:
		return "online"
	case f.SeenAt > 0:
		return humanize.Time(time.UnixMilli(f.SeenAt))
	}
	return "-"
}

// matchFriends keeps friends whose name or id contains filter, ignoring case.
func matchFriends(friends []api.Friend, filter string) []api.Friend {
	if filter == "" {
		return friends
	}
	filter = strings.ToLower(filter)
	var out []api.Friend
	for _, f := range friends {
		if strings.Contains(strings.ToLower(f.Username), filter) || strings.Contains(strings.ToLower(f.ID), filter) {
			out = append(out, f)
		}
	}
	return out
}
