package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/status"
	"github.com/czeful/goalchat/internal/tui/keys"
	"github.com/czeful/goalchat/internal/tui/model"
	"github.com/czeful/goalchat/internal/tui/ui"
	"github.com/czeful/goalchat/internal/tui/views"
	"github.com/czeful/goalchat/internal/wire"
	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const opTimeout = 30 * time.Second

type op struct {
	what string
	fn   func(ctx context.Context) error
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	registry *keys.Registry
	flash    *ui.FlashModel

	info      *ui.SessionInfo
	menu      *ui.Menu
	crumbs    *ui.Crumbs
	prompt    *ui.Prompt
	flashBar  *ui.FlashBar
	statusBar *views.StatusBar
	friends   *views.FriendList
	thread    *views.MessageThread
	details   *views.PeerInfo
	qr        *views.QRView
	help      *views.HelpView
	login     *views.LoginView

	// loggedIn is the last observed login state, nil before the first status.
	loggedIn     *bool
	// filterBefore is restored when the '/' prompt is cancelled.
	filterBefore string
	ops          chan op
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApp creates the TUI for the daemon behind d.
func NewApp(d model.Daemon) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		theme:     theme,
		pages:     ui.NewPages(),
		vm:        model.NewViewModel(d),
		registry:  keys.NewRegistry(),
		flash:     ui.NewFlashModel(),
		info:      ui.NewSessionInfo(theme),
		menu:      ui.NewMenu(theme),
		crumbs:    ui.NewCrumbs(theme),
		prompt:    ui.NewPrompt(theme),
		flashBar:  ui.NewFlashBar(theme),
		statusBar: views.NewStatusBar(theme),
		friends:   views.NewFriendList(theme),
		thread:    views.NewMessageThread(theme),
		details:   views.NewPeerInfo(theme),
		qr:        views.NewQRView(theme),
		help:      views.NewHelpView(theme),
		login:     views.NewLoginView(theme),
		ops:       make(chan op, 64),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':', Label: ":", Help: "Command",
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?', Label: "?", Help: "Help",
		Handler: func() { a.pages.Push(a.help) },
	})

	fl := a.friends.Name()
	a.registry.AddView(fl, &keys.Action{
		Key: tcell.KeyEnter, Label: "Enter", Help: "Open",
		Handler: func() { a.openFriend(a.friends.Selected()) },
	})
	a.registry.AddView(fl, &keys.Action{
		Key: tcell.KeyRune, Rune: '/', Label: "/", Help: "Filter",
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(fl, &keys.Action{
		Key: tcell.KeyRune, Rune: 'r', Label: "r", Help: "Refresh",
		Handler: a.refreshFriends,
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(fl, &keys.Action{
			Key: tcell.KeyRune, Rune: rune('0' + n), Label: "1-9", Help: "Jump",
			Hidden:  n > 1,
			Handler: func() { a.openFriend(a.friends.At(n)) },
		})
	}
	a.registry.AddView(fl, &keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Label: "q", Help: "Quit",
		Handler: a.Stop,
	})

	ch := a.thread.Name()
	a.registry.AddView(ch, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i', Label: "i", Help: "Compose",
		Handler: func() { a.app.SetFocus(a.thread.Input()) },
	})
	a.registry.AddView(ch, &keys.Action{
		Key: tcell.KeyCtrlA, Label: "Ctrl-A", Help: "Record",
		Handler: a.toggleRecording,
	})
	a.registry.AddView(ch, &keys.Action{
		Key: tcell.KeyCtrlR, Label: "Ctrl-R", Help: "Reload",
		Handler: a.reload,
	})
	a.registry.AddView(ch, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd', Label: "d", Help: "Details",
		Handler: a.showDetails,
	})
	a.registry.AddView(ch, &keys.Action{
		Key: tcell.KeyRune, Rune: 'o', Label: "o", Help: "Attachment QR",
		Handler: a.showLastAttachment,
	})
	a.registry.AddView(ch, &keys.Action{
		Key: tcell.KeyEscape, Label: "Esc", Help: "Back",
		Handler: a.back,
	})
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(top ui.Component, names []string) {
		a.crumbs.Update(names)
		a.menu.Update(a.registry.Hints(top.Name()))
		a.focusTop()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptFilter {
			a.friends.SetFilter(text)
			return
		}
		a.handleCommand(ParseCommand(text))
	})
	a.prompt.SetOnChange(func(_ ui.PromptMode, text string) {
		a.friends.SetFilter(text)
	})
	a.prompt.SetOnCancel(func(mode ui.PromptMode) {
		if mode == ui.PromptFilter {
			a.friends.SetFilter(a.filterBefore)
		}
		a.hidePrompt()
	})
	a.prompt.SetCompletions(commandNames)

	a.thread.SetOnType(func(text string) {
		a.do("typing", func(ctx context.Context) error {
			return a.vm.Type(ctx, text)
		})
	})
	a.thread.SetOnSend(a.send)
	a.thread.SetOnLeave(func() { a.app.SetFocus(a.thread.Messages()) })

	a.login.SetOnLogin(func(token string) {
		a.login.ShowMessage("Logging in…")
		a.do("login", func(ctx context.Context) error {
			id, err := a.vm.Login(ctx, token)
			if err != nil {
				a.queue(func() { a.login.ShowMessage("Login failed: " + describe(err)) })
				return nil
			}
			a.flash.Info("Logged in as " + firstOf(id.Username, id.UserID))
			a.vm.Invalidate(model.ChangeAll)
			return a.vm.LoadFriends(ctx, true)
		})
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	a.pages.Add(a.friends, a.friends)
	a.pages.Add(a.thread, a.thread)
	a.pages.Add(a.details, a.details)
	a.pages.Add(a.qr, a.qr)
	a.pages.Add(a.help, a.help)
	a.pages.Add(a.login, a.login)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 5, 0, false).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(a.root, true)
	a.pages.Reset(a.friends)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		top := a.pages.Top().Name()

		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			// Editing keeps every key except the chat shortcuts that have
			// no meaning inside a line editor.
			if top == a.thread.Name() && (event.Key() == tcell.KeyCtrlA || event.Key() == tcell.KeyCtrlR) {
				a.registry.HandleEvent(top, event)
				return nil
			}
			if top == a.login.Name() && event.Key() == tcell.KeyEscape {
				a.back()
				return nil
			}
			return event
		}

		if a.registry.HandleEvent(top, event) {
			return nil
		}
		if event.Key() == tcell.KeyEscape {
			a.back()
			return nil
		}
		return event
	})
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.worker()
	go a.refreshLoop()
	go a.vm.Follow(a.ctx, func(err error) {
		a.queue(func() { a.statusBar.SetDaemonDown() })
	})

	a.vm.Invalidate(model.ChangeAll)
	a.refreshFriends()

	err := a.app.Run()
	a.cancel()
	return err
}

// Stop shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// do queues fn on the single worker so daemon calls keep their order.
func (a *App) do(what string, fn func(ctx context.Context) error) {
	select {
	case a.ops <- op{what: what, fn: fn}:
	default:
		a.flash.Warn("busy, " + what + " dropped")
	}
}

func (a *App) worker() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case o := <-a.ops:
			ctx, cancel := context.WithTimeout(a.ctx, opTimeout)
			err := o.fn(ctx)
			cancel()
			if err != nil && a.ctx.Err() == nil {
				a.flash.Err(o.what, errors.New(describe(err)))
				a.queue(func() { a.flashBar.Update(a.flash.Current()) })
			}
		}
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.vm.RefreshCh():
			ctx, cancel := context.WithTimeout(a.ctx, opTimeout)
			done, err := a.vm.Sync(ctx)
			cancel()
			a.queue(func() {
				if err != nil && grpcstatus.Code(err) == codes.Unavailable {
					a.statusBar.SetDaemonDown()
				}
				a.render(done)
			})
		case <-ticker.C:
			a.queue(func() {
				a.flashBar.Update(a.flash.Current())
				a.statusBar.SetStatus(a.vm.Status())
			})
		}
	}
}

func (a *App) queue(fn func()) {
	a.app.QueueUpdateDraw(fn)
}

// render redraws the parts named by c. It runs on the draw goroutine.
func (a *App) render(c model.Change) {
	if c&model.ChangeStatus != 0 {
		st := a.vm.Status()
		a.statusBar.SetStatus(st)
		a.info.Update(st)
		a.followLogin(st)
	}
	if c&model.ChangeFriends != 0 {
		a.friends.Update(a.vm.Friends())
	}
	if c&model.ChangeChat != 0 {
		if chat := a.vm.Chat(); chat != nil && chat.PeerID != "" {
			a.thread.Update(chat, a.vm.FriendName)
			if a.pages.Top() == a.details {
				a.showDetails()
			}
		}
	}
	a.flashBar.Update(a.flash.Current())
}

// followLogin shows the login page when the session loses its token or the
// server rejects it, and leaves it once logged in.
func (a *App) followLogin(st *api.SessionStatus) {
	if st == nil {
		return
	}
	in := st.LoggedIn && st.State != status.AuthRejected
	was := a.loggedIn
	a.loggedIn = &in

	switch {
	case !in && (was == nil || *was):
		if st.State == status.AuthRejected {
			a.login.ShowMessage("The server rejected the stored token. Paste a new one.")
		}
		a.pages.Push(a.login)
	case in && a.pages.Top() == a.login:
		a.pages.Reset(a.friends)
	}
}

func (a *App) focusTop() {
	switch a.pages.Top() {
	case a.friends:
		a.app.SetFocus(a.friends)
	case a.thread:
		a.app.SetFocus(a.thread.Messages())
	case a.login:
		a.app.SetFocus(a.login.Input())
	case a.details:
		a.app.SetFocus(a.details)
	case a.qr:
		a.app.SetFocus(a.qr)
	case a.help:
		a.app.SetFocus(a.help)
	}
}

func (a *App) back() {
	a.pages.Pop()
}

func (a *App) showPrompt(mode ui.PromptMode) {
	initial := ""
	if mode == ui.PromptFilter {
		a.filterBefore = a.friends.Filter()
		initial = a.filterBefore
	}
	a.prompt.Activate(mode, initial)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusTop()
}

func (a *App) refreshFriends() {
	a.do("refresh friends", func(ctx context.Context) error {
		if err := a.vm.LoadFriends(ctx, true); err != nil {
			return err
		}
		if f := a.vm.Friends(); f != nil && f.Stale {
			a.flash.Warn("friend list refresh failed, showing saved copy")
		}
		a.queue(func() { a.render(model.ChangeFriends) })
		return nil
	})
}

func (a *App) openFriend(id string) {
	if id == "" {
		return
	}
	a.thread.Reset(a.vm.FriendName(id))
	a.pages.Reset(a.friends)
	a.pages.Push(a.thread)
	a.do("open chat", func(ctx context.Context) error {
		if err := a.vm.Open(ctx, id); err != nil {
			return err
		}
		a.queue(func() { a.render(model.ChangeChat) })
		return nil
	})
}

func (a *App) send(text string) {
	a.do("send", func(ctx context.Context) error {
		reply, err := a.vm.Send(ctx)
		if err != nil {
			return err
		}
		a.queue(func() { a.thread.ClearInput(text) })
		for _, m := range reply.Messages {
			if m.Delivery == wire.Pending {
				a.flash.Warn("offline, message queued")
				break
			}
		}
		return nil
	})
}

func (a *App) reload() {
	a.do("reload", func(ctx context.Context) error {
		if err := a.vm.Reload(ctx); err != nil {
			return err
		}
		a.queue(func() { a.render(model.ChangeChat) })
		return nil
	})
}

func (a *App) toggleRecording() {
	a.do("record", func(ctx context.Context) error {
		p, err := a.vm.ToggleRecording(ctx)
		if err != nil {
			return err
		}
		if p != nil {
			a.flash.Info(fmt.Sprintf("Recorded %s (%s), Enter to send", p.Name, humanize.Bytes(uint64(max(p.Size, 0)))))
		} else {
			a.flash.Info("Recording… Ctrl-A to stop")
		}
		a.vm.Invalidate(model.ChangeChat)
		return nil
	})
}

func (a *App) attach(path string, audio bool) {
	abs, err := expandPath(path)
	if err != nil {
		a.flash.Err("attach", err)
		return
	}
	a.do("attach", func(ctx context.Context) error {
		p, err := a.vm.Attach(ctx, abs, audio)
		if err != nil {
			return err
		}
		a.flash.Info(fmt.Sprintf("Staged %s %s (%s), Enter to send", p.Kind, p.Name, humanize.Bytes(uint64(max(p.Size, 0)))))
		a.vm.Invalidate(model.ChangeChat)
		return nil
	})
}

func (a *App) showDetails() {
	chat := a.vm.Chat()
	if chat == nil || chat.PeerID == "" {
		return
	}
	f, ok := a.vm.FindFriend(chat.PeerID)
	if !ok {
		f = api.Friend{ID: chat.PeerID}
	}
	a.details.Update(f, chat)
	a.pages.Push(a.details)
}

func (a *App) showLastAttachment() {
	chat := a.vm.Chat()
	if chat == nil {
		return
	}
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		if att := chat.Messages[i].Attachment; att != nil && att.URL != "" {
			a.qr.Show(att.Name, att.URL)
			a.pages.Push(a.qr)
			return
		}
	}
	a.flash.Info("No attachments in this conversation")
}

func (a *App) handleCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.pages.Push(a.help)
	case "chat", "open":
		f, ok := a.vm.FindFriend(cmd.Args)
		if !ok {
			a.flash.Warn("no friend named " + strconv.Quote(cmd.Args))
			return
		}
		a.openFriend(f.ID)
	case "attach", "file":
		a.attach(cmd.Args, false)
	case "audio":
		a.attach(cmd.Args, true)
	case "discard":
		slot := composer.Slot(cmd.Args)
		if slot != composer.SlotFile && slot != composer.SlotAudio {
			a.flash.Warn("usage: discard file|audio")
			return
		}
		a.do("discard", func(ctx context.Context) error {
			if err := a.vm.Discard(ctx, slot); err != nil {
				return err
			}
			a.vm.Invalidate(model.ChangeChat)
			return nil
		})
	case "record":
		a.toggleRecording()
	case "reload":
		a.reload()
	case "refresh":
		a.refreshFriends()
	case "login":
		a.pages.Push(a.login)
	case "logout":
		a.do("logout", func(ctx context.Context) error {
			if err := a.vm.Logout(ctx); err != nil {
				return err
			}
			a.vm.Invalidate(model.ChangeStatus)
			return nil
		})
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
	a.flashBar.Update(a.flash.Current())
}

// describe strips the gRPC envelope from daemon errors.
func describe(err error) string {
	if s, ok := grpcstatus.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
