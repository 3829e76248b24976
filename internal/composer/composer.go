// Package composer owns the outgoing draft: text, one staged file and one
// staged audio clip. Send uploads binaries first and only then emits the
// realtime events that reference them.
package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/upload"
	"github.com/czeful/goalchat/internal/wire"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/czeful/goalchat/internal/composer")

var (
	ErrNothingToSend  = errors.New("composer: nothing to send")
	ErrSendInProgress = errors.New("composer: send already in progress")
	ErrNoPeer         = errors.New("composer: no peer selected")
	ErrRecording      = errors.New("composer: already recording")
	ErrNotRecording   = errors.New("composer: not recording")
)

// Slot names a staging slot.
type Slot string

const (
	SlotFile  Slot = "file"
	SlotAudio Slot = "audio"
)

// Pending is a staged attachment. Err holds the last upload failure.
type Pending struct {
	Kind     wire.Type
	Name     string
	Path     string
	Size     int64
	MimeType string
	Err      string `json:",omitempty"`

	recorded bool
}

func (p *Pending) file() upload.File {
	return upload.File{Kind: p.Kind, Path: p.Path, Name: p.Name, Size: p.Size, MimeType: p.MimeType}
}

// State is a copy of the composer for display.
type State struct {
	PeerID    string
	Draft     string
	File      *Pending `json:",omitempty"`
	Audio     *Pending `json:",omitempty"`
	Recording bool
	Sending   bool
}

// Dispatcher delivers outbound events; *outbox.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(e wire.Event) wire.Delivery
}

// Uploader stores attachments; *upload.Uploader satisfies it.
type Uploader interface {
	Upload(ctx context.Context, f upload.File) (wire.Attachment, error)
}

// Log receives optimistic entries; *conversation.Store satisfies it.
type Log interface {
	AppendOptimistic(m wire.Message) bool
	SetDelivery(clientMsgID string, d wire.Delivery) bool
}

// Options tunes a Composer.
type Options struct {
	TypingDebounce time.Duration
	RecordingsDir  string
	Recorder       Recorder
	NewID          func() string
	Now            func() time.Time
}

// Composer is safe for concurrent use.
type Composer struct {
	mu      sync.Mutex
	self    string
	peer    string
	draft   string
	file    *Pending
	audio   *Pending
	sending bool

	typingActive bool
	typingGen    uint64
	typingTimer  *time.Timer

	rec     Recording
	recPath string

	out      Dispatcher
	uploader Uploader
	log      Log
	opts     Options
	bus      *bus.Bus
	logger   *zap.Logger
}

// New creates a composer with no peer selected.
func New(out Dispatcher, u Uploader, log Log, opts Options, b *bus.Bus, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = 1500 * time.Millisecond
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = wire.Now
	}
	if opts.RecordingsDir == "" {
		opts.RecordingsDir = os.TempDir()
	}
	return &Composer{
		out:      out,
		uploader: u,
		log:      log,
		opts:     opts,
		bus:      b,
		logger:   logger.Named("composer"),
	}
}

// SetSelf records the local user id used as sender.
func (c *Composer) SetSelf(userID string) {
	c.mu.Lock()
	c.self = userID
	c.mu.Unlock()
}

// SetPeer switches the conversation. A pending typing indicator is closed
// with typing=false to the previous peer; the draft, staged items and any
// capture in progress are dropped.
func (c *Composer) SetPeer(peerID string) {
	c.mu.Lock()
	old, self := c.peer, c.self
	wasTyping := c.stopTypingLocked()
	rec, recPath := c.rec, c.recPath
	c.rec, c.recPath = nil, ""
	c.dropStagedLocked()
	c.draft = ""
	c.peer = peerID
	st := c.stateLocked()
	c.mu.Unlock()

	if wasTyping && old != "" && old != peerID {
		c.out.Dispatch(wire.TypingEvent(self, old, false))
	}
	if rec != nil {
		_ = rec.Stop()
		removeRecording(recPath)
	}
	c.publish(st)
}

// Keystroke replaces the draft text, emits typing=true and re-arms the
// debounce that emits typing=false once input pauses.
func (c *Composer) Keystroke(text string) error {
	c.mu.Lock()
	if c.peer == "" {
		c.mu.Unlock()
		return ErrNoPeer
	}
	c.draft = text
	self, peer := c.self, c.peer
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.typingActive = true
	c.typingTimer = time.AfterFunc(c.opts.TypingDebounce, func() { c.typingExpired(gen) })
	st := c.stateLocked()
	c.mu.Unlock()

	c.out.Dispatch(wire.TypingEvent(self, peer, true))
	c.publish(st)
	return nil
}

func (c *Composer) typingExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.typingGen || !c.typingActive {
		c.mu.Unlock()
		return
	}
	c.typingActive = false
	c.typingTimer = nil
	self, peer := c.self, c.peer
	c.mu.Unlock()

	c.out.Dispatch(wire.TypingEvent(self, peer, false))
}

// stopTypingLocked cancels the debounce and reports whether typing=true was
// outstanding. Requires c.mu held.
func (c *Composer) stopTypingLocked() bool {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
	was := c.typingActive
	c.typingActive = false
	return was
}

// StageFile stages path as the file attachment, replacing any earlier one.
// Images are sent as image, everything else as file.
func (c *Composer) StageFile(path string) (Pending, error) {
	f, err := upload.Inspect(path)
	if err != nil {
		return Pending{}, fmt.Errorf("stage file: %w", err)
	}
	p := &Pending{Kind: f.Kind, Name: f.Name, Path: f.Path, Size: f.Size, MimeType: f.MimeType}
	return c.stage(SlotFile, p)
}

// StageAudio stages an already recorded clip, replacing any earlier one.
func (c *Composer) StageAudio(path string) (Pending, error) {
	f, err := upload.Inspect(path)
	if err != nil {
		return Pending{}, fmt.Errorf("stage audio: %w", err)
	}
	p := &Pending{Kind: wire.TypeAudio, Name: f.Name, Path: f.Path, Size: f.Size, MimeType: f.MimeType}
	return c.stage(SlotAudio, p)
}

func (c *Composer) stage(slot Slot, p *Pending) (Pending, error) {
	c.mu.Lock()
	if c.peer == "" {
		c.mu.Unlock()
		return Pending{}, ErrNoPeer
	}
	var replaced *Pending
	if slot == SlotAudio {
		replaced, c.audio = c.audio, p
	} else {
		replaced, c.file = c.file, p
	}
	st := c.stateLocked()
	c.mu.Unlock()

	if replaced != nil && replaced.recorded {
		removeRecording(replaced.Path)
	}
	c.publish(st)
	return *p, nil
}

// BeginAudio starts capturing a clip. The capture is stopped by EndAudio,
// a peer switch, or ctx.
func (c *Composer) BeginAudio(ctx context.Context) error {
	if c.opts.Recorder == nil {
		return errors.New("composer: audio capture not available")
	}
	c.mu.Lock()
	if c.peer == "" {
		c.mu.Unlock()
		return ErrNoPeer
	}
	if c.rec != nil {
		c.mu.Unlock()
		return ErrRecording
	}
	if err := os.MkdirAll(c.opts.RecordingsDir, 0700); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("recordings dir: %w", err)
	}
	path := filepath.Join(c.opts.RecordingsDir, "voice-"+c.opts.NewID()+".wav")
	rec, err := c.opts.Recorder.Start(ctx, path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.rec, c.recPath = rec, path
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Debug("recording started", zap.String("path", path))
	c.publish(st)
	return nil
}

// EndAudio stops the capture and stages the clip. It is not sent until Send.
func (c *Composer) EndAudio() (Pending, error) {
	c.mu.Lock()
	rec, path := c.rec, c.recPath
	c.rec, c.recPath = nil, ""
	c.mu.Unlock()
	if rec == nil {
		return Pending{}, ErrNotRecording
	}
	if err := rec.Stop(); err != nil {
		removeRecording(path)
		return Pending{}, fmt.Errorf("stop recording: %w", err)
	}
	f, err := upload.Inspect(path)
	if err != nil {
		removeRecording(path)
		return Pending{}, fmt.Errorf("recorded clip: %w", err)
	}
	if f.Size == 0 {
		removeRecording(path)
		return Pending{}, errors.New("composer: recording is empty")
	}
	p := &Pending{
		Kind:     wire.TypeAudio,
		Name:     "voice-" + c.opts.Now().Format("20060102-150405") + ".wav",
		Path:     path,
		Size:     f.Size,
		MimeType: f.MimeType,
		recorded: true,
	}
	staged, err := c.stage(SlotAudio, p)
	if err != nil {
		removeRecording(path)
	}
	return staged, err
}

// Discard drops a staged item.
func (c *Composer) Discard(slot Slot) {
	c.mu.Lock()
	var dropped *Pending
	switch slot {
	case SlotAudio:
		dropped, c.audio = c.audio, nil
	case SlotFile:
		dropped, c.file = c.file, nil
	}
	st := c.stateLocked()
	c.mu.Unlock()

	if dropped != nil && dropped.recorded {
		removeRecording(dropped.Path)
	}
	c.publish(st)
}

// dropStagedLocked requires c.mu held.
func (c *Composer) dropStagedLocked() {
	for _, p := range []*Pending{c.audio, c.file} {
		if p != nil && p.recorded {
			removeRecording(p.Path)
		}
	}
	c.audio, c.file = nil, nil
}

// State returns a copy for display.
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Composer) stateLocked() State {
	st := State{
		PeerID:    c.peer,
		Draft:     c.draft,
		Recording: c.rec != nil,
		Sending:   c.sending,
	}
	if c.file != nil {
		f := *c.file
		st.File = &f
	}
	if c.audio != nil {
		a := *c.audio
		st.Audio = &a
	}
	return st
}

func (c *Composer) publish(st State) {
	c.bus.Emit(bus.KindComposerChanged, st)
}

// Send emits, in order, the staged audio clip, the staged file and the draft
// text. Each attachment is uploaded before its event is dispatched. On an
// upload failure the sequence stops: the failed item keeps the error and
// stays staged with everything after it. Returns the messages dispatched.
func (c *Composer) Send(ctx context.Context) ([]wire.Message, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return nil, ErrSendInProgress
	}
	if c.peer == "" {
		c.mu.Unlock()
		return nil, ErrNoPeer
	}
	text := strings.TrimSpace(c.draft)
	if c.audio == nil && c.file == nil && text == "" {
		c.mu.Unlock()
		return nil, ErrNothingToSend
	}
	c.sending = true
	self, peer := c.self, c.peer
	audio, file := c.audio, c.file
	wasTyping := c.stopTypingLocked()
	st := c.stateLocked()
	c.mu.Unlock()
	c.publish(st)

	ctx, span := tracer.Start(ctx, "composer.Send", trace.WithAttributes(
		attribute.String("peer.id", peer),
		attribute.Bool("has.audio", audio != nil),
		attribute.Bool("has.file", file != nil),
	))
	defer span.End()

	if wasTyping {
		c.out.Dispatch(wire.TypingEvent(self, peer, false))
	}

	var sent []wire.Message
	var sentSlots []*Pending
	finish := func(failed *Pending, failErr error, textSent bool) {
		c.mu.Lock()
		c.sending = false
		if c.peer == peer {
			for _, p := range sentSlots {
				c.clearIfSame(p)
			}
			if failed != nil {
				failed.Err = failErr.Error()
			}
			if textSent && strings.TrimSpace(c.draft) == text {
				c.draft = ""
			}
		}
		st := c.stateLocked()
		c.mu.Unlock()
		for _, p := range sentSlots {
			if p.recorded {
				removeRecording(p.Path)
			}
		}
		c.publish(st)
	}

	for _, p := range []*Pending{audio, file} {
		if p == nil {
			continue
		}
		att, err := c.uploader.Upload(ctx, p.file())
		if err != nil {
			c.logger.Warn("send halted on upload failure", zap.String("name", p.Name), zap.Error(err))
			span.RecordError(err)
			finish(p, err, false)
			return sent, fmt.Errorf("send %s: %w", p.Name, err)
		}
		sent = append(sent, c.emit(wire.Message{
			SenderID:   self,
			ReceiverID: peer,
			Type:       p.Kind,
			Attachment: &att,
		}))
		sentSlots = append(sentSlots, p)
	}

	if text != "" {
		sent = append(sent, c.emit(wire.Message{
			SenderID:   self,
			ReceiverID: peer,
			Type:       wire.TypeText,
			Text:       text,
		}))
	}
	finish(nil, nil, text != "")
	span.SetAttributes(attribute.Int("messages", len(sent)))
	return sent, nil
}

// emit appends m optimistically and dispatches it.
func (c *Composer) emit(m wire.Message) wire.Message {
	m.ClientMsgID = c.opts.NewID()
	m.CreatedAt = c.opts.Now()
	m.Delivery = wire.Pending
	c.log.AppendOptimistic(m)
	m.Delivery = c.out.Dispatch(wire.EventFor(m))
	c.log.SetDelivery(m.ClientMsgID, m.Delivery)
	return m
}

// clearIfSame empties the slot still holding p. Requires c.mu held.
func (c *Composer) clearIfSame(p *Pending) {
	if c.audio == p {
		c.audio = nil
	}
	if c.file == p {
		c.file = nil
	}
}
