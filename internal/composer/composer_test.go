package composer

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/czeful/goalchat/internal/upload"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

var (
	wavBytes = []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00")
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

// stepLog is a shared, ordered record of uploads and dispatches.
type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (t *stepLog) add(s string) {
	t.mu.Lock()
	t.steps = append(t.steps, s)
	t.mu.Unlock()
}

func (t *stepLog) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type fakeOut struct {
	tr     *stepLog
	mu     sync.Mutex
	events []wire.Event
	// typingOff holds the dispatch time of every typing=false event.
	typingOff []time.Time
}

func (o *fakeOut) Dispatch(e wire.Event) wire.Delivery {
	o.mu.Lock()
	o.events = append(o.events, e)
	if e.Type == wire.TypeTyping && !e.IsTyping() {
		o.typingOff = append(o.typingOff, time.Now())
	}
	o.mu.Unlock()
	switch {
	case e.Type == wire.TypeTyping:
		if e.IsTyping() {
			o.tr.add("typing:on:" + e.ReceiverID)
		} else {
			o.tr.add("typing:off:" + e.ReceiverID)
		}
	default:
		o.tr.add("send:" + string(e.Type) + ":" + e.Text + e.FileURL)
	}
	return wire.Sent
}

func (o *fakeOut) offTimes() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Time(nil), o.typingOff...)
}

func (o *fakeOut) typing() []wire.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []wire.Event
	for _, e := range o.events {
		if e.Type == wire.TypeTyping {
			out = append(out, e)
		}
	}
	return out
}

type fakeUploader struct {
	tr      *stepLog
	mu      sync.Mutex
	fail    map[string]error
	block   chan struct{}
	entered chan struct{}
}

func (u *fakeUploader) Upload(ctx context.Context, f upload.File) (wire.Attachment, error) {
	if u.entered != nil {
		u.entered <- struct{}{}
	}
	if u.block != nil {
		<-u.block
	}
	u.mu.Lock()
	err := u.fail[f.Name]
	u.mu.Unlock()
	if err != nil {
		return wire.Attachment{}, err
	}
	u.tr.add("upload:" + f.Name)
	return wire.Attachment{URL: "/uploads/" + f.Name, Name: f.Name, SizeBytes: f.Size, MimeType: f.MimeType}, nil
}

func (u *fakeUploader) setFail(name string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail == nil {
		u.fail = map[string]error{}
	}
	if err == nil {
		delete(u.fail, name)
		return
	}
	u.fail[name] = err
}

type fakeLog struct {
	mu       sync.Mutex
	appended []wire.Message
	delivery map[string]wire.Delivery
}

func (l *fakeLog) AppendOptimistic(m wire.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appended = append(l.appended, m)
	return true
}

func (l *fakeLog) SetDelivery(id string, d wire.Delivery) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.delivery == nil {
		l.delivery = map[string]wire.Delivery{}
	}
	l.delivery[id] = d
	return true
}

type fixture struct {
	c   *Composer
	tr  *stepLog
	out *fakeOut
	up  *fakeUploader
	log *fakeLog
	dir string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tr := &stepLog{}
	f := &fixture{
		tr:  tr,
		out: &fakeOut{tr: tr},
		up:  &fakeUploader{tr: tr},
		log: &fakeLog{},
		dir: t.TempDir(),
	}
	if opts.RecordingsDir == "" {
		opts.RecordingsDir = filepath.Join(f.dir, "recordings")
	}
	f.c = New(f.out, f.up, f.log, opts, nil, zap.NewNop())
	f.c.SetSelf("alice")
	return f
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestKeystrokeTypingDecay(t *testing.T) {
	f := newFixture(t, Options{TypingDebounce: 40 * time.Millisecond})
	f.c.SetPeer("bob")

	for _, s := range []string{"h", "he", "hey"} {
		if err := f.c.Keystroke(s); err != nil {
			t.Fatalf("Keystroke: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	got := f.out.typing()
	if len(got) != 4 {
		t.Fatalf("typing events = %d, want 4 (3 on, 1 off)", len(got))
	}
	for i, e := range got[:3] {
		if !e.IsTyping() || e.ReceiverID != "bob" || e.SenderID != "alice" {
			t.Errorf("event %d = %+v, want typing=true alice->bob", i, e)
		}
	}
	if got[3].IsTyping() {
		t.Error("last typing event should be typing=false")
	}
	if f.c.State().Draft != "hey" {
		t.Errorf("draft = %q", f.c.State().Draft)
	}
}

func TestTypingOffWaitsForDebounce(t *testing.T) {
	const debounce = 120 * time.Millisecond
	f := newFixture(t, Options{TypingDebounce: debounce})
	f.c.SetPeer("bob")

	var last time.Time
	for _, s := range []string{"o", "ok"} {
		last = time.Now()
		if err := f.c.Keystroke(s); err != nil {
			t.Fatalf("Keystroke: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}

	time.Sleep(debounce / 3)
	if n := len(f.out.offTimes()); n != 0 {
		t.Fatalf("typing=false sent %d times before the debounce elapsed", n)
	}

	time.Sleep(2 * debounce)
	off := f.out.offTimes()
	if len(off) != 1 {
		t.Fatalf("typing=false events = %d, want 1", len(off))
	}
	if gap := off[0].Sub(last); gap < debounce {
		t.Errorf("typing=false came %v after the last keystroke, want at least %v", gap, debounce)
	}
}

func TestKeystrokeWithoutPeer(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.c.Keystroke("x"); !errors.Is(err, ErrNoPeer) {
		t.Errorf("err = %v, want ErrNoPeer", err)
	}
}

func TestPeerSwitchFlushesTyping(t *testing.T) {
	f := newFixture(t, Options{TypingDebounce: 50 * time.Millisecond})
	f.c.SetPeer("bob")
	_ = f.c.Keystroke("draft for bob")
	if _, err := f.c.StageFile(f.write(t, "pic.png", pngBytes)); err != nil {
		t.Fatal(err)
	}

	f.c.SetPeer("carol")
	time.Sleep(150 * time.Millisecond)

	got := f.out.typing()
	if len(got) != 2 {
		t.Fatalf("typing events = %+v, want on+off", got)
	}
	if got[1].IsTyping() || got[1].ReceiverID != "bob" {
		t.Errorf("flush = %+v, want typing=false to bob", got[1])
	}
	st := f.c.State()
	if st.PeerID != "carol" || st.Draft != "" || st.File != nil {
		t.Errorf("state after switch = %+v", st)
	}
}

func TestStageFileClassifies(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.SetPeer("bob")

	p, err := f.c.StageFile(f.write(t, "pic.png", pngBytes))
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != wire.TypeImage || p.MimeType != "image/png" {
		t.Errorf("png staged as %s %s", p.Kind, p.MimeType)
	}

	p, err = f.c.StageFile(f.write(t, "notes.txt", []byte("plain notes")))
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != wire.TypeFile {
		t.Errorf("txt staged as %s", p.Kind)
	}
	if st := f.c.State(); st.File == nil || st.File.Name != "notes.txt" {
		t.Errorf("later stage should replace the earlier one: %+v", st.File)
	}

	if _, err := f.c.StageFile(filepath.Join(f.dir, "missing")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestSendUploadsBeforeDispatch(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.SetPeer("bob")
	if _, err := f.c.StageAudio(f.write(t, "clip.wav", wavBytes)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.StageFile(f.write(t, "pic.png", pngBytes)); err != nil {
		t.Fatal(err)
	}
	_ = f.c.Keystroke("  hello  ")

	sent, err := f.c.Send(context.Background())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	want := []string{
		"typing:on:bob",
		"typing:off:bob",
		"upload:clip.wav",
		"send:audio:/uploads/clip.wav",
		"upload:pic.png",
		"send:image:/uploads/pic.png",
		"send:text:hello",
	}
	got := f.tr.list()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("steps:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}

	if len(sent) != 3 {
		t.Fatalf("sent = %d messages", len(sent))
	}
	for _, m := range sent {
		if m.ClientMsgID == "" || m.SenderID != "alice" || m.ReceiverID != "bob" {
			t.Errorf("bad message %+v", m)
		}
		if m.Delivery != wire.Sent {
			t.Errorf("%s delivery = %s", m.Type, m.Delivery)
		}
		if f.log.delivery[m.ClientMsgID] != wire.Sent {
			t.Errorf("log delivery for %s = %s", m.ClientMsgID, f.log.delivery[m.ClientMsgID])
		}
	}
	if sent[0].Attachment == nil || sent[0].Attachment.URL != "/uploads/clip.wav" {
		t.Errorf("audio attachment = %+v", sent[0].Attachment)
	}
	if len(f.log.appended) != 3 || f.log.appended[0].Delivery != wire.Pending {
		t.Errorf("optimistic entries = %+v", f.log.appended)
	}

	st := f.c.State()
	if st.Draft != "" || st.File != nil || st.Audio != nil || st.Sending {
		t.Errorf("state after send = %+v", st)
	}
}

func TestSendHaltsAtUploadFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.c.SetPeer("bob")
	_, _ = f.c.StageAudio(f.write(t, "clip.wav", wavBytes))
	_, _ = f.c.StageFile(f.write(t, "report.pdf", []byte("%PDF-1.4\n")))
	_ = f.c.Keystroke("see attached")

	f.up.setFail("report.pdf", errors.New("disk full"))
	sent, err := f.c.Send(context.Background())
	if err == nil {
		t.Fatal("Send should fail")
	}
	if len(sent) != 1 || sent[0].Type != wire.TypeAudio {
		t.Fatalf("sent before failure = %+v", sent)
	}

	st := f.c.State()
	if st.Audio != nil {
		t.Error("sent audio should be cleared")
	}
	if st.File == nil || !strings.Contains(st.File.Err, "disk full") {
		t.Errorf("failed file = %+v, want inline error", st.File)
	}
	if st.Draft != "see attached" {
		t.Errorf("draft = %q, want kept", st.Draft)
	}

	f.up.setFail("report.pdf", nil)
	sent, err = f.c.Send(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sent) != 2 || sent[0].Type != wire.TypeFile || sent[1].Type != wire.TypeText {
		t.Errorf("retry sent = %+v", sent)
	}
	if st := f.c.State(); st.File != nil || st.Draft != "" {
		t.Errorf("state after retry = %+v", st)
	}
}

func TestSendRejectsEmptyAndConcurrent(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.c.Send(context.Background()); !errors.Is(err, ErrNoPeer) {
		t.Errorf("no peer: %v", err)
	}
	f.c.SetPeer("bob")
	_ = f.c.Keystroke("   ")
	if _, err := f.c.Send(context.Background()); !errors.Is(err, ErrNothingToSend) {
		t.Errorf("blank draft: %v", err)
	}

	f.up.block = make(chan struct{})
	f.up.entered = make(chan struct{}, 1)
	_, _ = f.c.StageFile(f.write(t, "pic.png", pngBytes))

	done := make(chan error, 1)
	go func() {
		_, err := f.c.Send(context.Background())
		done <- err
	}()
	select {
	case <-f.up.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("upload never started")
	}
	if _, err := f.c.Send(context.Background()); !errors.Is(err, ErrSendInProgress) {
		t.Errorf("concurrent send: %v", err)
	}
	close(f.up.block)
	if err := <-done; err != nil {
		t.Errorf("first send: %v", err)
	}
}

// fakeRecorder writes a clip when stopped, or runs stop when set.
type fakeRecorder struct {
	started []string
	stop    func(path string) error
}

type fakeRecording struct {
	path string
	stop func(path string) error
}

func (r *fakeRecorder) Start(ctx context.Context, path string) (Recording, error) {
	r.started = append(r.started, path)
	return &fakeRecording{path: path, stop: r.stop}, nil
}

func (r *fakeRecording) Stop() error {
	if r.stop != nil {
		return r.stop(r.path)
	}
	return os.WriteFile(r.path, wavBytes, 0600)
}

func TestRecordAudio(t *testing.T) {
	rec := &fakeRecorder{}
	f := newFixture(t, Options{Recorder: rec})
	f.c.SetPeer("bob")

	if _, err := f.c.EndAudio(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("EndAudio without capture: %v", err)
	}
	if err := f.c.BeginAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.c.State().Recording {
		t.Error("state should show recording")
	}
	if err := f.c.BeginAudio(context.Background()); !errors.Is(err, ErrRecording) {
		t.Errorf("second BeginAudio: %v", err)
	}

	p, err := f.c.EndAudio()
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != wire.TypeAudio || p.Size != int64(len(wavBytes)) || p.Path != rec.started[0] {
		t.Errorf("staged clip = %+v", p)
	}
	if len(f.tr.list()) != 0 {
		t.Error("a recording must not be sent automatically")
	}

	f.c.Discard(SlotAudio)
	if _, err := os.Stat(p.Path); !os.IsNotExist(err) {
		t.Errorf("discarded recording still on disk: %v", err)
	}
	if f.c.State().Audio != nil {
		t.Error("audio slot should be empty")
	}
}

func TestUnreadableRecordingIsRemoved(t *testing.T) {
	// The capture tool leaves something that is not a clip behind.
	rec := &fakeRecorder{stop: func(path string) error { return os.Mkdir(path, 0700) }}
	f := newFixture(t, Options{Recorder: rec})
	f.c.SetPeer("bob")

	if err := f.c.BeginAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.c.EndAudio(); err == nil {
		t.Fatal("EndAudio accepted a directory as a clip")
	}
	if _, err := os.Stat(rec.started[0]); !os.IsNotExist(err) {
		t.Errorf("recording left at %s: %v", rec.started[0], err)
	}
	if st := f.c.State(); st.Recording || st.Audio != nil {
		t.Errorf("state after failed capture = %+v", st)
	}
}

func TestCommandRecorder(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	r := CommandRecorder{
		Command:     []string{"sh", "-c", `printf RIFF > "$0"; exec sleep 5`},
		StopTimeout: 2 * time.Second,
	}
	rec, err := r.Start(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if data, err := os.ReadFile(path); err == nil && string(data) == "RIFF" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder never wrote the file")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// let exec replace the shell so the interrupt reaches sleep
	time.Sleep(50 * time.Millisecond)

	if err := rec.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
