package views

import (
	"strings"
	"testing"
	"time"

	"github.com/czeful/goalchat/internal/wire"
)

func TestClean(t *testing.T) {
	got := clean("hi 👍🏻 [red]x")
	if strings.ContainsRune(got, 0x1F3FB) {
		t.Fatalf("skin tone kept: %q", got)
	}
	if !strings.Contains(got, "👍") {
		t.Fatalf("base emoji dropped: %q", got)
	}
	if strings.Contains(got, "[red]") {
		t.Fatalf("color tag not escaped: %q", got)
	}
}

func TestStamp(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	if got := stamp(time.Time{}, now); got != "" {
		t.Fatalf("zero = %q", got)
	}
	if got := stamp(now.Add(-time.Hour), now); got != "14:00" {
		t.Fatalf("today = %q", got)
	}
	if got := stamp(now.Add(-72*time.Hour), now); got != "3 days ago" {
		t.Fatalf("older = %q", got)
	}
}

func TestBody(t *testing.T) {
	m := wire.Message{Type: wire.TypeImage, Attachment: &wire.Attachment{URL: "/u/cat.png", Name: "cat.png", SizeBytes: 2048}}
	got := body(m)
	if !strings.Contains(got, "cat.png") || !strings.Contains(got, "2.0 kB") {
		t.Fatalf("body = %q", got)
	}
	if got := body(wire.Message{Type: wire.TypeText, Text: "hello"}); got != "hello" {
		t.Fatalf("text body = %q", got)
	}
	if badge(wire.Pending) == "" || badge(wire.Delivery("x")) != "" {
		t.Fatal("badge mapping")
	}
}
