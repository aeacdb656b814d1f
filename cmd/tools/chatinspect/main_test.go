package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

func TestRenderListsMessages(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, []chat.Message{{
		ID:        "0190f3a2-aaaa-7bbb-8ccc-dddddddddddd",
		Sender:    "alice",
		Receiver:  "bob",
		Body:      "multi\nline",
		Timestamp: time.Now().Add(-time.Hour),
	}})

	out := buf.String()
	for _, want := range []string{"0190f3a2", "alice", "bob", "multi line", "hour ago"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("PAIRCHAT_INSPECT_TEST", " ")
	if got := envOr("PAIRCHAT_INSPECT_TEST", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("PAIRCHAT_INSPECT_TEST", "set")
	if got := envOr("PAIRCHAT_INSPECT_TEST", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}
