package transport

import (
	"context"
	"strings"
	"testing"
)

func TestSplitText(t *testing.T) {
	if got := SplitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split: %q", got)
	}

	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6) + "\n" + strings.Repeat("c", 3)
	got := SplitText(text, 10)
	want := []string{"aaaaaa", "bbbbbb\nccc"}
	if len(got) != len(want) {
		t.Fatalf("chunks = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}

	long := strings.Repeat("é", 10)
	for _, chunk := range SplitText(long, 5) {
		if len(chunk) > 5 || !strings.HasPrefix(chunk, "é") {
			t.Fatalf("bad chunk %q", chunk)
		}
	}
}

func TestLogSenderHonorsContext(t *testing.T) {
	s := NewLogSender(nil)
	if err := s.Send(context.Background(), 1, "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, 1, "hi"); err == nil {
		t.Fatalf("expected context error")
	}
}
