package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONIncludesAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.With("layer", "attn.0").Info("rope cache built", "positions", 4096)

	out := buf.String()
	for _, want := range []string{`"msg":"rope cache built"`, `"layer":"attn.0"`, `"positions":4096`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	// Must not panic and must accept every level.
	log := Discard()
	log.Error("dropped", "k", 1)
	log.With("a", 1).WithGroup("g").Debug("dropped")
}

func TestPrettyFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug, false)
	log.Debug("rebuilt", "alpha", 3.0, "note", "two words")

	out := buf.String()
	if !strings.Contains(out, " DBG rebuilt") {
		t.Fatalf("unexpected level/message layout: %q", out)
	}
	if !strings.Contains(out, "alpha=3") {
		t.Fatalf("missing alpha attr: %q", out)
	}
	if !strings.Contains(out, `note="two words"`) {
		t.Fatalf("expected quoted value: %q", out)
	}
	if strings.Contains(out, ansiReset) {
		t.Fatalf("color disabled but escape codes written: %q", out)
	}
}

func TestPrettyGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo, false)
	log.WithGroup("a").With("x", 1).WithGroup("b").Info("nested", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "a.x=1") || !strings.Contains(out, "a.b.k=v") {
		t.Fatalf("group prefixes missing: %q", out)
	}
}

func TestPrettyEmptyGroupIsIdentity(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, PrettyOptions{})
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("WithGroup(\"\") should return the same handler")
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("default level should be info")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("context logger not used: %q", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext must fall back to a default logger")
	}
}

func TestForFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	for _, f := range []string{"pretty", "json", "text", ""} {
		if _, err := ForFormat(&buf, f, slog.LevelInfo); err != nil {
			t.Fatalf("ForFormat(%q): %v", f, err)
		}
	}
	if _, err := ForFormat(&buf, "xml", slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err=%v, wantErr=%v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
