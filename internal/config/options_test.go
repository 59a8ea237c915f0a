package config

import (
	"flag"
	"testing"
	"time"
)

func TestAddServerOptionsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts := AddServerOptions(fs, 9100)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}
	if opts.Port != 9100 {
		t.Fatalf("port = %d, want 9100", opts.Port)
	}
	if got := opts.BufferingTime(); got != 2*time.Second {
		t.Fatalf("buffering = %v, want 2s", got)
	}
}

func TestBufferingTime(t *testing.T) {
	cases := []struct {
		buffer float64
		want   time.Duration
	}{
		{0, 0},
		{-1, 0},
		{0.5, 500 * time.Millisecond},
		{2, 2 * time.Second},
	}
	for _, c := range cases {
		opts := &ServerOptions{Buffer: c.buffer}
		if got := opts.BufferingTime(); got != c.want {
			t.Errorf("buffer %g: got %v, want %v", c.buffer, got, c.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := parseLevel("verbose"); err == nil {
		t.Fatal("unknown level should error")
	}
	for _, s := range []string{"debug", "info", "warn", "warning", "error", ""} {
		if _, err := parseLevel(s); err != nil {
			t.Errorf("level %q: %v", s, err)
		}
	}
}
