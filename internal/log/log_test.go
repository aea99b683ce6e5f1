package log

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"  warn\n", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"", 0, true},
		{"trace", 0, true},
		{"info error", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	_, err := ParseLevel("bogus")
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("error should name the bad input, got %v", err)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	l := &nopLogger{}
	ctx := WithContext(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Fatal("FromContext returned a different logger")
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	ctxs := map[string]context.Context{
		"empty":      context.Background(),
		"nil logger": context.WithValue(context.Background(), ctxKey{}, nil),
		"wrong type": context.WithValue(context.Background(), ctxKey{}, "not a logger"),
	}
	for name, ctx := range ctxs {
		t.Run(name, func(t *testing.T) {
			got := FromContext(ctx)
			if got == nil {
				t.Fatal("FromContext returned nil")
			}
			got.Info(ctx, "should not panic")
			got.With("k", "v").Error(ctx, nil, "should not panic")
			if err := got.Sync(); err != nil {
				t.Fatal(err)
			}
		})
	}
}
