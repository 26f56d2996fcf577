package logger

import (
	"bytes"
	"strings"
	"testing"

	"hello_gateway/internal/shared/types"
)

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	if err := initWithWriter(types.LogConf{Level: "warn"}, &buf); err != nil {
		t.Fatalf("initWithWriter() returned an error: %v", err)
	}

	Info().Msg("should be filtered")
	Warn().Str("client_address", "10.0.0.5").Msg("should be written")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("info message leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "should be written") || !strings.Contains(out, "10.0.0.5") {
		t.Errorf("warn message missing from output: %q", out)
	}
}

func TestInit_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	if err := initWithWriter(types.LogConf{Level: "chatty"}, &buf); err != nil {
		t.Fatalf("initWithWriter() returned an error: %v", err)
	}

	Debug().Msg("debug line")
	Info().Msg("info line")

	out := buf.String()
	if strings.Contains(out, "debug line") {
		t.Errorf("debug message written at default info level: %q", out)
	}
	if !strings.Contains(out, "info line") {
		t.Errorf("info message missing: %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	if err := initWithWriter(types.LogConf{Level: "info"}, &buf); err != nil {
		t.Fatalf("initWithWriter() returned an error: %v", err)
	}

	l := WithComponent("acceptor")
	l.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, "component=") || !strings.Contains(out, "acceptor") {
		t.Errorf("expected component field in %q", out)
	}
}
