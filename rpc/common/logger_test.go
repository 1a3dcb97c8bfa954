package common

import (
	"bytes"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
)

func newTestLogger(out io.Writer) *dLockLogger {
	l := &dLockLogger{name: "test", logger: log.New(out, "", 0)}
	l.SetLevel(logger.INFO)
	return l
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("debug line written at INFO level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "INFO  | test") || !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("unexpected output: %q", buf.String())
	}

	buf.Reset()
	l.SetLevel(logger.ERROR)
	l.Warningf("hidden")
	l.Errorf("failed")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "ERROR | test") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestLoggerSetLevelWhileLogging(t *testing.T) {
	l := newTestLogger(io.Discard)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Debugf("line %d", j)
				l.Infof("line %d", j)
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		if j%2 == 0 {
			l.SetLevel(logger.DEBUG)
		} else {
			l.SetLevel(logger.WARNING)
		}
	}
	wg.Wait()

	l.SetLevel(logger.WARNING)
	if l.enabled(logger.INFO) {
		t.Errorf("INFO enabled at WARNING level")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
