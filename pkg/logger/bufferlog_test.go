package logger

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer lets the test read what the logger goroutine wrote.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls the captured output until sub appears or the deadline
// passes; the logger goroutine is asynchronous on purpose.
func waitFor(t *testing.T, b *syncBuffer, sub string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if out := b.String(); strings.Contains(out, sub) {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("log output never contained %q; got:\n%s", sub, b.String())
	return ""
}

// TestErrorReplaysBuffer checks that detail lines appear only when the
// request fails.
func TestErrorReplaysBuffer(t *testing.T) {
	out := &syncBuffer{}
	prev := log.Writer()
	log.SetOutput(out)
	defer log.SetOutput(prev)

	Begin("req-err")
	Append("req-err", "opening csv")
	Append("req-err", "parsing header")
	FlushError("req-err", errors.New("mangled header"))

	got := waitFor(t, out, "mangled header")
	for _, want := range []string{"opening csv", "parsing header", "[ERROR]"} {
		if !strings.Contains(got, want) {
			t.Errorf("replayed output missing %q:\n%s", want, got)
		}
	}
}

// TestSuccessDropsBuffer checks the quiet path: one summary line, no
// detail.
func TestSuccessDropsBuffer(t *testing.T) {
	out := &syncBuffer{}
	prev := log.Writer()
	log.SetOutput(out)
	defer log.SetOutput(prev)

	Begin("req-ok")
	Append("req-ok", "detail that should vanish")
	Success("req-ok", "series s1/soil_moisture: 4 points")

	got := waitFor(t, out, "4 points")
	if strings.Contains(got, "detail that should vanish") {
		t.Errorf("success replayed buffered detail:\n%s", got)
	}
}

// TestTaggedWritesThrough covers lines for ids nobody began buffering.
func TestTaggedWritesThrough(t *testing.T) {
	out := &syncBuffer{}
	prev := log.Writer()
	log.SetOutput(out)
	defer log.SetOutput(prev)

	Tagged("stray", "TILES")("pyramid scan took %dms", 3)
	got := waitFor(t, out, "pyramid scan took 3ms")
	if !strings.Contains(got, "[TILES]") {
		t.Errorf("tag missing:\n%s", got)
	}
}
