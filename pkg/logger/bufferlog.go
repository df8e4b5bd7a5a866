// Package logger implements a per-request in-memory log buffer.
//
// Detail lines are buffered while a request is being served. On failure
// the buffer is replayed so the operator sees the full story behind the
// error; on success it is dropped and one short line is written instead.
//
// Thread safety comes from a dedicated logger goroutine fed over a
// command channel; no mutexes.
package logger

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	reqID   string
	message string // for Append
	summary string // for Success
	err     error  // for FlushError
	when    time.Time
}

var ch = make(chan cmd, 128) // headroom for request bursts

// Begin starts buffering detail lines for reqID.
func Begin(reqID string) { ch <- cmd{act: actBegin, reqID: reqID, when: time.Now()} }

// Append records one detail line. Lines for unknown request ids are
// written through immediately.
func Append(reqID, msg string) {
	ch <- cmd{act: actAppend, reqID: reqID, message: msg, when: time.Now()}
}

// Success drops the buffer and writes one short line.
func Success(reqID, summary string) {
	ch <- cmd{act: actSuccess, reqID: reqID, summary: summary, when: time.Now()}
}

// FlushError replays the buffered detail followed by the final error.
func FlushError(reqID string, err error) {
	ch <- cmd{act: actFlushErr, reqID: reqID, err: err, when: time.Now()}
}

// Tagged returns a printf-style function that funnels detail lines for
// reqID through the buffer. Packages that accept a Logf field (api,
// tiles, sensors) can be pointed at a request buffer this way.
func Tagged(reqID, component string) func(string, ...any) {
	return func(format string, v ...any) {
		Append(reqID, fmt.Sprintf("[%-8s][%s] %s", reqID, component, fmt.Sprintf(format, v...)))
	}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.reqID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.reqID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			log.Printf("[%-8s] ✔ %s", c.reqID, c.summary)
			delete(buffers, c.reqID)

		case actFlushErr:
			if b := buffers[c.reqID]; b != nil {
				lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
				for _, ln := range lines {
					log.Print(ln)
				}
				delete(buffers, c.reqID)
			}
			log.Printf("[%-8s][ERROR] %v", c.reqID, c.err)
		}
	}
}
