// Package leakcheck flags resources still alive once a test binary has
// finished: response bodies that were never drained and goroutines that
// outlive the tests.
package leakcheck

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"
)

var httpTracking atomic.Bool

// bodyRegistry records every wrapped response body until it has been fully
// read or closed.
type bodyRegistry struct {
	lock   sync.Mutex
	bodies map[*trackedBody]struct{}
}

var openBodies = bodyRegistry{bodies: make(map[*trackedBody]struct{})}

func (r *bodyRegistry) add(b *trackedBody) {
	r.lock.Lock()
	r.bodies[b] = struct{}{}
	r.lock.Unlock()
}

func (r *bodyRegistry) remove(b *trackedBody) {
	r.lock.Lock()
	delete(r.bodies, b)
	r.lock.Unlock()
}

func (r *bodyRegistry) snapshot() []*trackedBody {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]*trackedBody, 0, len(r.bodies))
	for b := range r.bodies {
		out = append(out, b)
	}
	return out
}

type trackedBody struct {
	parent io.ReadCloser
	stack  []byte
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.parent.Read(p)
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		openBodies.remove(b)
	}
	return n, err
}

func (b *trackedBody) Close() error {
	openBodies.remove(b)
	return b.parent.Close()
}

var _ io.ReadCloser = (*trackedBody)(nil)

// EnableAll turns on every tracker.  Call it before any request is issued.
func EnableAll() {
	httpTracking.Store(true)
}

// WrapHttpResponse registers the response body so one left unread and
// unclosed shows up in the final report.  With tracking off the response
// passes through untouched.
func WrapHttpResponse(resp *http.Response) *http.Response {
	if !httpTracking.Load() {
		return resp
	}

	body := &trackedBody{
		parent: resp.Body,
		stack:  debug.Stack(),
	}
	openBodies.add(body)

	resp.Body = body
	return resp
}

// ReportAll prints anything that leaked and reports whether the process
// finished clean.
func ReportAll() bool {
	ok := reportOpenBodies()
	if !reportStrayGoroutines() {
		ok = false
	}
	return ok
}

func reportOpenBodies() bool {
	leaked := openBodies.snapshot()
	if len(leaked) == 0 {
		log.Printf("No leaked http response bodies")
		return true
	}

	log.Printf("Found %d leaked http response bodies", len(leaked))
	for _, b := range leaked {
		log.Printf("Leaked response body acquired at: %s", b.stack)
	}
	return false
}

func reportStrayGoroutines() bool {
	// only the reporting goroutine may remain; everything else gets a grace
	// period to observe its shutdown signal before being called a leak
	const wantGoroutines = 1
	const settlePeriod = 1 * time.Second

	var count int
	deadline := time.Now().Add(settlePeriod)
	for {
		runtime.Gosched()

		count = runtime.NumGoroutine()
		if count == wantGoroutines || time.Now().After(deadline) {
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	if count != wantGoroutines {
		log.Printf("Detected stray goroutines (%d running, want %d)", count, wantGoroutines)
		_ = pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
		return false
	}

	log.Printf("No stray goroutines (%d running)", count)
	return true
}
