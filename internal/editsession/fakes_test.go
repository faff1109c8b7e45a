package editsession

import (
	"context"
	"sync"
	"time"

	"smartdocs/api/internal/store"

	"github.com/rs/zerolog"
)

type fakeTimer struct {
	owner   *fakeTimers
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{owner: ft, f: f}
	ft.timers = append(ft.timers, t)
	ft.delays = append(ft.delays, d)
	return t
}

func (ft *fakeTimers) Active() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Fire runs the most recent active timer callback synchronously.
func (ft *fakeTimers) Fire() bool {
	ft.mu.Lock()
	var target *fakeTimer
	for i := len(ft.timers) - 1; i >= 0; i-- {
		if t := ft.timers[i]; !t.stopped && !t.fired {
			target = t
			break
		}
	}
	if target == nil {
		ft.mu.Unlock()
		return false
	}
	target.fired = true
	ft.mu.Unlock()
	target.f()
	return true
}

// FireStopped runs the callback of the most recent stopped timer, as if it
// had already been dispatched when Stop was called.
func (ft *fakeTimers) FireStopped() {
	ft.mu.Lock()
	var target *fakeTimer
	for i := len(ft.timers) - 1; i >= 0; i-- {
		if ft.timers[i].stopped {
			target = ft.timers[i]
			break
		}
	}
	ft.mu.Unlock()
	if target != nil {
		target.f()
	}
}

type recorder struct {
	mu       sync.Mutex
	calls    []string
	blob     map[string]string
	appendFn func(ctx context.Context, content string) error
	putFn    func(ctx context.Context, content string) error
	touchFn  func(ctx context.Context) error
}

func newRecorder() *recorder {
	return &recorder{blob: map[string]string{}}
}

func (r *recorder) log(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Append(ctx context.Context, documentID, content string) (store.Version, error) {
	if r.appendFn != nil {
		if err := r.appendFn(ctx, content); err != nil {
			return store.Version{}, err
		}
	}
	r.log("version:" + content)
	return store.Version{ID: "v", DocumentID: documentID, Content: content, CreatedAt: time.Now()}, nil
}

func (r *recorder) Put(ctx context.Context, path string, data []byte, _ string, overwrite bool) error {
	if !overwrite {
		panic("edit saves must overwrite")
	}
	if r.putFn != nil {
		if err := r.putFn(ctx, string(data)); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.blob[path] = string(data)
	r.mu.Unlock()
	r.log("put:" + string(data))
	return nil
}

func (r *recorder) TouchDocumentContent(ctx context.Context, _, _ string, _ int64) error {
	if r.touchFn != nil {
		if err := r.touchFn(ctx); err != nil {
			return err
		}
	}
	r.log("touch")
	return nil
}

func (r *recorder) ReadText(_ context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blob[path], nil
}

func (r *recorder) deps() Deps {
	return Deps{Versions: r, Blobs: r, Records: r, Log: zerolog.Nop()}
}

var textDoc = store.Document{ID: "doc-1", OwnerID: "u1", Name: "notes.txt", MediaKind: "text", StoragePath: "u1/doc-1.txt"}

func newTestSession(r *recorder, timers *fakeTimers, content string) *Session {
	return newSession("s1", "u1", textDoc, content, r.deps(), Config{AfterFunc: timers.AfterFunc})
}

func equalCalls(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
