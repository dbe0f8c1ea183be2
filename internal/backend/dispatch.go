package backend

import (
	"errors"
	"time"
)

// ErrBackendTimeout is returned when the worker does not answer a call
// within the configured deadline.
var ErrBackendTimeout = errors.New("backend: call timed out")

// Dispatcher serializes every backend call through a single worker
// goroutine. Some backends misbehave under concurrent access from
// multiple callers; funneling all traffic through one goroutine keeps
// call/response pairing strict, at the cost of throughput. Calls that
// wait longer than the timeout fail with ErrBackendTimeout instead of
// blocking the caller forever.
type Dispatcher struct {
	inner   Knowledge
	jobs    chan func()
	timeout time.Duration
	quit    chan struct{}
}

// NewDispatcher wraps inner with a single-worker call queue.
func NewDispatcher(inner Knowledge, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	d := &Dispatcher{
		inner:   inner,
		jobs:    make(chan func()),
		timeout: timeout,
		quit:    make(chan struct{}),
	}
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	for {
		select {
		case job := <-d.jobs:
			job()
		case <-d.quit:
			return
		}
	}
}

// Close stops the worker. In-flight calls complete; later calls time out.
func (d *Dispatcher) Close() {
	close(d.quit)
}

// call runs f on the worker goroutine and waits for completion.
func (d *Dispatcher) call(f func()) error {
	done := make(chan struct{})
	wrapped := func() {
		f()
		close(done)
	}

	deadline := time.NewTimer(d.timeout)
	defer deadline.Stop()

	select {
	case d.jobs <- wrapped:
	case <-deadline.C:
		return ErrBackendTimeout
	case <-d.quit:
		return ErrBackendTimeout
	}

	select {
	case <-done:
		return nil
	case <-deadline.C:
		return ErrBackendTimeout
	}
}

// ─── Knowledge passthrough ───────────────────────────────────────────────────

func (d *Dispatcher) Health() bool {
	ok := false
	if err := d.call(func() { ok = d.inner.Health() }); err != nil {
		return false
	}
	return ok
}

func (d *Dispatcher) Find(query string, limit int) (Response, error) {
	var resp Response
	var err error
	if cerr := d.call(func() { resp, err = d.inner.Find(query, limit) }); cerr != nil {
		return Response{}, cerr
	}
	return resp, err
}

func (d *Dispatcher) Search(query string, limit int, sessionID string) (Response, error) {
	var resp Response
	var err error
	if cerr := d.call(func() { resp, err = d.inner.Search(query, limit, sessionID) }); cerr != nil {
		return Response{}, cerr
	}
	return resp, err
}

func (d *Dispatcher) Abstract(uri string) (string, error) {
	return d.text(func() (string, error) { return d.inner.Abstract(uri) })
}

func (d *Dispatcher) Overview(uri string) (string, error) {
	return d.text(func() (string, error) { return d.inner.Overview(uri) })
}

func (d *Dispatcher) Read(uri string) (string, error) {
	return d.text(func() (string, error) { return d.inner.Read(uri) })
}

func (d *Dispatcher) text(f func() (string, error)) (string, error) {
	var v string
	var err error
	if cerr := d.call(func() { v, err = f() }); cerr != nil {
		return "", cerr
	}
	return v, err
}

func (d *Dispatcher) Ingest(content, title string, metadata map[string]string) (string, error) {
	return d.text(func() (string, error) { return d.inner.Ingest(content, title, metadata) })
}

func (d *Dispatcher) Delete(uri string) (bool, error) {
	var ok bool
	var err error
	if cerr := d.call(func() { ok, err = d.inner.Delete(uri) }); cerr != nil {
		return false, cerr
	}
	return ok, err
}

func (d *Dispatcher) ListResources(prefix string) ([]string, error) {
	var uris []string
	var err error
	if cerr := d.call(func() { uris, err = d.inner.ListResources(prefix) }); cerr != nil {
		return nil, cerr
	}
	return uris, err
}

func (d *Dispatcher) CreateSession() (string, error) {
	return d.text(func() (string, error) { return d.inner.CreateSession() })
}

func (d *Dispatcher) AddMessage(sessionID, role, text string) error {
	var err error
	if cerr := d.call(func() { err = d.inner.AddMessage(sessionID, role, text) }); cerr != nil {
		return cerr
	}
	return err
}

func (d *Dispatcher) MarkUsed(sessionID string, uris []string) error {
	var err error
	if cerr := d.call(func() { err = d.inner.MarkUsed(sessionID, uris) }); cerr != nil {
		return cerr
	}
	return err
}

func (d *Dispatcher) Commit(sessionID string) (CommitResult, error) {
	var res CommitResult
	var err error
	if cerr := d.call(func() { res, err = d.inner.Commit(sessionID) }); cerr != nil {
		return CommitResult{}, cerr
	}
	return res, err
}
