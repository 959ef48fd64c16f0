package watcher

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFake = errors.New("fake os error")

type packet struct {
	c   completion
	err error
}

// fakePort is an in-memory completion port. Tests play the OS: they decide
// when reads complete and with what.
type fakePort struct {
	mu       sync.Mutex
	dirs     map[string]*fakeDir
	opened   []string
	openErr  map[string]error
	closed   bool
	packets  chan packet
	wakeErr  error
	waitFail chan error

	// closing is closed when close starts; close then blocks on
	// closeGate when one is set.
	closing   chan struct{}
	closeGate chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{
		dirs:     make(map[string]*fakeDir),
		openErr:  make(map[string]error),
		packets:  make(chan packet, 1024),
		waitFail: make(chan error, 1),
		closing:  make(chan struct{}),
	}
}

func (p *fakePort) open(path string, key uint64) (directory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, path)
	if err := p.openErr[path]; err != nil {
		return nil, err
	}
	d := &fakeDir{port: p, path: path, key: key}
	p.dirs[path] = d
	return d, nil
}

func (p *fakePort) wait() (completion, error) {
	select {
	case pk := <-p.packets:
		return pk.c, pk.err
	case err := <-p.waitFail:
		return completion{}, err
	}
}

func (p *fakePort) wake() error {
	p.mu.Lock()
	err := p.wakeErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-p.closing:
		return errFake
	default:
	}
	p.packets <- packet{c: completion{key: wakeKey}}
	return nil
}

func (p *fakePort) separator() string { return `\` }

func (p *fakePort) close() error {
	p.mu.Lock()
	close(p.closing)
	gate := p.closeGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePort) dir(t *testing.T, path string) *fakeDir {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.dirs[path]
	require.True(t, ok, "directory %s was never opened", path)
	return d
}

func (p *fakePort) openedPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.opened...)
}

// failWait makes the next wait return err.
func (p *fakePort) failWait(err error) {
	p.waitFail <- err
}

// fakeDir records what the engine does with one handle.
type fakeDir struct {
	port *fakePort
	path string
	key  uint64

	buf     []byte
	armed   bool
	reads   int
	cancels int
	closes  int

	readErr   error // returned by the next read
	cancelErr error
	closeErr  error
	// holdCancel suppresses the cancellation completion so a test can
	// deliver a data completion first.
	holdCancel bool
}

func (d *fakeDir) read(buf []byte) error {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()
	if err := d.readErr; err != nil {
		d.readErr = nil
		return err
	}
	d.reads++
	d.buf = buf
	d.armed = true
	return nil
}

func (d *fakeDir) cancel() error {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()
	d.cancels++
	if d.cancelErr != nil {
		return d.cancelErr
	}
	if d.armed && !d.holdCancel {
		d.armed = false
		d.port.packets <- packet{c: completion{key: d.key, err: errCancelled}}
	}
	return nil
}

func (d *fakeDir) close() error {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()
	d.closes++
	if d.closeErr != nil {
		return d.closeErr
	}
	if d.armed {
		d.armed = false
		d.port.packets <- packet{c: completion{key: d.key, err: errCancelled}}
	}
	return nil
}

func (d *fakeDir) set(fn func(d *fakeDir)) {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()
	fn(d)
}

func (d *fakeDir) counts() (reads, cancels, closes int) {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()
	return d.reads, d.cancels, d.closes
}

// awaitArmed waits until the engine has an outstanding read and takes it
// over, returning its buffer.
func (d *fakeDir) awaitArmed(t *testing.T) []byte {
	t.Helper()
	var buf []byte
	require.Eventually(t, func() bool {
		d.port.mu.Lock()
		defer d.port.mu.Unlock()
		if !d.armed {
			return false
		}
		d.armed = false
		buf = d.buf
		return true
	}, time.Second, time.Millisecond, "read on %s was never armed", d.path)
	return buf
}

// complete finishes the outstanding read with records.
func (d *fakeDir) complete(t *testing.T, records ...Record) {
	t.Helper()
	buf := d.awaitArmed(t)
	n, ok := EncodeRecords(records, buf)
	require.True(t, ok, "records do not fit the read buffer")
	d.port.packets <- packet{c: completion{key: d.key, n: uint32(n)}}
}

// completeRaw finishes the outstanding read with raw bytes.
func (d *fakeDir) completeRaw(t *testing.T, raw []byte) {
	t.Helper()
	buf := d.awaitArmed(t)
	n := copy(buf, raw)
	d.port.packets <- packet{c: completion{key: d.key, n: uint32(n)}}
}

// completeWith finishes the outstanding read with a byte count and error.
func (d *fakeDir) completeWith(t *testing.T, n uint32, err error) {
	t.Helper()
	d.awaitArmed(t)
	d.port.packets <- packet{c: completion{key: d.key, n: n, err: err}}
}

// recordingSink collects everything the engine reports.
type recordingSink struct {
	mu        sync.Mutex
	events    []Event
	finalized []string
}

func (s *recordingSink) OnEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) OnWatchFinalized(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, path)
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSink) Finalized() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.finalized...)
}

func (s *recordingSink) awaitEvents(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Events()) >= n }, time.Second, time.Millisecond,
		"expected %d events", n)
	return s.Events()
}

func (s *recordingSink) awaitFinalized(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Finalized()) >= n }, time.Second, time.Millisecond,
		"expected %d finalize notices", n)
	return s.Finalized()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BufferSize = MinBufferSize
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts.WithDefaults()
}

// newTestServer starts a server on a fake port and shuts it down at cleanup.
func newTestServer(t *testing.T) (*Server, *fakePort, *recordingSink) {
	t.Helper()
	fp := newFakePort()
	sink := &recordingSink{}
	srv := newServerWithPort(sink, testOptions(), fp)
	t.Cleanup(srv.Shutdown)
	return srv, fp, sink
}
