//go:build !windows

package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

var (
	errPortClosed       = errors.New("completion port closed")
	errDirectoryClosed  = errors.New("directory handle closed")
	errDirectoryRemoved = errors.New("watched directory was removed")
)

// notifyPort provides the completion contract on top of fsnotify. fsnotify
// watches single directories, so every root is watched together with its
// subdirectories, and changes are held per root until a read is armed.
//
// Completions go to an unbounded queue: the engine both consumes completions
// and produces them (cancel, wake), so a bounded channel could block it on
// itself.
type notifyPort struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu     sync.Mutex
	dirs   map[uint64]*notifyDirectory
	refs   map[string]int // fsnotify watches shared between roots
	queue  []completion
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newPort(opts Options) (port, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	p := &notifyPort{
		watcher: w,
		logger:  opts.Logger,
		dirs:    make(map[uint64]*notifyDirectory),
		refs:    make(map[string]int),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	go p.pump()
	return p, nil
}

func (p *notifyPort) open(path string, key uint64) (directory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}

	d := &notifyDirectory{
		port:  p,
		root:  filepath.Clean(path),
		key:   key,
		paths: make(map[string]struct{}),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errPortClosed
	}
	if err := p.addTree(d, d.root); err != nil {
		p.dropWatches(d)
		return nil, err
	}
	p.dirs[key] = d
	return d, nil
}

func (p *notifyPort) wait() (completion, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			c := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return c, nil
		}
		closed := p.closed
		p.mu.Unlock()

		if closed {
			return completion{}, errPortClosed
		}
		<-p.signal
	}
}

func (p *notifyPort) wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPortClosed
	}
	p.pushLocked(completion{key: wakeKey})
	return nil
}

func (p *notifyPort) separator() string {
	return string(filepath.Separator)
}

func (p *notifyPort) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.notify()
	err := p.watcher.Close()
	<-p.done
	return err
}

func (p *notifyPort) pushLocked(c completion) {
	p.queue = append(p.queue, c)
	p.notify()
}

func (p *notifyPort) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// addTree watches dir and every directory below it on behalf of d.
func (p *notifyPort) addTree(d *notifyDirectory, dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Subtrees that vanish or are unreadable are skipped.
			return filepath.SkipDir
		}
		if !entry.IsDir() {
			return nil
		}
		return p.addWatch(d, path)
	})
}

func (p *notifyPort) addWatch(d *notifyDirectory, path string) error {
	if _, ok := d.paths[path]; ok {
		return nil
	}
	if p.refs[path] == 0 {
		if err := p.watcher.Add(path); err != nil {
			return err
		}
	}
	p.refs[path]++
	d.paths[path] = struct{}{}
	return nil
}

func (p *notifyPort) dropWatches(d *notifyDirectory) {
	for path := range d.paths {
		p.releaseWatch(path)
	}
	d.paths = make(map[string]struct{})
}

func (p *notifyPort) releaseWatch(path string) {
	p.refs[path]--
	if p.refs[path] <= 0 {
		delete(p.refs, path)
		_ = p.watcher.Remove(path)
	}
}

func (p *notifyPort) pump() {
	defer close(p.done)
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleEvent(ev)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.handleError(err)
		}
	}
}

func (p *notifyPort) handleEvent(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// fsnotify drops its watch on a removed directory by itself.
		if _, ok := p.refs[name]; ok {
			delete(p.refs, name)
			for _, d := range p.dirs {
				delete(d.paths, name)
			}
		}
	}

	for _, d := range p.dirs {
		if d.closed {
			continue
		}
		if name == d.root {
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				d.failed = errDirectoryRemoved
				d.flushLocked()
			}
			continue
		}
		if !strings.HasPrefix(name, d.root+string(filepath.Separator)) {
			continue
		}

		rel, err := filepath.Rel(d.root, name)
		if err != nil {
			continue
		}
		if ev.Has(fsnotify.Create) {
			if info, err := os.Lstat(name); err == nil && info.IsDir() {
				if err := p.addTree(d, name); err != nil {
					p.logger.Debug("couldn't watch new directory",
						slog.String("path", name),
						slog.String("error", err.Error()))
				}
			}
		}
		for _, action := range actionsFor(ev.Op) {
			d.pending = append(d.pending, Record{Action: action, Name: rel})
		}
		d.flushLocked()
	}
}

func (p *notifyPort) handleError(err error) {
	if !errors.Is(err, fsnotify.ErrEventOverflow) {
		p.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.dirs {
		d.overflow = true
		d.flushLocked()
	}
}

// actionsFor maps fsnotify operations to change actions, one per set bit.
func actionsFor(op fsnotify.Op) []uint32 {
	var actions []uint32
	if op.Has(fsnotify.Create) {
		actions = append(actions, ActionAdded)
	}
	if op.Has(fsnotify.Remove) {
		actions = append(actions, ActionRemoved)
	}
	if op.Has(fsnotify.Rename) {
		actions = append(actions, ActionRenamedOldName)
	}
	if op.Has(fsnotify.Write) || op.Has(fsnotify.Chmod) {
		actions = append(actions, ActionModified)
	}
	return actions
}

// notifyDirectory holds the changes of one root until its read is armed.
// All fields are guarded by port.mu.
type notifyDirectory struct {
	port  *notifyPort
	root  string
	key   uint64
	paths map[string]struct{}

	buf      []byte // armed read buffer, nil when no read is outstanding
	pending  []Record
	overflow bool

	failed          error
	failedDelivered bool
	closed          bool
}

func (d *notifyDirectory) read(buf []byte) error {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()

	if d.closed {
		return errDirectoryClosed
	}
	if d.failed != nil && d.failedDelivered {
		return d.failed
	}
	if d.buf != nil {
		return errors.New("read already outstanding")
	}
	d.buf = buf
	d.flushLocked()
	return nil
}

func (d *notifyDirectory) cancel() error {
	d.port.mu.Lock()
	defer d.port.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}
	d.abortLocked()
	return nil
}

func (d *notifyDirectory) close() error {
	p := d.port
	p.mu.Lock()
	defer p.mu.Unlock()

	if d.closed {
		return errDirectoryClosed
	}
	// Closing the handle aborts an outstanding read.
	d.abortLocked()
	d.closed = true
	d.pending = nil
	delete(p.dirs, d.key)
	p.dropWatches(d)
	return nil
}

func (d *notifyDirectory) abortLocked() {
	if d.buf == nil {
		return
	}
	d.buf = nil
	d.port.pushLocked(completion{key: d.key, err: errCancelled})
}

// flushLocked completes the armed read if there is anything to report.
func (d *notifyDirectory) flushLocked() {
	if d.buf == nil {
		return
	}

	switch {
	case d.failed != nil:
		d.failedDelivered = true
		d.port.pushLocked(completion{key: d.key, err: d.failed})
	case d.overflow:
		d.overflow = false
		d.pending = nil
		d.port.pushLocked(completion{key: d.key})
	case len(d.pending) > 0:
		n, ok := EncodeRecords(d.pending, d.buf)
		if !ok {
			n = 0
		}
		d.pending = nil
		d.port.pushLocked(completion{key: d.key, n: uint32(n)})
	default:
		return
	}
	d.buf = nil
}
