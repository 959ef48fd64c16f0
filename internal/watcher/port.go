package watcher

import "errors"

// wakeKey is the completion key of the packet posted by port.wake. Watch
// keys start at 1.
const wakeKey uint64 = 0

// errCancelled marks the completion of a read that was cancelled.
var errCancelled = errors.New("operation aborted")

// completion is the outcome of one armed read, or a wake-up when key is wakeKey.
type completion struct {
	key uint64
	n   uint32
	err error
}

// port is the OS completion facility the engine waits on. Every method
// except wake must be called from the engine goroutine.
type port interface {
	// open opens path for change reads. Completions of its reads carry key.
	open(path string, key uint64) (directory, error)

	// wait blocks until the next completion or wake-up.
	wait() (completion, error)

	// wake makes a blocked wait return a wakeKey completion. Safe from any goroutine.
	wake() error

	// separator joins a watched root and a decoded relative name.
	separator() string

	// close releases the port. No completions are delivered afterwards.
	close() error
}

// directory is one opened directory. At most one read is outstanding at a time.
type directory interface {
	// read arms an asynchronous change read into buf. The buffer belongs to
	// the OS until the matching completion is delivered.
	read(buf []byte) error

	// cancel asks the OS to abort the outstanding read. The aborted read
	// completes with errCancelled.
	cancel() error

	// close releases the handle.
	close() error
}
