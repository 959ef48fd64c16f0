//go:build windows

package watcher

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

const notifyFilter = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
	windows.FILE_NOTIFY_CHANGE_DIR_NAME |
	windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
	windows.FILE_NOTIFY_CHANGE_SIZE |
	windows.FILE_NOTIFY_CHANGE_LAST_WRITE

// iocpPort waits on an I/O completion port. Each directory handle is
// associated with the port using its watch key as completion key.
type iocpPort struct {
	handle windows.Handle
}

func newPort(_ Options) (port, error) {
	h, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("create completion port: %w", err)
	}
	return &iocpPort{handle: h}, nil
}

func (p *iocpPort) open(path string, key uint64) (directory, error) {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateFile(name,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0)
	if err != nil {
		return nil, err
	}

	if _, err := windows.CreateIoCompletionPort(h, p.handle, uintptr(key), 0); err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("associate with completion port: %w", err)
	}

	return &iocpDirectory{handle: h, overlapped: new(windows.Overlapped)}, nil
}

func (p *iocpPort) wait() (completion, error) {
	var (
		n          uint32
		key        uintptr
		overlapped *windows.Overlapped
	)
	err := windows.GetQueuedCompletionStatus(p.handle, &n, &key, &overlapped, windows.INFINITE)
	if err != nil && overlapped == nil {
		// Nothing was dequeued: the port itself is broken.
		return completion{}, fmt.Errorf("wait for completion: %w", err)
	}

	c := completion{key: uint64(key), n: n}
	if err != nil {
		if errors.Is(err, windows.ERROR_OPERATION_ABORTED) {
			c.err = errCancelled
		} else {
			c.err = err
		}
	}
	return c, nil
}

func (p *iocpPort) wake() error {
	return windows.PostQueuedCompletionStatus(p.handle, 0, uintptr(wakeKey), nil)
}

func (p *iocpPort) separator() string {
	return `\`
}

func (p *iocpPort) close() error {
	return windows.CloseHandle(p.handle)
}

// iocpDirectory is a directory handle opened for overlapped change reads.
// The overlapped structure and the read buffer must stay put until the
// read completes; both are heap allocated and referenced by the watch point.
type iocpDirectory struct {
	handle     windows.Handle
	overlapped *windows.Overlapped
}

func (d *iocpDirectory) read(buf []byte) error {
	*d.overlapped = windows.Overlapped{}
	return windows.ReadDirectoryChanges(d.handle, &buf[0], uint32(len(buf)), true, notifyFilter, nil, d.overlapped, 0)
}

// cancel only aborts reads issued by the calling thread, which is why the
// engine goroutine is locked to its OS thread.
func (d *iocpDirectory) cancel() error {
	return windows.CancelIo(d.handle)
}

func (d *iocpDirectory) close() error {
	return windows.CloseHandle(d.handle)
}
