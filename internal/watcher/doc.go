// Package watcher watches directory trees through the operating system's
// asynchronous change-notification facility and reports normalized events.
//
// All OS handles and read buffers are owned by a single engine goroutine that
// is locked to its OS thread: on Windows a pending ReadDirectoryChangesW
// request can only be cancelled by the thread that issued it. Callers never
// touch that state; Server turns their requests into commands queued to the
// engine, and the engine reports back through a Sink.
//
// Backends:
//   - Windows: ReadDirectoryChangesW on an I/O completion port (recursive)
//   - Elsewhere: fsnotify, driven through the same completion contract
//
// Usage:
//
//	srv, err := watcher.NewServer(watcher.SinkFuncs{
//	    Event: func(e watcher.Event) {
//	        switch e.Kind {
//	        case watcher.EventCreated:
//	            // Handle creation
//	        case watcher.EventInvalidate:
//	            // Changes were lost, rescan e.Path
//	        }
//	    },
//	    Finalized: func(path string) {},
//	}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer srv.Shutdown()
//
//	if err := srv.StartWatching(`C:\proj`); err != nil {
//	    return err
//	}
package watcher
