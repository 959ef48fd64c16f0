// Package logging provides file-based logging with rotation for amanwatch.
//
// The foreground `watch` command logs to stderr and, with --debug, also to
// ~/.amanwatch/logs/watcher.log. The daemon has no terminal and logs to the
// file only. `amanwatch logs` reads the file back.
package logging
