// Package pathnorm classifies Windows paths and rewrites them to and from the
// extended-length form (\\?\ and \\?\UNC\) needed to address paths longer than
// the traditional limit.
//
// All functions are pure and operate on the path text only; nothing here
// touches the filesystem, so the package behaves identically on every OS.
package pathnorm

import (
	"strings"
	"unicode/utf16"
)

// MaxShortPathLength is the longest path, in UTF-16 code units, that is passed
// to the OS unchanged. MAX_PATH is 260, but several directory APIs stop at 240,
// so the lower bound covers both.
const MaxShortPathLength = 240

const (
	// ExtendedPrefix is the prefix for extended-length local paths.
	ExtendedPrefix = `\\?\`
	// ExtendedUNCPrefix is the prefix for extended-length UNC paths.
	ExtendedUNCPrefix = `\\?\UNC\`
	uncPrefix         = `\\`
)

// Kind is the shape of a path as far as long-path rewriting is concerned.
type Kind int

const (
	// KindOther is any path that is neither local absolute nor UNC absolute.
	KindOther Kind = iota
	// KindLocalAbsolute is a drive-letter path such as C:\dir.
	KindLocalAbsolute
	// KindUNCAbsolute is a network path such as \\server\share\dir.
	KindUNCAbsolute
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindLocalAbsolute:
		return "local"
	case KindUNCAbsolute:
		return "unc"
	default:
		return "other"
	}
}

// Classify reports whether path is a local absolute path (X:\...), a UNC
// absolute path (\\...), or something else.
func Classify(path string) Kind {
	if len(path) < 3 {
		return KindOther
	}
	if isDriveLetter(path[0]) && path[1] == ':' && path[2] == '\\' {
		return KindLocalAbsolute
	}
	if path[0] == '\\' && path[1] == '\\' {
		return KindUNCAbsolute
	}
	return KindOther
}

func isDriveLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Length returns the length of path in UTF-16 code units, which is how the
// Windows path limits are expressed.
func Length(path string) int {
	n := 0
	for _, r := range path {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// HasExtendedPrefix reports whether path already carries \\?\ or \\?\UNC\.
func HasExtendedPrefix(path string) bool {
	return strings.HasPrefix(path, ExtendedPrefix)
}

// ToExtended rewrites path into extended-length form when it is longer than
// MaxShortPathLength:
//
//	C:\...             -> \\?\C:\...
//	\\server\share\... -> \\?\UNC\server\share\...
//
// Short paths, paths that are already extended and paths of any other shape
// are returned unchanged.
func ToExtended(path string) string {
	if Length(path) <= MaxShortPathLength || HasExtendedPrefix(path) {
		return path
	}

	switch Classify(path) {
	case KindLocalAbsolute:
		return ExtendedPrefix + path
	case KindUNCAbsolute:
		return ExtendedUNCPrefix + path[len(uncPrefix):]
	default:
		// Unknown format, don't guess.
		return path
	}
}

// StripExtended undoes ToExtended: \\?\UNC\ becomes \\ and \\?\ is dropped.
// Other paths are returned unchanged.
func StripExtended(path string) string {
	if strings.HasPrefix(path, ExtendedUNCPrefix) {
		return uncPrefix + path[len(ExtendedUNCPrefix):]
	}
	if strings.HasPrefix(path, ExtendedPrefix) {
		return path[len(ExtendedPrefix):]
	}
	return path
}
