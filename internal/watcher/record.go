package watcher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// Raw change actions as reported in FILE_NOTIFY_INFORMATION.Action.
const (
	ActionAdded          uint32 = 1
	ActionRemoved        uint32 = 2
	ActionModified       uint32 = 3
	ActionRenamedOldName uint32 = 4
	ActionRenamedNewName uint32 = 5
)

// recordHeaderSize is NextEntryOffset, Action and FileNameLength, each a uint32.
const recordHeaderSize = 12

// ErrMalformedRecord is returned when a change buffer cannot be decoded.
var ErrMalformedRecord = errors.New("malformed change record")

// Record is one entry of a change buffer.
type Record struct {
	// Action is the raw action code.
	Action uint32

	// Name is the changed entry relative to the watched directory.
	Name string
}

// DecodeRecords walks a buffer of FILE_NOTIFY_INFORMATION entries:
//
//	NextEntryOffset uint32  // 0 on the last entry
//	Action          uint32
//	FileNameLength  uint32  // in bytes
//	FileName        [FileNameLength / 2]uint16
//
// Every offset and length is checked against the buffer; a corrupt buffer
// yields the records decoded so far and an error wrapping ErrMalformedRecord.
func DecodeRecords(buf []byte) ([]Record, error) {
	var records []Record
	offset := 0

	for {
		if len(buf)-offset < recordHeaderSize {
			return records, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedRecord, offset)
		}
		entry := buf[offset:]
		next := binary.LittleEndian.Uint32(entry[0:4])
		action := binary.LittleEndian.Uint32(entry[4:8])
		nameLen := binary.LittleEndian.Uint32(entry[8:12])

		if nameLen%2 != 0 {
			return records, fmt.Errorf("%w: odd name length %d at offset %d", ErrMalformedRecord, nameLen, offset)
		}
		if uint64(nameLen) > uint64(len(entry)-recordHeaderSize) {
			return records, fmt.Errorf("%w: name of %d bytes overruns buffer at offset %d", ErrMalformedRecord, nameLen, offset)
		}

		units := make([]uint16, nameLen/2)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(entry[recordHeaderSize+2*i:])
		}
		records = append(records, Record{Action: action, Name: string(utf16.Decode(units))})

		if next == 0 {
			return records, nil
		}
		if next%4 != 0 || uint64(next) < recordHeaderSize+uint64(nameLen) || uint64(next) >= uint64(len(entry)) {
			return records, fmt.Errorf("%w: bad next offset %d at offset %d", ErrMalformedRecord, next, offset)
		}
		offset += int(next)
	}
}

// EncodeRecords writes records into buf in the layout DecodeRecords reads,
// each entry aligned to 4 bytes. It returns the number of bytes used, or
// false if the records do not fit, which is how the OS signals an overflow.
func EncodeRecords(records []Record, buf []byte) (int, bool) {
	if len(records) == 0 {
		return 0, true
	}

	offset := 0
	prev := -1
	for _, r := range records {
		units := utf16.Encode([]rune(r.Name))
		size := recordHeaderSize + 2*len(units)
		if offset+size > len(buf) {
			return 0, false
		}

		if prev >= 0 {
			binary.LittleEndian.PutUint32(buf[prev:], uint32(offset-prev))
		}
		binary.LittleEndian.PutUint32(buf[offset:], 0)
		binary.LittleEndian.PutUint32(buf[offset+4:], r.Action)
		binary.LittleEndian.PutUint32(buf[offset+8:], uint32(2*len(units)))
		for i, u := range units {
			binary.LittleEndian.PutUint16(buf[offset+recordHeaderSize+2*i:], u)
		}

		prev = offset
		offset += align4(size)
	}

	// The last entry needs no padding.
	end := prev + recordHeaderSize + int(binary.LittleEndian.Uint32(buf[prev+8:]))
	return end, true
}

func align4(n int) int {
	return (n + 3) &^ 3
}
