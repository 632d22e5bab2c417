package core

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// logHeader is written once at the start of a fresh log file. Bare
// host-endian, host-width integers aren't portable across architectures,
// so this codec fixes the width/endianness to little-endian uint32 and
// adds a magic/version prefix, keeping the rest of the per-record framing
// unchanged, so a corrupt or foreign file is rejected outright instead of
// being mis-decoded as a record with an absurd size.
var logHeader = [8]byte{'R', 'V', 'M', 'L', 'O', 'G', 0, 1} // magic "RVMLOG" + version 1

// writeLogHeader writes the header; callers only do this once, right
// after creating a brand new (empty) log file.
func writeLogHeader(w io.Writer) error {
	_, err := w.Write(logHeader[:])
	return err
}

// consumeLogHeader reads and validates the header from a freshly opened
// log file. ok is false if the header is missing or does not match, in
// which case the file should be treated as having no recoverable records.
func consumeLogHeader(r io.Reader) (ok bool, err error) {
	var got [8]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		if isShortRead(err) {
			return false, nil
		}
		return false, err
	}
	return got == logHeader, nil
}

// encodeLogRecord frames one record as:
//
//	int32  name_length          // N, not including the NUL terminator
//	byte[N+1] name               // name followed by one zero byte
//	int32  offset
//	int32  size                  // S
//	byte[S] payload
//
// matching the documented on-disk layout, with fixed-width little-endian
// integers instead of host-width ones.
func encodeLogRecord(segName string, offset, size int, payload []byte) []byte {
	nameField := make([]byte, len(segName)+1) // name + NUL
	copy(nameField, segName)

	buf := make([]byte, 4+len(nameField)+4+4+len(payload))
	b := buf

	binary.LittleEndian.PutUint32(b, uint32(len(segName)))
	b = b[4:]

	copy(b, nameField)
	b = b[len(nameField):]

	binary.LittleEndian.PutUint32(b, uint32(offset))
	b = b[4:]

	binary.LittleEndian.PutUint32(b, uint32(size))
	b = b[4:]

	copy(b, payload)

	return buf
}

// decodedRecord is one successfully decoded LogRecord.
type decodedRecord struct {
	segName string
	offset  int
	size    int
	payload []byte
}

// logRecordDecoder reads a sequence of LogRecords off r, stopping silently
// at the first short read (a truncated trailing record from a crash
// mid-commit) or at a clean EOF between records. It never returns a
// decode error for those cases; err is only set for genuine I/O failures.
type logRecordDecoder struct {
	r   *bufio.Reader
	rec *decodedRecord
	err error
}

func newLogRecordDecoder(r io.Reader) *logRecordDecoder {
	return &logRecordDecoder{r: bufio.NewReader(r)}
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// next decodes the next record into d.rec and reports whether it
// succeeded. Callers loop `for d.next() { use(d.rec) }` then check d.err.
func (d *logRecordDecoder) next() bool {
	if d.err != nil {
		return false
	}
	d.rec = nil

	var lenField [4]byte
	if _, err := io.ReadFull(d.r, lenField[:]); err != nil {
		if !isShortRead(err) {
			d.err = fmt.Errorf("read name length: %w", err)
		}
		return false
	}
	nameLen := binary.LittleEndian.Uint32(lenField[:])

	nameField := make([]byte, nameLen+1)
	if _, err := io.ReadFull(d.r, nameField); err != nil {
		if !isShortRead(err) {
			d.err = fmt.Errorf("read name: %w", err)
		}
		return false
	}

	var hdr [8]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		if !isShortRead(err) {
			d.err = fmt.Errorf("read offset/size: %w", err)
		}
		return false
	}
	offset := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	size := int32(binary.LittleEndian.Uint32(hdr[4:8]))
	if size < 0 {
		// an impossible size means we've lost sync with the stream; stop
		// here rather than trying to read a negative-length payload.
		return false
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if !isShortRead(err) {
			d.err = fmt.Errorf("read payload: %w", err)
		}
		return false
	}

	d.rec = &decodedRecord{
		segName: string(nameField[:nameLen]),
		offset:  int(offset),
		size:    int(size),
		payload: payload,
	}
	return true
}
