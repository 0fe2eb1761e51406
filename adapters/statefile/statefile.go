// Package statefile reads and writes the versioned binary record files
// used for channel persistence. The format is deliberately simple: a
// uint32 format version, a uint64 record count, then each record
// bracketed by start/end magic words so a reader can detect where a
// half-written file stops making sense.
//
// Writers never touch the live file: they write <path>.tmp and rename
// over the original only after a successful flush, so a crash mid-save
// leaves the previous state intact. Readers treat truncation as a normal
// condition and report how much was recovered rather than failing.
package statefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// MagicRecordStart and MagicRecordEnd bracket every record.
	MagicRecordStart uint32 = 0x11111111
	MagicRecordEnd   uint32 = 0x22222222
)

// ErrTruncated is returned when a file ends mid-record. Everything read
// before it is valid.
var ErrTruncated = errors.New("statefile truncated")

// ErrBadMagic is returned when a record bracket does not match; the file
// is corrupt beyond the records already read.
var ErrBadMagic = errors.New("statefile record marker mismatch")

// Writer streams one statefile. All writes go to a temp file; Commit
// makes them visible, Abort throws them away.
type Writer struct {
	f       *os.File
	w       *bufio.Writer
	path    string
	tmp     string
	records uint64
	err     error
}

// NewWriter starts a statefile at path with the given format version. The
// parent directory is created if needed. The record count slot is written
// as zero here and patched with the real count at Commit.
func NewWriter(path string, version uint32) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("statefile dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("statefile create: %w", err)
	}
	w := &Writer{f: f, w: bufio.NewWriter(f), path: path, tmp: tmp}
	w.WriteUint32(version)
	w.WriteUint64(0)
	if w.err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, w.err
	}
	return w, nil
}

func (w *Writer) write(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

// WriteUint32 appends a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) { w.write(v) }

// WriteUint64 appends a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) { w.write(v) }

// WriteInt64 appends a little-endian int64 (timestamps).
func (w *Writer) WriteInt64(v int64) { w.write(v) }

// WriteString appends a uint16 length prefix followed by the bytes.
func (w *Writer) WriteString(s string) {
	if len(s) > 0xffff {
		s = s[:0xffff]
	}
	w.write(uint16(len(s)))
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}

// BeginRecord and EndRecord write the record brackets.
func (w *Writer) BeginRecord() {
	w.records++
	w.WriteUint32(MagicRecordStart)
}

// EndRecord closes the current record.
func (w *Writer) EndRecord() { w.WriteUint32(MagicRecordEnd) }

// Err returns the first write error, if any.
func (w *Writer) Err() error { return w.err }

// Commit flushes, closes and renames the temp file over the target. On
// any failure the temp file is removed and the previous file is left
// untouched.
func (w *Writer) Commit() error {
	if w.err == nil {
		w.err = w.w.Flush()
	}
	if w.err == nil {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], w.records)
		_, w.err = w.f.WriteAt(buf[:], 4)
	}
	if w.err == nil {
		w.err = w.f.Sync()
	}
	if cerr := w.f.Close(); w.err == nil {
		w.err = cerr
	}
	if w.err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("statefile write %s: %w", w.path, w.err)
	}
	if err := os.Rename(w.tmp, w.path); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("statefile rename: %w", err)
	}
	return nil
}

// Abort discards everything written so far.
func (w *Writer) Abort() {
	w.f.Close()
	os.Remove(w.tmp)
}

// Reader streams one statefile back in.
type Reader struct {
	f       *os.File
	r       *bufio.Reader
	version uint32
	records uint64
}

// OpenReader opens a statefile and checks its version against the newest
// format the caller understands.
func OpenReader(path string, maxVersion uint32) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{f: f, r: bufio.NewReader(f)}
	v, err := r.ReadUint32()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("statefile version: %w", err)
	}
	if v > maxVersion {
		f.Close()
		return nil, fmt.Errorf("statefile %s: version %d newer than supported %d", path, v, maxVersion)
	}
	r.version = v
	if r.records, err = r.ReadUint64(); err != nil {
		f.Close()
		return nil, fmt.Errorf("statefile record count: %w", err)
	}
	return r, nil
}

// Version returns the file's format version.
func (r *Reader) Version() uint32 { return r.version }

// Records returns the record count from the file header.
func (r *Reader) Records() uint64 { return r.records }

// Close releases the file.
func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) read(v any) error {
	err := binary.Read(r.r, binary.LittleEndian, v)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	var v uint32
	return v, r.read(&v)
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	var v uint64
	return v, r.read(&v)
}

// ReadInt64 reads a little-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	var v int64
	return v, r.read(&v)
}

// ReadString reads a uint16-length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	var n uint16
	if err := r.read(&n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", ErrTruncated
		}
		return "", err
	}
	return string(buf), nil
}

// BeginRecord consumes and checks the record start marker.
func (r *Reader) BeginRecord() error { return r.expect(MagicRecordStart) }

// EndRecord consumes and checks the record end marker.
func (r *Reader) EndRecord() error { return r.expect(MagicRecordEnd) }

func (r *Reader) expect(magic uint32) error {
	v, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if v != magic {
		return fmt.Errorf("%w: got %#x, want %#x", ErrBadMagic, v, magic)
	}
	return nil
}
