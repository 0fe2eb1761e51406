package statefile

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.db")
}

func TestWriter_RoundTrip(t *testing.T) {
	path := tempPath(t)

	w, err := NewWriter(path, 3)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, name := range []string{"#go", "#irc"} {
		w.BeginRecord()
		w.WriteString(name)
		w.WriteInt64(1700000000)
		w.WriteUint32(42)
		w.EndRecord()
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := OpenReader(path, 3)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if r.Version() != 3 {
		t.Errorf("Version = %d, want 3", r.Version())
	}
	if r.Records() != 2 {
		t.Fatalf("Records = %d, want 2", r.Records())
	}
	var names []string
	for i := uint64(0); i < r.Records(); i++ {
		if err := r.BeginRecord(); err != nil {
			t.Fatalf("BeginRecord: %v", err)
		}
		name, err := r.ReadString()
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if ts, err := r.ReadInt64(); err != nil || ts != 1700000000 {
			t.Fatalf("ReadInt64 = %d, %v", ts, err)
		}
		if v, err := r.ReadUint32(); err != nil || v != 42 {
			t.Fatalf("ReadUint32 = %d, %v", v, err)
		}
		if err := r.EndRecord(); err != nil {
			t.Fatalf("EndRecord: %v", err)
		}
		names = append(names, name)
	}
	if names[0] != "#go" || names[1] != "#irc" {
		t.Errorf("names = %v", names)
	}
}

func TestWriter_EmptyFile(t *testing.T) {
	path := tempPath(t)
	w, _ := NewWriter(path, 1)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := OpenReader(path, 1)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if r.Records() != 0 {
		t.Fatalf("Records = %d, want 0", r.Records())
	}
}

func TestWriter_AbortLeavesPreviousFile(t *testing.T) {
	path := tempPath(t)

	w, _ := NewWriter(path, 1)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	before, _ := os.ReadFile(path)

	w2, _ := NewWriter(path, 1)
	w2.BeginRecord()
	w2.WriteString("#doomed")
	w2.Abort()

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("previous file gone: %v", err)
	}
	if string(before) != string(after) {
		t.Error("abort modified the live file")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestReader_Truncation(t *testing.T) {
	path := tempPath(t)
	w, _ := NewWriter(path, 1)
	w.BeginRecord()
	w.WriteString("#complete")
	w.EndRecord()
	w.BeginRecord()
	w.WriteString("#partial")
	// no EndRecord, simulating a crash mid-write
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := OpenReader(path, 1)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if r.Records() != 2 {
		t.Fatalf("Records = %d, want 2", r.Records())
	}

	if err := r.BeginRecord(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if name, err := r.ReadString(); err != nil || name != "#complete" {
		t.Fatalf("first ReadString = %q, %v", name, err)
	}
	if err := r.EndRecord(); err != nil {
		t.Fatalf("first EndRecord: %v", err)
	}

	r.BeginRecord()
	r.ReadString()
	if err := r.EndRecord(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestReader_BadMagic(t *testing.T) {
	path := tempPath(t)

	// version 1, one record, then garbage where a start marker belongs
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], 1)
	binary.LittleEndian.PutUint64(buf[4:], 1)
	binary.LittleEndian.PutUint32(buf[12:], 0xdeadbeef)
	if err := os.WriteFile(path, buf, 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := OpenReader(path, 1)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if err := r.BeginRecord(); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestOpenReader_FutureVersionRefused(t *testing.T) {
	path := tempPath(t)
	w, _ := NewWriter(path, 9)
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := OpenReader(path, 3); err == nil {
		t.Fatal("OpenReader accepted a future format version")
	}
}

func TestOpenReader_MissingFile(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "absent.db"), 1); !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestNewWriter_FailureLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "notadir")
	if err := os.WriteFile(blocker, []byte("x"), 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// The parent path is a regular file, so the writer cannot be set up.
	path := filepath.Join(blocker, "state.db")
	if _, err := NewWriter(path, 1); err == nil {
		t.Fatal("NewWriter succeeded under an unwritable parent")
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind after failed NewWriter: stat err = %v", err)
	}
}
