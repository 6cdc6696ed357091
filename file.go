package idydb

import (
	"os"

	"github.com/gofrs/flock"
)

// Flag composes the open behavior of a handle.
type Flag int

const (
	// FlagCreate creates the database file if it does not exist.
	FlagCreate Flag = 1 << iota
	// FlagReadOnly opens the database for reading only and takes a shared
	// lock instead of an exclusive one.
	FlagReadOnly
	// FlagUnsafe discards the sizing-mode file-size bound. Only available when
	// the library is built in the big sizing mode; in the other modes the open
	// fails with StatusError.
	FlagUnsafe
)

// backingFile is the process-exclusive byte container behind a handle.
type backingFile struct {
	f    *os.File
	lk   *flock.Flock
	path string
}

// openBackingFile opens and locks the backing file. mustExist selects the
// StatusNotFound path for a missing file; otherwise the open itself decides
// (StatusPerm when the file cannot be opened, StatusBusy when the advisory
// lock is held elsewhere).
func openBackingFile(path string, readonly, create, mustExist bool) (*backingFile, Status) {
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if !exists && mustExist {
		return nil, StatusNotFound
	}

	var f *os.File
	var err error
	if readonly {
		f, err = os.Open(path)
	} else if create && !exists {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR, 0)
	}
	if err != nil {
		return nil, StatusPerm
	}

	lk := flock.New(path)
	var locked bool
	if readonly {
		locked, err = lk.TryRLock()
	} else {
		locked, err = lk.TryLock()
	}
	if err != nil || !locked {
		f.Close()
		return nil, StatusBusy
	}
	return &backingFile{f: f, lk: lk, path: path}, StatusSuccess
}

func (b *backingFile) size() (int64, error) {
	st, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// readAll reads the entire backing file.
func (b *backingFile) readAll() ([]byte, error) {
	sz, err := b.size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, sz)
	if sz == 0 {
		return buf, nil
	}
	if _, err := b.f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// close releases the advisory lock and the descriptor.
func (b *backingFile) close() {
	if b == nil {
		return
	}
	if b.lk != nil {
		b.lk.Unlock()
	}
	if b.f != nil {
		b.f.Close()
	}
}

// maxFileSize is the largest file the current sizing mode can address: every
// cell holding a maximum-length string, plus segment headers for the rest of
// the row domain, plus one partition-and-segment header per column.
func maxFileSize() int64 {
	insertion := int64(columnPositionMax) * int64(rowPositionMax) * int64(maxCharLength-1)
	if rowPositionMax > 1 {
		insertion += int64(columnPositionMax) * int64(rowPositionMax) * segmentHeaderSize
	}
	return insertion + int64(columnPositionMax)*(partitionHeaderSize+segmentHeaderSize)
}
