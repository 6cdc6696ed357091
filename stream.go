package idydb

import (
	"errors"
	"io"
	"os"
)

// mmapMaxSize caps the read-only memory-map fast path.
const mmapMaxSize = 0x1400000

// stream is the byte sequence the container reads and writes: the backing
// file itself for plaintext handles, or an anonymous plaintext stream for
// encrypted ones. The mmap fast path hides behind the same surface.
type stream interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
}

var errStreamReadOnly = errors.New("stream is read-only")

// fileStream adapts an *os.File to the stream surface.
type fileStream struct {
	f *os.File
}

func (s *fileStream) ReadAt(p []byte, off int64) (int, error)  { return s.f.ReadAt(p, off) }
func (s *fileStream) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }
func (s *fileStream) Truncate(size int64) error                { return s.f.Truncate(size) }

func (s *fileStream) Size() (int64, error) {
	st, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// mmapStream serves reads out of a read-only memory mapping. Writes never go
// through it; a handle only selects it for read-only plaintext opens.
type mmapStream struct {
	data []byte
}

func (s *mmapStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *mmapStream) WriteAt(p []byte, off int64) (int, error) { return 0, errStreamReadOnly }
func (s *mmapStream) Truncate(size int64) error                { return errStreamReadOnly }
func (s *mmapStream) Size() (int64, error)                     { return int64(len(s.data)), nil }

// securePlainStream creates the anonymous working storage for an encrypted
// handle: a kernel-backed object with no user-visible filesystem path.
// Preference order: anonymous in-memory file, then an unlinked temporary
// with mode 0600. The returned kind string is recorded for diagnostics.
func securePlainStream() (*os.File, string, error) {
	if f, err := memfdFile(); err == nil {
		return f, "memfd", nil
	}
	f, err := os.CreateTemp("", "idydb-plain-*")
	if err != nil {
		return nil, "", err
	}
	// Unlink immediately so the plaintext never has a reachable path.
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, "", err
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return nil, "", err
	}
	return f, "tmpfile", nil
}
