//go:build linux

package idydb

import (
	"os"

	"golang.org/x/sys/unix"
)

// memfdFile creates an anonymous RAM-backed file descriptor.
func memfdFile() (*os.File, error) {
	fd, err := unix.MemfdCreate("idydb_plain", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "idydb_plain"), nil
}

// mmapReadOnly maps the file read-only. A failed map is not an error; the
// caller falls back to positioned reads.
func mmapReadOnly(f *os.File, size int64) ([]byte, bool) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, false
	}
	return data, true
}

func munmap(data []byte) {
	_ = unix.Munmap(data)
}
