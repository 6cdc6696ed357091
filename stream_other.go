//go:build !linux

package idydb

import (
	"errors"
	"os"
)

// memfdFile is unavailable off Linux; securePlainStream falls back to an
// unlinked temporary.
func memfdFile() (*os.File, error) {
	return nil, errors.New("memfd not supported on this platform")
}

func mmapReadOnly(f *os.File, size int64) ([]byte, bool) {
	return nil, false
}

func munmap(data []byte) {}
