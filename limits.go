//go:build !idydb_sizing_tiny && !idydb_sizing_small

package idydb

// Sizing mode: big. Column and row ids span the full 16-bit domain and the
// unsafe flag is honored, allowing files larger than maxFileSize.
const (
	sizingModeName = "big"

	columnPositionMax = 0xFFFF
	rowPositionMax    = 0xFFFF

	allowUnsafe = true
)
