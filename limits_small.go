//go:build idydb_sizing_small

package idydb

// Sizing mode: small. Column and row ids are capped at 255.
const (
	sizingModeName = "small"

	columnPositionMax = 0x00FF
	rowPositionMax    = 0x00FF

	allowUnsafe = false
)
