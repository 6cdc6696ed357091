//go:build idydb_sizing_tiny

package idydb

// Sizing mode: tiny. Column and row ids are capped at 15.
const (
	sizingModeName = "tiny"

	columnPositionMax = 0x000F
	rowPositionMax    = 0x000F

	allowUnsafe = false
)
