package idydb

import (
	"github.com/bits-and-blooms/bitset"
)

// FilterOp selects the predicate of a filter term.
type FilterOp uint8

const (
	FilterEq FilterOp = iota + 1
	FilterNeq
	FilterGt
	FilterGte
	FilterLt
	FilterLte
	FilterIsNull
	FilterIsNotNull
)

// FilterTerm is one predicate over a scalar column. Terms combine by AND.
// The comparison value field matching Type is the one consulted; a row whose
// stored kind differs from Type does not match. Vectors may only be tested
// for null-ness.
type FilterTerm struct {
	Column uint64
	Type   Type
	Op     FilterOp

	Int   int32
	Float float32
	Bool  bool
	Str   string
}

// Filter is a conjunction of terms. An empty filter matches every row.
type Filter struct {
	Terms []FilterTerm
}

// buildAllowedMask materializes the row mask of a filter: bit r is set when
// row r passes every term. A nil or empty filter returns a nil mask, which
// callers treat as all-pass. Bit 0 is never set; rows are 1-based.
func (db *DB) buildAllowedMask(f *Filter) (*bitset.BitSet, error) {
	if f == nil || len(f.Terms) == 0 {
		return nil, nil
	}
	var allowed *bitset.BitSet
	for i := range f.Terms {
		term, err := db.buildTermMask(&f.Terms[i])
		if err != nil {
			return nil, err
		}
		if allowed == nil {
			allowed = term
		} else {
			allowed.InPlaceIntersection(term)
		}
	}
	return allowed, nil
}

// buildTermMask scans the term's column once and sets bit r to the term's
// verdict for row r. Null-ness terms start from a full mask so rows the scan
// never visits stay matching; value terms start empty.
func (db *DB) buildTermMask(term *FilterTerm) (*bitset.BitSet, error) {
	if err := db.checkRange(term.Column, 1); err != nil {
		return nil, err
	}
	mask := bitset.New(rowPositionMax + 1)
	if term.Op == FilterIsNull {
		mask.FlipRange(1, rowPositionMax+1)
	}
	size, err := db.work.Size()
	if err != nil {
		return nil, db.fail(StatusError, msgReadFailed)
	}
	werr := db.walkPartitions(size, func(p *partitionRef) (bool, error) {
		if p.col > term.Column {
			return true, nil
		}
		if p.col < term.Column {
			return false, nil
		}
		serr := db.walkSegments(p, size, func(seg segmentRef) (bool, error) {
			if seg.row > rowPositionMax {
				return false, nil
			}
			match, merr := db.matchSegment(term, seg)
			if merr != nil {
				return false, merr
			}
			mask.SetTo(uint(seg.row), match)
			return false, nil
		})
		return true, serr
	})
	if werr != nil {
		return nil, werr
	}
	return mask, nil
}

// matchSegment evaluates a term against one stored segment.
func (db *DB) matchSegment(term *FilterTerm, seg segmentRef) (bool, error) {
	switch term.Op {
	case FilterIsNull:
		return false, nil
	case FilterIsNotNull:
		return true, nil
	}

	switch seg.tag {
	case tagBoolTrue, tagBoolFalse:
		if term.Type != TypeBool {
			return false, nil
		}
		return cmpBool(seg.tag == tagBoolTrue, term.Op, term.Bool), nil
	case tagInt:
		if term.Type != TypeInteger {
			return false, nil
		}
		var body [4]byte
		if err := db.readFull(body[:], seg.off+segmentHeaderSize); err != nil {
			return false, err
		}
		return cmpInt(getI32(body[:]), term.Op, term.Int), nil
	case tagFloat:
		if term.Type != TypeFloat {
			return false, nil
		}
		var body [4]byte
		if err := db.readFull(body[:], seg.off+segmentHeaderSize); err != nil {
			return false, err
		}
		return cmpFloat(getF32(body[:]), term.Op, term.Float), nil
	case tagChar:
		if term.Type != TypeChar {
			return false, nil
		}
		body := make([]byte, seg.payload)
		if err := db.readFull(body, seg.off+segmentHeaderSize); err != nil {
			return false, err
		}
		stored := int(getU16(body))
		s := string(body[2 : 2+stored])
		switch term.Op {
		case FilterEq:
			return s == term.Str, nil
		case FilterNeq:
			return s != term.Str, nil
		}
		return false, nil
	case tagVector:
		// Vectors only support null-ness tests; value comparisons never
		// match.
		return false, nil
	}
	return false, db.fail(StatusCorrupt, msgInvalidDatatype)
}

func cmpInt(a int32, op FilterOp, b int32) bool {
	switch op {
	case FilterEq:
		return a == b
	case FilterNeq:
		return a != b
	case FilterGt:
		return a > b
	case FilterGte:
		return a >= b
	case FilterLt:
		return a < b
	case FilterLte:
		return a <= b
	}
	return false
}

func cmpFloat(a float32, op FilterOp, b float32) bool {
	switch op {
	case FilterEq:
		return a == b
	case FilterNeq:
		return a != b
	case FilterGt:
		return a > b
	case FilterGte:
		return a >= b
	case FilterLt:
		return a < b
	case FilterLte:
		return a <= b
	}
	return false
}

func cmpBool(a bool, op FilterOp, b bool) bool {
	switch op {
	case FilterEq:
		return a == b
	case FilterNeq:
		return a != b
	}
	return false
}
