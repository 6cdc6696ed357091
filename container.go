package idydb

// The on-disk container is a contiguous sequence of partitions, one per
// populated column, in strictly ascending column order:
//
//	partition: [skip_amount u16][row_count_minus_one u16] segments...
//	segment:   [row_position u16][type_tag u8] payload...
//
// skip_amount is the gap to the previous partition's column id minus one;
// summing (skip_amount + 1) over the partitions recovers absolute column
// ids. Segments are strictly ascending by row. Empty partitions never exist
// on disk, and the file holds no padding: its size is the exact sum of its
// parts.

// readFull reads an exact range of the working stream.
func (db *DB) readFull(p []byte, off int64) error {
	if _, err := db.work.ReadAt(p, off); err != nil {
		return db.fail(StatusError, msgReadFailed)
	}
	return nil
}

// writeFull writes an exact range of the working stream.
func (db *DB) writeFull(p []byte, off int64) error {
	if _, err := db.work.WriteAt(p, off); err != nil {
		return db.fail(StatusError, msgWriteFailed)
	}
	return nil
}

// checkRange validates 1-based coordinates against the sizing mode. Unsafe
// handles skip the column bound; the row bound always holds.
func (db *DB) checkRange(col, row uint64) error {
	if col == 0 || row == 0 {
		if db.unsafe {
			return db.fail(StatusRange, msgRangeBelowOne)
		}
		return db.fail(StatusRange, msgOutOfRange)
	}
	if !db.unsafe && col > columnPositionMax {
		return db.fail(StatusRange, msgOutOfRange)
	}
	if row > rowPositionMax {
		return db.fail(StatusRange, msgOutOfRange)
	}
	return nil
}

// segmentPayloadSize determines the payload byte length of the segment whose
// header sits at segOff, reading the length field for variable-size tags.
func (db *DB) segmentPayloadSize(tag byte, segOff, size int64) (int64, error) {
	switch tag {
	case tagInt, tagFloat:
		return 4, nil
	case tagBoolTrue, tagBoolFalse:
		return 0, nil
	case tagChar:
		if segOff+segmentHeaderSize+2 > size {
			return 0, db.fail(StatusCorrupt, msgMalformedStructure)
		}
		var lenBuf [2]byte
		if err := db.readFull(lenBuf[:], segOff+segmentHeaderSize); err != nil {
			return 0, err
		}
		stored := int64(getU16(lenBuf[:]))
		if stored+1 > maxCharLength {
			return 0, db.fail(StatusCorrupt, msgRetrieveTooLarge)
		}
		return 2 + stored + 1, nil
	case tagVector:
		if segOff+segmentHeaderSize+2 > size {
			return 0, db.fail(StatusCorrupt, msgMalformedStructure)
		}
		var dimsBuf [2]byte
		if err := db.readFull(dimsBuf[:], segOff+segmentHeaderSize); err != nil {
			return 0, err
		}
		dims := int64(getU16(dimsBuf[:]))
		if dims == 0 || dims > maxVectorDims {
			return 0, db.fail(StatusCorrupt, msgMalformedStructure)
		}
		return 2 + 4*dims, nil
	}
	return 0, db.fail(StatusCorrupt, msgInvalidDatatype)
}

// segmentRef describes one on-disk segment.
type segmentRef struct {
	off     int64  // offset of the segment header
	row     uint64 // 1-based row id
	tag     byte
	payload int64 // payload bytes, including any length field
}

func (s *segmentRef) total() int64 { return segmentHeaderSize + s.payload }

// partitionRef describes one on-disk partition.
type partitionRef struct {
	off  int64  // offset of the partition header
	col  uint64 // absolute column id
	skip uint16
	rows int
	end  int64 // offset one past the last segment (valid after a full walk)
}

// walkSegments visits every segment of a partition in order. The callback
// may stop the walk early; the partition's end offset is only meaningful
// when the walk runs to completion.
func (db *DB) walkSegments(p *partitionRef, size int64, fn func(seg segmentRef) (stop bool, err error)) error {
	off := p.off + partitionHeaderSize
	for i := 0; i < p.rows; i++ {
		if off+segmentHeaderSize > size {
			return db.fail(StatusCorrupt, msgMalformedStructure)
		}
		var hdr [segmentHeaderSize]byte
		if err := db.readFull(hdr[:], off); err != nil {
			return err
		}
		seg := segmentRef{off: off, row: uint64(getU16(hdr[:])) + 1, tag: hdr[2]}
		payload, err := db.segmentPayloadSize(seg.tag, off, size)
		if err != nil {
			return err
		}
		seg.payload = payload
		if off+seg.total() > size {
			return db.fail(StatusCorrupt, msgMalformedStructure)
		}
		if fn != nil {
			stop, err := fn(seg)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		off += seg.total()
	}
	p.end = off
	return nil
}

// walkPartitions visits every partition in file order, maintaining the
// running-sum column id. The callback decides whether to continue; when it
// continues, the walker skips the partition's segments itself.
func (db *DB) walkPartitions(size int64, fn func(p *partitionRef) (stop bool, err error)) error {
	off := int64(0)
	absCol := uint64(0)
	for off < size {
		if off+partitionHeaderSize > size {
			return db.fail(StatusCorrupt, msgMalformedStructure)
		}
		var hdr [partitionHeaderSize]byte
		if err := db.readFull(hdr[:], off); err != nil {
			return err
		}
		skip := getU16(hdr[:])
		absCol += uint64(skip)
		if absCol >= columnPositionMax && !db.unsafe {
			return db.fail(StatusRange, msgRangeExceedsSizing)
		}
		absCol++
		p := partitionRef{
			off:  off,
			col:  absCol,
			skip: skip,
			rows: int(getU16(hdr[2:])) + 1,
		}
		if fn != nil {
			stop, err := fn(&p)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		if p.end == 0 {
			if err := db.walkSegments(&p, size, nil); err != nil {
				return err
			}
		}
		off = p.end
	}
	return nil
}

// Extract loads the value at (col, row) into the staged register. It
// returns StatusDone when a value was found and StatusNull when the cell is
// absent; RetrievedType and the Retrieve accessors expose the result.
func (db *DB) Extract(col, row uint64) (Status, error) {
	if err := db.requireConfigured(); err != nil {
		return StatusError, err
	}
	db.clearValues()
	if err := db.checkRange(col, row); err != nil {
		db.clearValues()
		return StatusRange, err
	}
	size, err := db.work.Size()
	if err != nil {
		return StatusError, db.fail(StatusError, msgReadFailed)
	}

	status := StatusNull
	err = db.walkPartitions(size, func(p *partitionRef) (bool, error) {
		if p.col > col {
			return true, nil
		}
		if p.col < col {
			return false, nil
		}
		serr := db.walkSegments(p, size, func(seg segmentRef) (bool, error) {
			if seg.row > row {
				return true, nil
			}
			if seg.row < row {
				return false, nil
			}
			if derr := db.decodeSegment(seg); derr != nil {
				return false, derr
			}
			status = StatusDone
			return true, nil
		})
		return true, serr
	})
	if err != nil {
		db.clearValues()
		if e, ok := err.(*Error); ok {
			return e.Status, err
		}
		return StatusError, err
	}
	return status, nil
}

// decodeSegment loads a segment's payload into the staged register.
func (db *DB) decodeSegment(seg segmentRef) error {
	body := make([]byte, seg.payload)
	if err := db.readFull(body, seg.off+segmentHeaderSize); err != nil {
		return err
	}
	switch seg.tag {
	case tagInt:
		db.staged = stagedValue{typ: TypeInteger, i: getI32(body)}
	case tagFloat:
		db.staged = stagedValue{typ: TypeFloat, f: getF32(body)}
	case tagBoolTrue:
		db.staged = stagedValue{typ: TypeBool, b: true}
	case tagBoolFalse:
		db.staged = stagedValue{typ: TypeBool, b: false}
	case tagChar:
		stored := int(getU16(body))
		db.staged = stagedValue{typ: TypeChar, s: string(body[2 : 2+stored])}
	case tagVector:
		dims := int(getU16(body))
		db.staged = stagedValue{typ: TypeVector, vec: decodeVectorPayload(body[2:], dims)}
	default:
		return db.fail(StatusCorrupt, msgInvalidDatatype)
	}
	return nil
}

// locateResult captures everything insertAt needs about the target cell's
// surroundings.
type locateResult struct {
	size    int64
	prevCol uint64 // column id of the partition preceding the target slot

	partFound bool
	part      partitionRef

	// Valid when partFound is false: where a new partition belongs, and the
	// partition currently occupying that slot, if any.
	insertOff  int64
	hasFollow  bool
	followSkip uint16

	segFound     bool
	seg          segmentRef
	segInsertOff int64 // where a new segment belongs inside the partition
}

// locate resolves the structural position of (col, row).
func (db *DB) locate(col, row uint64) (locateResult, error) {
	res := locateResult{}
	size, err := db.work.Size()
	if err != nil {
		return res, db.fail(StatusError, msgReadFailed)
	}
	res.size = size
	res.insertOff = size

	werr := db.walkPartitions(size, func(p *partitionRef) (bool, error) {
		if p.col > col {
			res.insertOff = p.off
			res.hasFollow = true
			res.followSkip = p.skip
			return true, nil
		}
		if p.col < col {
			res.prevCol = p.col
			return false, nil
		}
		res.partFound = true
		res.part = *p
		res.segInsertOff = -1
		serr := db.walkSegments(p, size, func(seg segmentRef) (bool, error) {
			if seg.row == row {
				res.segFound = true
				res.seg = seg
				return false, nil
			}
			if seg.row > row && res.segInsertOff < 0 {
				res.segInsertOff = seg.off
			}
			return false, nil
		})
		if serr != nil {
			return true, serr
		}
		res.part.end = p.end
		if res.segInsertOff < 0 {
			res.segInsertOff = p.end
		}
		return true, nil
	})
	if werr != nil {
		return res, werr
	}
	return res, nil
}

// shiftTail slides the byte range [from, size) by delta, overlap-safe: it
// copies tail-first when growing and head-first when shrinking, in fixed
// working blocks. The caller truncates after a negative shift.
func (db *DB) shiftTail(from, size, delta int64) error {
	n := size - from
	if n <= 0 || delta == 0 {
		return nil
	}
	buf := make([]byte, maxBufferSize)
	if delta > 0 {
		pos := size
		for pos > from {
			chunk := int64(maxBufferSize)
			if pos-from < chunk {
				chunk = pos - from
			}
			pos -= chunk
			if err := db.readFull(buf[:chunk], pos); err != nil {
				return err
			}
			if err := db.writeFull(buf[:chunk], pos+delta); err != nil {
				return err
			}
		}
		return nil
	}
	pos := from
	for pos < size {
		chunk := int64(maxBufferSize)
		if size-pos < chunk {
			chunk = size - pos
		}
		if err := db.readFull(buf[:chunk], pos); err != nil {
			return err
		}
		if err := db.writeFull(buf[:chunk], pos+delta); err != nil {
			return err
		}
		pos += chunk
	}
	return nil
}

func (db *DB) truncate(size int64) error {
	if err := db.work.Truncate(size); err != nil {
		return db.fail(StatusError, msgTruncateFailed)
	}
	return nil
}

// insertAt consumes the staged register into the cell at (col, row). A null
// stage deletes; a value stage inserts or updates in place, shifting the
// file tail when the payload size changes. The register is cleared on every
// return path.
func (db *DB) insertAt(col, row uint64) error {
	defer db.clearValues()

	if err := db.requireWritable(); err != nil {
		return err
	}
	if err := db.checkRange(col, row); err != nil {
		return err
	}
	loc, err := db.locate(col, row)
	if err != nil {
		return err
	}

	if db.staged.typ == TypeNull {
		if !loc.partFound || !loc.segFound {
			// Deleting an absent cell changes nothing.
			return nil
		}
		if err := db.deleteSegment(&loc); err != nil {
			return err
		}
		db.dirty = true
		return nil
	}

	switch {
	case loc.partFound && loc.segFound:
		err = db.updateSegment(&loc)
	case loc.partFound:
		err = db.insertSegment(&loc, row)
	default:
		err = db.insertPartition(&loc, col, row)
	}
	if err != nil {
		return err
	}
	db.dirty = true
	return nil
}

// deleteSegment removes an existing segment, collapsing the partition when
// it holds nothing else and splicing the removed skip distance into the
// following partition so the running column sum is preserved.
func (db *DB) deleteSegment(loc *locateResult) error {
	seg := loc.seg
	if loc.part.rows == 1 {
		partEnd := loc.part.off + partitionHeaderSize + seg.total()
		removed := partEnd - loc.part.off
		if partEnd < loc.size {
			// Fold this partition's column distance into the next one.
			var skipBuf [2]byte
			if err := db.readFull(skipBuf[:], partEnd); err != nil {
				return err
			}
			follow := getU16(skipBuf[:])
			putU16(skipBuf[:], follow+loc.part.skip+1)
			if _, err := db.work.WriteAt(skipBuf[:], partEnd); err != nil {
				return db.fail(StatusError, msgSkipUpdateFailed)
			}
		}
		if err := db.shiftTail(partEnd, loc.size, -removed); err != nil {
			return err
		}
		return db.truncate(loc.size - removed)
	}

	segEnd := seg.off + seg.total()
	if err := db.shiftTail(segEnd, loc.size, -seg.total()); err != nil {
		return err
	}
	var cntBuf [2]byte
	putU16(cntBuf[:], uint16(loc.part.rows-2))
	if err := db.writeFull(cntBuf[:], loc.part.off+2); err != nil {
		return err
	}
	return db.truncate(loc.size - seg.total())
}

// updateSegment overwrites an existing segment's tag and payload, shifting
// the tail first when the payload size changes.
func (db *DB) updateSegment(loc *locateResult) error {
	newPayload := db.staged.payloadSize()
	delta := newPayload - loc.seg.payload
	segEnd := loc.seg.off + loc.seg.total()
	if delta != 0 {
		if err := db.shiftTail(segEnd, loc.size, delta); err != nil {
			return err
		}
	}
	body := append([]byte{db.staged.tag()}, db.staged.encodePayload()...)
	if err := db.writeFull(body, loc.seg.off+2); err != nil {
		return err
	}
	if delta < 0 {
		return db.truncate(loc.size + delta)
	}
	return nil
}

// insertSegment adds a new segment at its row-ordered slot inside an
// existing partition.
func (db *DB) insertSegment(loc *locateResult, row uint64) error {
	payload := db.staged.encodePayload()
	total := int64(segmentHeaderSize + len(payload))
	if err := db.shiftTail(loc.segInsertOff, loc.size, total); err != nil {
		return err
	}
	hdr := make([]byte, segmentHeaderSize, segmentHeaderSize+len(payload))
	putU16(hdr, uint16(row-1))
	hdr[2] = db.staged.tag()
	if err := db.writeFull(append(hdr, payload...), loc.segInsertOff); err != nil {
		return err
	}
	var cntBuf [2]byte
	putU16(cntBuf[:], uint16(loc.part.rows))
	return db.writeFull(cntBuf[:], loc.part.off+2)
}

// insertPartition creates a partition for a previously empty column at its
// column-ordered slot, rebalancing the following partition's skip amount so
// every later column keeps its running sum.
func (db *DB) insertPartition(loc *locateResult, col, row uint64) error {
	payload := db.staged.encodePayload()
	total := int64(partitionHeaderSize+segmentHeaderSize) + int64(len(payload))
	newSkip := uint16(col - loc.prevCol - 1)

	if err := db.shiftTail(loc.insertOff, loc.size, total); err != nil {
		return err
	}
	body := make([]byte, partitionHeaderSize+segmentHeaderSize, int(total))
	putU16(body, newSkip)
	putU16(body[2:], 0)
	putU16(body[4:], uint16(row-1))
	body[6] = db.staged.tag()
	if err := db.writeFull(append(body, payload...), loc.insertOff); err != nil {
		return err
	}
	if loc.hasFollow {
		var skipBuf [2]byte
		putU16(skipBuf[:], loc.followSkip-newSkip-1)
		if _, err := db.work.WriteAt(skipBuf[:], loc.insertOff+total); err != nil {
			return db.fail(StatusError, msgSkipUpdateFailed)
		}
	}
	return nil
}

// InsertInt writes an int32 at (col, row).
func (db *DB) InsertInt(col, row uint64, v int32) error {
	db.staged = stagedValue{typ: TypeInteger, i: v}
	return db.insertAt(col, row)
}

// InsertFloat writes a float32 at (col, row).
func (db *DB) InsertFloat(col, row uint64, v float32) error {
	db.staged = stagedValue{typ: TypeFloat, f: v}
	return db.insertAt(col, row)
}

// InsertString writes a string at (col, row). The empty string is the null
// value and deletes the cell.
func (db *DB) InsertString(col, row uint64, s string) error {
	if len(s)+1 > maxCharLength {
		db.clearValues()
		return db.fail(StatusRange, msgValueTooLarge)
	}
	if len(s) == 0 {
		return db.Delete(col, row)
	}
	db.staged = stagedValue{typ: TypeChar, s: s}
	return db.insertAt(col, row)
}

// InsertBool writes a bool at (col, row).
func (db *DB) InsertBool(col, row uint64, v bool) error {
	db.staged = stagedValue{typ: TypeBool, b: v}
	return db.insertAt(col, row)
}

// InsertVector writes an embedding at (col, row). The slice is copied;
// dims must be in [1, 16383].
func (db *DB) InsertVector(col, row uint64, vec []float32) error {
	if len(vec) == 0 || len(vec) > maxVectorDims {
		db.clearValues()
		return db.fail(StatusRange, msgValueTooLarge)
	}
	db.staged = stagedValue{typ: TypeVector, vec: append([]float32(nil), vec...)}
	return db.insertAt(col, row)
}

// Delete removes the cell at (col, row). Deleting an absent cell succeeds
// without touching the file.
func (db *DB) Delete(col, row uint64) error {
	db.staged = stagedValue{typ: TypeNull}
	return db.insertAt(col, row)
}

// ColumnNextRow returns the smallest unused row id of a column: max row + 1,
// or 1 when the column holds nothing. An invalid column id returns 0 with a
// range error recorded.
func (db *DB) ColumnNextRow(col uint64) (uint64, error) {
	if err := db.requireConfigured(); err != nil {
		return 0, err
	}
	if err := db.checkRange(col, 1); err != nil {
		return 0, err
	}
	size, err := db.work.Size()
	if err != nil {
		return 0, db.fail(StatusError, msgReadFailed)
	}
	var maxRow uint64
	werr := db.walkPartitions(size, func(p *partitionRef) (bool, error) {
		if p.col > col {
			return true, nil
		}
		if p.col < col {
			return false, nil
		}
		serr := db.walkSegments(p, size, func(seg segmentRef) (bool, error) {
			if seg.row > maxRow {
				maxRow = seg.row
			}
			return false, nil
		})
		return true, serr
	})
	if werr != nil {
		return 0, werr
	}
	return maxRow + 1, nil
}
