package idydb

import (
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"gonum.org/v1/gonum/floats"
)

// Metric selects the similarity score of a kNN scan. Scores are oriented so
// that higher is better under both metrics.
type Metric uint8

const (
	// MetricCosine scores dot(q,v) / (|q|·|v|); a zero norm is treated as 1
	// so degenerate vectors score 0 instead of NaN.
	MetricCosine Metric = 1
	// MetricL2 scores the negated Euclidean distance.
	MetricL2 Metric = 2
)

// KNNResult is one scored row of a kNN scan.
type KNNResult struct {
	Row   uint64
	Score float32
}

// KNNSearch scans a vector column and returns up to k results sorted by
// descending score. Vectors whose dimensionality differs from the query are
// skipped, as are non-vector cells in the column.
func (db *DB) KNNSearch(vectorCol uint64, query []float32, k int, metric Metric) ([]KNNResult, error) {
	return db.knnSearch(vectorCol, query, k, metric, nil)
}

// KNNSearchFiltered is KNNSearch restricted to rows passing the filter.
func (db *DB) KNNSearchFiltered(vectorCol uint64, query []float32, k int, metric Metric, filter *Filter) ([]KNNResult, error) {
	if err := db.requireConfigured(); err != nil {
		return nil, err
	}
	mask, err := db.buildAllowedMask(filter)
	if err != nil {
		return nil, err
	}
	return db.knnSearch(vectorCol, query, k, metric, mask)
}

func (db *DB) knnSearch(vectorCol uint64, query []float32, k int, metric Metric, mask *bitset.BitSet) ([]KNNResult, error) {
	if err := db.requireConfigured(); err != nil {
		return nil, err
	}
	if len(query) == 0 || len(query) > maxVectorDims {
		return nil, db.fail(StatusRange, msgValueTooLarge)
	}
	if k <= 0 {
		return nil, db.failf(StatusRange, "top-k size must be at least 1")
	}
	if metric != MetricCosine && metric != MetricL2 {
		return nil, db.failf(StatusRange, "unknown similarity metric %d", metric)
	}
	if err := db.checkRange(vectorCol, 1); err != nil {
		return nil, err
	}
	size, err := db.work.Size()
	if err != nil {
		return nil, db.fail(StatusError, msgReadFailed)
	}

	dims := len(query)
	qf := make([]float64, dims)
	for i, v := range query {
		qf[i] = float64(v)
	}
	qNorm := floats.Norm(qf, 2)
	if qNorm == 0 {
		qNorm = 1
	}
	vf := make([]float64, dims)

	// Fixed-size top-k buffer: replace the strict minimum on strict
	// improvement only, so earlier rows win ties.
	slots := make([]KNNResult, k)
	negInf := float32(math.Inf(-1))
	for i := range slots {
		slots[i].Score = negInf
	}

	werr := db.walkPartitions(size, func(p *partitionRef) (bool, error) {
		if p.col > vectorCol {
			return true, nil
		}
		if p.col < vectorCol {
			return false, nil
		}
		serr := db.walkSegments(p, size, func(seg segmentRef) (bool, error) {
			if seg.tag != tagVector {
				return false, nil
			}
			if int((seg.payload-2)/4) != dims {
				return false, nil
			}
			if mask != nil && (seg.row > rowPositionMax || !mask.Test(uint(seg.row))) {
				// Filtered out: the payload only advances the scan cursor.
				return false, nil
			}
			body := make([]byte, seg.payload-2)
			if err := db.readFull(body, seg.off+segmentHeaderSize+2); err != nil {
				return false, err
			}
			for i := 0; i < dims; i++ {
				vf[i] = float64(getF32(body[4*i:]))
			}
			score := scoreVector(qf, vf, qNorm, metric)

			minIdx := 0
			for i := 1; i < k; i++ {
				if slots[i].Score < slots[minIdx].Score {
					minIdx = i
				}
			}
			if score > slots[minIdx].Score {
				slots[minIdx] = KNNResult{Row: seg.row, Score: score}
			}
			return false, nil
		})
		return true, serr
	})
	if werr != nil {
		return nil, werr
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slots[i].Row < slots[j].Row
	})
	n := 0
	for n < k && slots[n].Row != 0 {
		n++
	}
	return slots[:n], nil
}

func scoreVector(qf, vf []float64, qNorm float64, metric Metric) float32 {
	if metric == MetricL2 {
		return float32(-floats.Distance(qf, vf, 2))
	}
	vNorm := floats.Norm(vf, 2)
	if vNorm == 0 {
		vNorm = 1
	}
	return float32(floats.Dot(qf, vf) / (qNorm * vNorm))
}
