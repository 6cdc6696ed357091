package idydb

import "strings"

// contextSeparator joins the top-k texts of a context query.
const contextSeparator = "\n---\n"

// SetEmbedder binds the embedding callback used by auto-embed upserts. A nil
// callback unbinds it.
func (db *DB) SetEmbedder(fn EmbedFunc) {
	db.embedder = fn
}

// UpsertText writes a text chunk and its embedding at the same row of their
// respective columns. On partial failure the completed write is left in
// place; the caller may retry the full upsert.
func (db *DB) UpsertText(textCol, vecCol, row uint64, text string, embedding []float32) error {
	if err := db.InsertString(textCol, row, text); err != nil {
		return err
	}
	return db.InsertVector(vecCol, row, embedding)
}

// UpsertTextAutoEmbed embeds the text through the bound embedder and upserts
// the pair. The embedder's vector is only held for the duration of the
// insert.
func (db *DB) UpsertTextAutoEmbed(textCol, vecCol, row uint64, text string) error {
	if db.embedder == nil {
		return db.failf(StatusError, "no embedder bound to this handle")
	}
	vec, err := db.embedder(text)
	if err != nil {
		return db.failf(StatusError, "embedder failed: %v", err)
	}
	if len(vec) == 0 || len(vec) > maxVectorDims {
		return db.fail(StatusRange, msgValueTooLarge)
	}
	return db.UpsertText(textCol, vecCol, row, text, vec)
}

// QueryTopK runs a kNN scan over the vector column and joins each result
// with the text stored at the same row. A row without a text cell yields the
// empty string but still counts toward k.
func (db *DB) QueryTopK(textCol, vecCol uint64, query []float32, k int, metric Metric) ([]KNNResult, []string, error) {
	return db.queryTopK(textCol, vecCol, query, k, metric, nil)
}

// QueryTopKFiltered is QueryTopK restricted to rows passing the filter.
func (db *DB) QueryTopKFiltered(textCol, vecCol uint64, query []float32, k int, metric Metric, filter *Filter) ([]KNNResult, []string, error) {
	return db.queryTopK(textCol, vecCol, query, k, metric, filter)
}

func (db *DB) queryTopK(textCol, vecCol uint64, query []float32, k int, metric Metric, filter *Filter) ([]KNNResult, []string, error) {
	results, err := db.KNNSearchFiltered(vecCol, query, k, metric, filter)
	if err != nil {
		return nil, nil, err
	}
	texts, err := db.textsFor(textCol, results)
	if err != nil {
		return nil, nil, err
	}
	return results, texts, nil
}

func (db *DB) textsFor(textCol uint64, results []KNNResult) ([]string, error) {
	texts := make([]string, len(results))
	for i, r := range results {
		st, err := db.Extract(textCol, r.Row)
		if err != nil {
			return nil, err
		}
		if st == StatusDone && db.RetrievedType() == TypeChar {
			texts[i] = db.RetrieveString()
		}
	}
	return texts, nil
}

// QueryTopKWithMetadata is QueryTopKFiltered with per-row metadata
// projection: meta[i][j] is a deep copy of the cell at (metaCols[j],
// results[i].Row), TypeNull when absent.
func (db *DB) QueryTopKWithMetadata(textCol, vecCol uint64, query []float32, k int, metric Metric, filter *Filter, metaCols []uint64) ([]KNNResult, []string, [][]Value, error) {
	results, texts, err := db.queryTopK(textCol, vecCol, query, k, metric, filter)
	if err != nil {
		return nil, nil, nil, err
	}
	meta := make([][]Value, len(results))
	for i, r := range results {
		meta[i] = make([]Value, len(metaCols))
		for j, col := range metaCols {
			if _, err := db.Extract(col, r.Row); err != nil {
				return nil, nil, nil, err
			}
			meta[i][j] = db.valueFromStaged()
		}
	}
	return results, texts, meta, nil
}

// QueryContext joins the texts of the top-k rows into one string separated
// by "\n---\n". When maxChars is positive the result is cut at that byte
// boundary; multi-byte runes may be split, which callers accept for a byte
// budget.
func (db *DB) QueryContext(textCol, vecCol uint64, query []float32, k int, metric Metric, maxChars int) (string, error) {
	return db.queryContext(textCol, vecCol, query, k, metric, nil, maxChars)
}

// QueryContextFiltered is QueryContext restricted to rows passing the
// filter.
func (db *DB) QueryContextFiltered(textCol, vecCol uint64, query []float32, k int, metric Metric, filter *Filter, maxChars int) (string, error) {
	return db.queryContext(textCol, vecCol, query, k, metric, filter, maxChars)
}

func (db *DB) queryContext(textCol, vecCol uint64, query []float32, k int, metric Metric, filter *Filter, maxChars int) (string, error) {
	_, texts, err := db.queryTopK(textCol, vecCol, query, k, metric, filter)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, t := range texts {
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(t)
	}
	out := b.String()
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out, nil
}
