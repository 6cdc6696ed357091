package idydb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	testTextCol = uint64(1)
	testVecCol  = uint64(2)
)

func seedCorpus(t *testing.T, db *DB) {
	t.Helper()
	chunks := []struct {
		text string
		vec  []float32
	}{
		{"the cat sat on the mat", []float32{1, 0, 0}},
		{"dogs chase cars", []float32{0, 1, 0}},
		{"a cat naps in the sun", []float32{0.9, 0.1, 0}},
	}
	for i, c := range chunks {
		if err := db.UpsertText(testTextCol, testVecCol, uint64(i+1), c.text, c.vec); err != nil {
			t.Fatalf("UpsertText row %d: %v", i+1, err)
		}
	}
}

func TestQueryTopKReturnsTexts(t *testing.T) {
	db, _ := openTemp(t)
	seedCorpus(t, db)

	results, texts, err := db.QueryTopK(testTextCol, testVecCol, []float32{1, 0, 0}, 2, MetricCosine)
	if err != nil {
		t.Fatalf("QueryTopK: %v", err)
	}
	if len(results) != 2 || len(texts) != 2 {
		t.Fatalf("expected 2 results with texts, got %d/%d", len(results), len(texts))
	}
	if results[0].Row != 1 || texts[0] != "the cat sat on the mat" {
		t.Fatalf("unexpected best match: row %d text %q", results[0].Row, texts[0])
	}
	if results[1].Row != 3 || texts[1] != "a cat naps in the sun" {
		t.Fatalf("unexpected second match: row %d text %q", results[1].Row, texts[1])
	}
}

func TestQueryTopKMissingTextCounts(t *testing.T) {
	db, _ := openTemp(t)
	// A vector without a text cell still occupies a result slot.
	if err := db.InsertVector(testVecCol, 1, []float32{1, 0}); err != nil {
		t.Fatalf("InsertVector: %v", err)
	}
	results, texts, err := db.QueryTopK(testTextCol, testVecCol, []float32{1, 0}, 3, MetricCosine)
	if err != nil {
		t.Fatalf("QueryTopK: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the textless row to count, got %d results", len(results))
	}
	if texts[0] != "" {
		t.Fatalf("expected empty text for a missing cell, got %q", texts[0])
	}
}

func TestQueryTopKWithMetadata(t *testing.T) {
	db, _ := openTemp(t)
	seedCorpus(t, db)
	// Metadata columns: source tag (string) and score weight (int).
	for row := uint64(1); row <= 3; row++ {
		if err := db.InsertString(5, row, fmt.Sprintf("doc-%d", row)); err != nil {
			t.Fatalf("InsertString meta: %v", err)
		}
	}
	if err := db.InsertInt(6, 1, 100); err != nil {
		t.Fatalf("InsertInt meta: %v", err)
	}

	results, _, meta, err := db.QueryTopKWithMetadata(
		testTextCol, testVecCol, []float32{1, 0, 0}, 2, MetricCosine, nil, []uint64{5, 6})
	if err != nil {
		t.Fatalf("QueryTopKWithMetadata: %v", err)
	}
	if len(results) != 2 || len(meta) != 2 {
		t.Fatalf("expected 2 rows of metadata, got %d", len(meta))
	}
	want0 := []Value{
		{Type: TypeChar, Str: "doc-1"},
		{Type: TypeInteger, Int: 100},
	}
	if diff := cmp.Diff(want0, meta[0]); diff != "" {
		t.Fatalf("row 1 metadata (-want +got):\n%s", diff)
	}
	// Row 3 has no value in column 6: projected as null.
	if meta[1][1].Type != TypeNull {
		t.Fatalf("expected null projection for absent cell, got %v", meta[1][1].Type)
	}
}

func TestMetadataVectorsAreDeepCopies(t *testing.T) {
	db, _ := openTemp(t)
	if err := db.InsertVector(testVecCol, 1, []float32{1, 0}); err != nil {
		t.Fatalf("InsertVector: %v", err)
	}
	if err := db.InsertVector(9, 1, []float32{5, 6}); err != nil {
		t.Fatalf("InsertVector meta: %v", err)
	}
	_, _, meta, err := db.QueryTopKWithMetadata(
		testTextCol, testVecCol, []float32{1, 0}, 1, MetricCosine, nil, []uint64{9})
	if err != nil {
		t.Fatalf("QueryTopKWithMetadata: %v", err)
	}
	projected := meta[0][0]
	if projected.Type != TypeVector {
		t.Fatalf("expected vector projection, got %v", projected.Type)
	}
	projected.Vec[0] = -1 // caller owns the copy
	if _, err := db.Extract(9, 1); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got := db.RetrieveVector(); got[0] != 5 {
		t.Fatalf("mutating a projection altered stored data: %v", got)
	}
}

func TestQueryContextJoinsWithSeparator(t *testing.T) {
	db, _ := openTemp(t)
	seedCorpus(t, db)

	ctx, err := db.QueryContext(testTextCol, testVecCol, []float32{1, 0, 0}, 2, MetricCosine, 0)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	want := "the cat sat on the mat\n---\na cat naps in the sun"
	if ctx != want {
		t.Fatalf("expected %q, got %q", want, ctx)
	}
}

func TestQueryContextTruncatesAtByteBudget(t *testing.T) {
	db, _ := openTemp(t)
	seedCorpus(t, db)

	ctx, err := db.QueryContext(testTextCol, testVecCol, []float32{1, 0, 0}, 3, MetricCosine, 10)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	if len(ctx) != 10 {
		t.Fatalf("expected 10 bytes, got %d (%q)", len(ctx), ctx)
	}
	if !strings.HasPrefix("the cat sat on the mat", ctx) {
		t.Fatalf("truncation changed content: %q", ctx)
	}
}

func TestQueryContextFiltered(t *testing.T) {
	db, _ := openTemp(t)
	seedCorpus(t, db)
	for row := uint64(1); row <= 3; row++ {
		if err := db.InsertBool(7, row, row != 1); err != nil {
			t.Fatalf("InsertBool: %v", err)
		}
	}
	filter := &Filter{Terms: []FilterTerm{{Column: 7, Type: TypeBool, Op: FilterEq, Bool: true}}}
	ctx, err := db.QueryContextFiltered(testTextCol, testVecCol, []float32{1, 0, 0}, 3, MetricCosine, filter, 0)
	if err != nil {
		t.Fatalf("QueryContextFiltered: %v", err)
	}
	if strings.Contains(ctx, "the cat sat on the mat") {
		t.Fatalf("filtered-out row leaked into context: %q", ctx)
	}
	if !strings.Contains(ctx, "a cat naps in the sun") {
		t.Fatalf("expected passing row in context: %q", ctx)
	}
}

func TestUpsertAutoEmbed(t *testing.T) {
	db, _ := openTemp(t)

	if err := db.UpsertTextAutoEmbed(testTextCol, testVecCol, 1, "x"); err == nil {
		t.Fatalf("expected failure without a bound embedder")
	}

	var embedded []string
	db.SetEmbedder(func(text string) ([]float32, error) {
		embedded = append(embedded, text)
		return []float32{float32(len(text)), 1}, nil
	})
	if err := db.UpsertTextAutoEmbed(testTextCol, testVecCol, 1, "hello"); err != nil {
		t.Fatalf("UpsertTextAutoEmbed: %v", err)
	}
	if len(embedded) != 1 || embedded[0] != "hello" {
		t.Fatalf("embedder not invoked as expected: %v", embedded)
	}
	if _, err := db.Extract(testVecCol, 1); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	vec := db.RetrieveVector()
	if len(vec) != 2 || vec[0] != 5 {
		t.Fatalf("stored embedding mismatch: %v", vec)
	}

	db.SetEmbedder(func(string) ([]float32, error) {
		return nil, nil
	})
	if err := db.UpsertTextAutoEmbed(testTextCol, testVecCol, 2, "y"); !isStatus(err, StatusRange) {
		t.Fatalf("expected range error for an empty embedding, got %v", err)
	}
}

func TestUpsertNextRowFlow(t *testing.T) {
	db, _ := openTemp(t)
	for i := 0; i < 3; i++ {
		row, err := db.ColumnNextRow(testVecCol)
		if err != nil {
			t.Fatalf("ColumnNextRow: %v", err)
		}
		if err := db.UpsertText(testTextCol, testVecCol, row,
			fmt.Sprintf("chunk %d", i), []float32{float32(i), 1}); err != nil {
			t.Fatalf("UpsertText: %v", err)
		}
	}
	next, err := db.ColumnNextRow(testVecCol)
	if err != nil {
		t.Fatalf("ColumnNextRow: %v", err)
	}
	if next != 4 {
		t.Fatalf("expected next row 4 after three upserts, got %d", next)
	}
}
