/*
Package idydb is an embedded, single-file, sparse cell store specialized for
retrieval-augmented generation workloads.

Each cell is addressed by a 1-based (column, row) pair and holds one of six
value kinds: null, int32, float32, UTF-8 string, bool, or a dense float32
vector. On top of the cell store the package provides nearest-neighbour
search over a vector column (cosine or L2), row filter predicates over
scalar columns, metadata projection joined with kNN results, and context
assembly — all against one self-contained file that can optionally be
encrypted at rest.

# Basic use

	db, err := idydb.Open("notes.idy", idydb.FlagCreate)
	if err != nil { ... }
	defer db.Close()

	db.UpsertText(1, 2, 1, "the text chunk", embedding)
	results, texts, err := db.QueryTopK(1, 2, queryVec, 5, idydb.MetricCosine)

A handle is strictly serial: each call completes before the next begins, and
concurrent use from multiple goroutines requires external serialization.
Between processes, an advisory lock admits one writable handle or any number
of read-only handles.

# File format

The plaintext file is a contiguous sequence of partitions, one per populated
column, in strictly ascending column order:

	partition: [skip_amount u16 LE][row_count_minus_one u16 LE] segments...
	segment:   [row_position u16 LE][type_tag u8] payload...

skip_amount encodes the gap to the previous partition's column id minus one;
summing (skip_amount + 1) across partitions recovers absolute column ids.
Type tags and payloads:

	1 INT     4 bytes, i32 LE
	2 FLOAT   4 bytes, IEEE-754 f32 LE
	3 CHAR    u16 stored length, then stored+1 NUL-terminated bytes
	4 BOOL_T  no payload
	5 BOOL_F  no payload
	6 VECTOR  u16 dims (1..16383), then dims*4 f32 LE bytes

The file carries no padding: its size is the exact sum of its partitions,
and a partition with zero segments never exists on disk.

# Encryption at rest

An encrypted file is an AES-256-GCM container:

	[0..8)   magic "IDYDBENC"
	[8..12)  version u32 LE = 1
	[12..16) PBKDF2 iterations u32 LE (10 000 .. 5 000 000)
	[16..32) salt
	[32..44) IV
	[44..52) plaintext length u64 LE
	[52..68) GCM tag
	[68..)   ciphertext

The key is PBKDF2-HMAC-SHA256 of the passphrase; the additional
authenticated data is the 52-byte pre-tag header. At open the container is
decrypted into an anonymous in-memory stream with no filesystem path; all
reads and writes go through that stream, and a writable, modified handle
re-encrypts it over the backing file at close. Plaintext bytes never reach
a user-visible path. Opening a plaintext file with encryption enabled and
write access migrates it; with read-only access the open fails.

# Sizing modes

The column/row id domain is selected at build time: the default big mode
spans 65535/65535 and honors FlagUnsafe; the idydb_sizing_small and
idydb_sizing_tiny build tags select 255/255 and 15/15.
*/
package idydb
