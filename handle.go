package idydb

import (
	"bytes"
	"crypto/rand"
	"log/slog"
	"os"

	"github.com/natefinch/atomic"
)

// Options carries the runtime open parameters of a handle. Encryption is a
// runtime decision; sizing is a build-time one.
type Options struct {
	// Flags composes FlagCreate, FlagReadOnly, and FlagUnsafe.
	Flags Flag
	// Encrypted selects the encrypted-at-rest container.
	Encrypted bool
	// Passphrase is required when Encrypted is set.
	Passphrase string
	// PBKDF2Iter overrides the key-derivation iteration count for newly
	// encrypted or migrated files; 0 selects the default (200 000). Files
	// that are already encrypted keep the count recorded in their header.
	PBKDF2Iter uint32
}

// EmbedFunc produces an embedding vector for a text. Bound to a handle via
// SetEmbedder for auto-embed upserts.
type EmbedFunc func(text string) ([]float32, error)

// DB is an open IdyDB handle. It owns the working stream, the backing file,
// the staged value register, and the last-error slot. A handle is not safe
// for concurrent use; callers serialize externally.
type DB struct {
	work     stream
	backing  *backingFile
	workFile *os.File // anonymous plaintext stream for encrypted handles
	mmapData []byte   // non-nil while the read-only mmap fast path is active

	configured bool
	readonly   bool
	unsafe     bool
	dirty      bool

	staged     stagedValue
	errMessage string

	embedder EmbedFunc

	encEnabled bool
	encKey     []byte
	encSalt    []byte
	encIter    uint32
	secureKind string
}

// Open opens a plaintext database file.
func Open(path string, flags Flag) (*DB, error) {
	return OpenWithOptions(path, Options{Flags: flags})
}

// OpenEncrypted opens an encrypted-at-rest database file with the default
// key-derivation parameters.
func OpenEncrypted(path string, flags Flag, passphrase string) (*DB, error) {
	return OpenWithOptions(path, Options{Flags: flags, Encrypted: true, Passphrase: passphrase})
}

// OpenWithOptions is the unified open entrypoint.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	db := &DB{staged: stagedValue{typ: TypeNull}}

	if !opts.Encrypted {
		if err := db.openPlain(path, opts.Flags); err != nil {
			return nil, err
		}
		slog.Debug("idydb: opened plaintext db",
			"file", path, "flags", int(opts.Flags), "mmap", db.mmapData != nil)
		return db, nil
	}
	if err := db.openEncrypted(path, opts); err != nil {
		db.teardown()
		return nil, err
	}
	slog.Debug("idydb: opened encrypted-at-rest db",
		"file", path, "readonly", db.readonly, "working_plain", db.secureKind,
		"pbkdf2_iter", db.encIter, "dirty", db.dirty)
	return db, nil
}

func (db *DB) openPlain(path string, flags Flag) error {
	readonly := flags&FlagReadOnly != 0
	create := flags&FlagCreate != 0

	bf, st := openBackingFile(path, readonly, create, readonly && !create)
	if st != StatusSuccess {
		return db.fail(st, openStatusMsg(st))
	}
	db.backing = bf
	db.readonly = readonly

	if err := db.applySafety(flags); err != nil {
		db.teardown()
		return err
	}
	size, err := bf.size()
	if err != nil {
		db.teardown()
		return db.fail(StatusError, msgReadFailed)
	}
	if !db.unsafe && size > maxFileSize() {
		db.teardown()
		return db.fail(StatusRange, msgDatabaseTooLarge)
	}

	if readonly && size > 0 && size <= mmapMaxSize {
		if data, ok := mmapReadOnly(bf.f, size); ok {
			db.mmapData = data
			db.work = &mmapStream{data: data}
		}
	}
	if db.work == nil {
		db.work = &fileStream{f: bf.f}
	}
	db.configured = true
	db.clearValues()
	return nil
}

func (db *DB) openEncrypted(path string, opts Options) error {
	if opts.Passphrase == "" {
		return db.fail(StatusMissingPassphrase, msgMissingPassphrase)
	}
	readonly := opts.Flags&FlagReadOnly != 0
	create := opts.Flags&FlagCreate != 0

	bf, st := openBackingFile(path, readonly, create, !create)
	if st != StatusSuccess {
		return db.fail(st, openStatusMsg(st))
	}
	db.backing = bf
	db.readonly = readonly
	db.encEnabled = true

	plain, kind, err := securePlainStream()
	if err != nil {
		return db.fail(StatusSecureStreamFailed, msgSecureStreamFailed)
	}
	db.workFile = plain
	db.secureKind = kind

	raw, err := bf.readAll()
	if err != nil {
		return db.fail(StatusError, msgReadFailed)
	}

	switch {
	case isEncryptedHeader(raw):
		slog.Debug("idydb: encrypted container detected; decrypting", "file", path)
		plaintext, key, salt, iter, err := openContainer(raw, opts.Passphrase)
		if err != nil {
			slog.Debug("idydb: decrypt failed", "file", path, "reason", err)
			return db.fail(StatusDecryptFailed, msgDecryptFailed)
		}
		db.encKey, db.encSalt, db.encIter = key, salt, iter
		if len(plaintext) > 0 {
			if _, err := plain.WriteAt(plaintext, 0); err != nil {
				return db.fail(StatusError, msgWriteFailed)
			}
		}

	case readonly && len(raw) > 0:
		// A plaintext backing file cannot be migrated without write access.
		slog.Debug("idydb: refusing encrypted readonly open on plaintext backing", "file", path)
		return db.fail(StatusMigrationRequired, msgMigrationRequired)

	default:
		if len(raw) > 0 {
			slog.Debug("idydb: plaintext backing detected; staging migration", "file", path, "bytes", len(raw))
			if _, err := plain.WriteAt(raw, 0); err != nil {
				return db.fail(StatusError, msgWriteFailed)
			}
		}
		iter := opts.PBKDF2Iter
		if iter == 0 {
			iter = encDefaultPBKDF2Iter
		}
		if !cryptoIterOK(iter) {
			return db.failf(StatusError, "pbkdf2 iteration count %d outside [%d, %d]",
				iter, encMinPBKDF2Iter, encMaxPBKDF2Iter)
		}
		salt := make([]byte, encSaltLen)
		if _, err := rand.Read(salt); err != nil {
			return db.fail(StatusError, msgUnknown)
		}
		db.encIter = iter
		db.encSalt = salt
		db.encKey = deriveKey(opts.Passphrase, salt, iter)
		// Writable opens of a plaintext or fresh file encrypt at close.
		if !readonly {
			db.dirty = true
		}
	}

	if err := db.applySafety(opts.Flags); err != nil {
		return err
	}
	db.work = &fileStream{f: plain}
	size, err := db.work.Size()
	if err != nil {
		return db.fail(StatusError, msgReadFailed)
	}
	if !db.unsafe && size > maxFileSize() {
		return db.fail(StatusRange, msgDatabaseTooLarge)
	}
	db.configured = true
	db.clearValues()
	return nil
}

// applySafety validates and records the unsafe flag for the sizing mode.
func (db *DB) applySafety(flags Flag) error {
	if flags&FlagUnsafe == 0 {
		return nil
	}
	if !allowUnsafe {
		return db.fail(StatusError, msgUnsafeUnavailable)
	}
	db.unsafe = true
	return nil
}

func openStatusMsg(st Status) int {
	switch st {
	case StatusNotFound:
		return msgNoDatabaseToRead
	case StatusPerm:
		return msgOpenFailed
	case StatusBusy:
		return msgLockFailed
	}
	return msgUnknown
}

// Close releases the handle. For an encrypted, writable, dirty handle it
// first re-encrypts the working stream back over the backing file; the
// replacement is atomic, so a failed writeback leaves the previous container
// intact. The derived key is wiped in every path.
func (db *DB) Close() error {
	if db == nil || !db.configured {
		return nil
	}
	var werr error
	if db.encEnabled && db.encKey != nil && !db.readonly && db.dirty {
		slog.Debug("idydb: close writeback", "file", db.backing.path, "pbkdf2_iter", db.encIter)
		werr = db.writeback()
		if werr != nil {
			slog.Debug("idydb: writeback failed; backing file left untouched", "file", db.backing.path)
		}
	}
	db.teardown()
	return werr
}

func (db *DB) writeback() error {
	sz, err := db.work.Size()
	if err != nil {
		return db.fail(StatusWritebackFailed, msgWritebackFailed)
	}
	plaintext := make([]byte, sz)
	if sz > 0 {
		if _, err := db.work.ReadAt(plaintext, 0); err != nil {
			return db.fail(StatusWritebackFailed, msgWritebackFailed)
		}
	}
	container, err := sealContainer(db.encKey, db.encSalt, db.encIter, plaintext)
	wipe(plaintext)
	if err != nil {
		return db.fail(StatusWritebackFailed, msgWritebackFailed)
	}
	if err := atomic.WriteFile(db.backing.path, bytes.NewReader(container)); err != nil {
		return db.fail(StatusWritebackFailed, msgWritebackFailed)
	}
	return nil
}

// teardown releases every resource owned by the handle.
func (db *DB) teardown() {
	if db.mmapData != nil {
		munmap(db.mmapData)
		db.mmapData = nil
	}
	if db.workFile != nil {
		db.workFile.Close()
		db.workFile = nil
	}
	db.backing.close()
	db.backing = nil
	if db.encKey != nil {
		wipe(db.encKey)
		db.encKey = nil
	}
	db.work = nil
	db.configured = false
	db.clearValues()
}

// requireConfigured guards every public operation.
func (db *DB) requireConfigured() error {
	if !db.configured {
		return db.fail(StatusError, msgNotConfigured)
	}
	return nil
}

// requireWritable guards mutations.
func (db *DB) requireWritable() error {
	if err := db.requireConfigured(); err != nil {
		return err
	}
	if db.readonly {
		return db.fail(StatusReadonly, msgReadonlyMode)
	}
	return nil
}

// SecureStreamKind reports which anonymous storage backs the plaintext
// working stream of an encrypted handle ("memfd" or "tmpfile"); empty for
// plaintext handles. Diagnostic only.
func (db *DB) SecureStreamKind() string {
	return db.secureKind
}
