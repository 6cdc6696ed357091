package idydb

import "fmt"

// Status is the numeric result taxonomy of the database engine. The values
// are stable and part of the public surface; callers embedding IdyDB across
// language boundaries match on them directly.
type Status uint8

const (
	StatusSuccess  Status = 0 // Successful operation
	StatusError    Status = 1 // Unsuccessful operation
	StatusPerm     Status = 2 // Permission denied opening the database file
	StatusBusy     Status = 3 // The database file is locked by another handle
	StatusNotFound Status = 4 // The database file was not found
	StatusCorrupt  Status = 5 // The database file is malformed
	StatusRange    Status = 6 // The requested range is outside the database's range
	StatusReadonly Status = 8 // Mutation attempted on a read-only handle
	StatusDone     Status = 9 // The operation completed
	StatusNull     Status = 10 // The lookup resolved to a non-existent cell

	// Encryption-specific statuses.
	StatusMissingPassphrase  Status = 17 // Encrypted open without a passphrase
	StatusDecryptFailed      Status = 18 // Wrong passphrase, tampered file, or bad parameters
	StatusWritebackFailed    Status = 19 // Close-time encrypted writeback failed
	StatusSecureStreamFailed Status = 20 // No secure plaintext working storage available
	StatusMigrationRequired  Status = 21 // Encrypted read-only open over a plaintext backing file
)

// String returns the symbolic name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusPerm:
		return "perm"
	case StatusBusy:
		return "busy"
	case StatusNotFound:
		return "not_found"
	case StatusCorrupt:
		return "corrupt"
	case StatusRange:
		return "range"
	case StatusReadonly:
		return "readonly"
	case StatusDone:
		return "done"
	case StatusNull:
		return "null"
	case StatusMissingPassphrase:
		return "missing_passphrase"
	case StatusDecryptFailed:
		return "decrypt_failed"
	case StatusWritebackFailed:
		return "writeback_failed"
	case StatusSecureStreamFailed:
		return "secure_stream_failed"
	case StatusMigrationRequired:
		return "migration_required"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Error is the error value returned by every failing IdyDB operation. It
// carries the numeric status plus the same human-readable message recorded
// in the handle's last-error slot.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("idydb: %s: %s", e.Status, e.Message)
}

// Internal message ids, addressing the table below. The ids and situations
// mirror the engine's historical error states.
const (
	msgNone = iota
	msgBufferTooSmall
	msgBufferTooLarge
	msgAlreadyConfigured
	msgNoDatabaseToRead
	msgOpenFailed
	msgLockFailed
	msgDatabaseTooLarge
	msgNotConfigured
	msgReadonlyMode
	msgUnexpectedTenant
	msgValueTooLarge
	msgOutOfRange
	msgMalformedStructure
	msgReadFailed
	msgWriteFailed
	msgSkipUpdateFailed
	msgTruncateFailed
	msgRetrieveFailed
	msgRetrieveTooLarge
	msgInvalidDatatype
	msgRangeBelowOne
	msgRangeExceedsSizing
	msgUnsafeUnavailable
	msgAllocFailed
	msgUnknown
	msgMissingPassphrase
	msgDecryptFailed
	msgWritebackFailed
	msgSecureStreamFailed
	msgMigrationRequired
)

var errMessages = [...]string{
	msgNone:               "",
	msgBufferTooSmall:     "the minimum buffer size has encroached beyond suitable definitions",
	msgBufferTooLarge:     "the maximum buffer size has encroached beyond suitable definitions",
	msgAlreadyConfigured:  "the database handle has already been attributed to handle another database",
	msgNoDatabaseToRead:   "no database exists to be exclusively read",
	msgOpenFailed:         "failed to open the database",
	msgLockFailed:         "exclusive rights to access the database could not be obtained",
	msgDatabaseTooLarge:   "the database attempted to access has a larger size than what this handle can read",
	msgNotConfigured:      "the database handle has not been attributed to handle a database",
	msgReadonlyMode:       "the database was opened in readonly mode",
	msgUnexpectedTenant:   "data insertion avoided due to unexpected tenant",
	msgValueTooLarge:      "data insertion avoided due to the length of a string or vector being too large",
	msgOutOfRange:         "the requested range was outside of the database's range (sizing mode: " + sizingModeName + ")",
	msgMalformedStructure: "the database contracted a malformed structure declaration",
	msgReadFailed:         "an error occurred in attempting to read data from the database",
	msgWriteFailed:        "an error occurred in attempting to write data to the database",
	msgSkipUpdateFailed:   "an error occurred in attempting to update a skip offset notation in the database",
	msgTruncateFailed:     "failed database truncation occurred",
	msgRetrieveFailed:     "an error occurred in attempting to retrieve data from the database",
	msgRetrieveTooLarge:   "data retrieval avoided due to the length of a string being too large",
	msgInvalidDatatype:    "the database yielded an invalid datatype",
	msgRangeBelowOne:      "the requested range must have a valid starting range of at least 1",
	msgRangeExceedsSizing: "the database declares ranges that exceed the current sizing mode",
	msgUnsafeUnavailable:  "unable to enable unsafe mode under the current sizing mode",
	msgAllocFailed:        "unable to allocate working memory for the database handle",
	msgUnknown:            "an unknown error occurred",
	msgMissingPassphrase:  "encryption requested but no passphrase supplied",
	msgDecryptFailed:      "database decryption failed (wrong passphrase, tampered file, or unsupported parameters)",
	msgWritebackFailed:    "database encryption writeback failed",
	msgSecureStreamFailed: "failed to create secure in-memory plaintext working storage",
	msgMigrationRequired:  "encrypted readonly open cannot migrate a plaintext database; open writable once to migrate",
}

// fail records the error message on the handle and returns a typed error.
func (db *DB) fail(status Status, msgID int) error {
	if msgID < 0 || msgID >= len(errMessages) {
		msgID = msgUnknown
	}
	db.errMessage = errMessages[msgID]
	return &Error{Status: status, Message: db.errMessage}
}

// failf records a formatted error message on the handle and returns a typed
// error. Used where the fixed table lacks the necessary detail.
func (db *DB) failf(status Status, format string, args ...any) error {
	db.errMessage = fmt.Sprintf(format, args...)
	return &Error{Status: status, Message: db.errMessage}
}

// Errmsg returns the message recorded by the most recent failing operation.
// Its content is undefined after a successful call; check returned errors
// first.
func (db *DB) Errmsg() string {
	if db == nil {
		return "this handle failed to be set up"
	}
	return db.errMessage
}
