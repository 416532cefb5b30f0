// Package dberrors declares the sentinel error kinds raised by the
// storage core. Call sites wrap these with github.com/pkg/errors to
// attach context; callers branch on kind with errors.Is.
package dberrors

import "errors"

var (
	// BadFormat is returned when a file's magic number does not match.
	BadFormat = errors.New("minidb: bad file format")
	// UnsupportedVersion is returned when a file's version field is not understood.
	UnsupportedVersion = errors.New("minidb: unsupported file version")
	// ShortRead is returned when a page read returns fewer bytes than a page.
	ShortRead = errors.New("minidb: short read")
	// ShortWrite is returned when a page write writes fewer bytes than a page.
	ShortWrite = errors.New("minidb: short write")
	// NotResident is returned by unpin/flush when the page is not cached.
	NotResident = errors.New("minidb: page not resident in buffer pool")
	// BufferPoolExhausted is returned when no frame can be evicted.
	BufferPoolExhausted = errors.New("minidb: buffer pool exhausted")
	// SlotAbsent is returned by get_record for a tombstoned or out-of-range slot.
	SlotAbsent = errors.New("minidb: slot absent")
	// KeyNotFound is returned by index lookups for a missing key.
	KeyNotFound = errors.New("minidb: key not found")
	// DuplicateKey is returned by unique-index insert paths.
	DuplicateKey = errors.New("minidb: duplicate key")
	// LockTimeout is returned when a lock request's deadline elapses.
	LockTimeout = errors.New("minidb: lock wait timed out")
	// LockUpgradeBlocked is returned when a shared-to-exclusive upgrade cannot proceed.
	LockUpgradeBlocked = errors.New("minidb: lock upgrade blocked")
	// TxnNotActive is returned when committing/aborting a non-active transaction.
	TxnNotActive = errors.New("minidb: transaction not active")
	// DeadlockDetected is returned when the detector picks the caller as victim.
	DeadlockDetected = errors.New("minidb: deadlock detected")
	// ChecksumMismatch is returned when a page or WAL record fails its checksum.
	ChecksumMismatch = errors.New("minidb: checksum mismatch")
)
