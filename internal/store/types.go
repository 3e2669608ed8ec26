package store

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// FileInfo describes a stored file without its contents.
type FileInfo struct {
	Key       string
	Size      int64
	Digest    [32]byte
	UpdatedAt time.Time
}

// DigestHex returns the hex encoded content digest.
func (fi FileInfo) DigestHex() string {
	return hex.EncodeToString(fi.Digest[:])
}

// Digest returns the content digest used for stored files.
func Digest(data []byte) [32]byte {
	return blake2b.Sum256(data)
}
