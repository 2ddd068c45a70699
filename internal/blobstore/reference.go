package blobstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// Reference locates a stored blob: the backend that accepted it and the
// identifier that backend issued. It is only ever minted after a confirmed
// upload.
type Reference struct {
	BackendID string `json:"backend_id"`
	FileID    string `json:"file_id"`
}

// Key is the cache key for the reference.
func (r Reference) Key() string {
	return r.BackendID + ":" + r.FileID
}

// IsZero reports whether r is the zero reference.
func (r Reference) IsZero() bool {
	return r.BackendID == "" && r.FileID == ""
}

func (r Reference) validate() error {
	if r.BackendID == "" || r.FileID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidReference, r.Key())
	}
	return nil
}

// ParseReference parses the "<backend>:<file>" form produced by Key.
func ParseReference(s string) (Reference, error) {
	backend, file, ok := strings.Cut(s, ":")
	r := Reference{BackendID: backend, FileID: file}
	if !ok {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	if err := r.validate(); err != nil {
		return Reference{}, err
	}
	return r, nil
}

const maxExtLen = 16

// ObfuscatedName returns a random 128-bit hex name that keeps only the
// extension of filename. Extensions that are long or not alphanumeric are
// dropped.
func ObfuscatedName(filename string) string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("blobstore: read random: %v", err))
	}
	return hex.EncodeToString(b[:]) + cleanExt(filename)
}

func cleanExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
