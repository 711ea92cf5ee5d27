// Package document resolves document references in imported submissions to
// stored, content-addressed documents.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Slot is the document type: the submission, the final version, or the id
// of a document option.
type Slot int

const (
	SlotSubmission Slot = 0
	SlotFinal      Slot = -1
)

type Document struct {
	ID                int64
	PaperID           int64
	Slot              Slot
	Hash              string
	Size              int64
	Mimetype          string
	Filename          string
	Timestamp         time.Time
	BlobKey           string
	Filter            int
	OriginalID        int64
	OriginalHash      string
	OriginalTimestamp time.Time
}

// IsEmpty reports whether d is the empty sentinel used for a slot with no
// document or a failed upload.
func (d Document) IsEmpty() bool {
	return d.ID == 0 && d.Hash == ""
}

// IsPending reports whether d has stored content but no row yet.
func (d Document) IsPending() bool {
	return d.ID == 0 && d.Hash != ""
}

// Same reports whether a and b are the same stored document.
func Same(a, b Document) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() && b.IsEmpty()
	}
	if a.ID != 0 && b.ID != 0 {
		return a.ID == b.ID
	}
	return false
}

const hashPrefix = "sha2-"

var (
	sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)
	sha1Hex   = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// HashContent returns the text form of the content address of b.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// NormalizeHash converts a caller supplied hash to its stored text form.
// SHA-256 hashes are stored as "sha2-<hex>"; legacy SHA-1 hashes are
// stored as bare hex.
func NormalizeHash(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, hashPrefix) && sha256Hex.MatchString(s[len(hashPrefix):]):
		return s, true
	case sha256Hex.MatchString(s):
		return hashPrefix + s, true
	case strings.HasPrefix(s, "sha1-") && sha1Hex.MatchString(s[5:]):
		return s[5:], true
	case sha1Hex.MatchString(s):
		return s, true
	}
	return "", false
}

func hexPart(hash string) string {
	return strings.TrimPrefix(hash, hashPrefix)
}
