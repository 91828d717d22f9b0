package slots

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a stable digest of a summary text.
type Fingerprint string

// NoFingerprint is the digest of the empty summary and the initial state of
// every key. No non-empty text maps to it.
const NoFingerprint Fingerprint = ""

// Digest returns the digest of text as 16 lowercase hex digits.
func Digest(text string) Fingerprint {
	if text == "" {
		return NoFingerprint
	}
	s := strconv.FormatUint(xxhash.Sum64String(text), 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return Fingerprint(s)
}

// ShouldNotify reports whether text carries information that was not the
// last thing sent for a key.
func ShouldNotify(prev Fingerprint, text string) bool {
	return text != "" && Digest(text) != prev
}

// Short returns a log-friendly prefix of the digest.
func (f Fingerprint) Short() string {
	if len(f) > 8 {
		return string(f[:8])
	}
	if f == NoFingerprint {
		return "-"
	}
	return string(f)
}
