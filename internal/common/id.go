package common

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDocumentID generates a unique document ID with the "doc_" prefix.
// Format: doc_<uuid>
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// crockford is the Crockford base32 alphabet: no I, L, O, U, to avoid
// ambiguity with 1/0 and no accidental profanity.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewKey returns a 26-character, lexicographically sortable key: a 48-bit
// millisecond timestamp followed by 80 bits of randomness, both Crockford
// base32 encoded. A key minted in a later millisecond always sorts after
// one minted in an earlier millisecond, which is what the
// pending/update/day-index paths need (plain
// github.com/google/uuid values don't sort by time). Collisions within the
// same millisecond are resolved by the random suffix, not by sequencing.
func NewKey() string {
	return EncodeKey(time.Now())
}

// EncodeKey encodes an arbitrary timestamp into a K-sortable key. Exposed
// separately from NewKey so callers can mint a key for a chosen time
// (e.g. 2026-07-31T23:59 for a day-index row). Only the first 8 characters
// (the timestamp) are deterministic; the 18-character tail is random.
func EncodeKey(t time.Time) string {
	var buf [16]byte
	ms := uint64(t.UnixMilli())
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)

	if _, err := rand.Read(buf[6:]); err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// time-only suffix rather than panicking mid-job-filing.
		binary.BigEndian.PutUint64(buf[6:14], uint64(t.UnixNano()))
	}

	return encodeCrockford(buf)
}

// encodeCrockford renders 16 bytes (128 bits) as 26 Crockford base32
// characters, matching the classic ULID encoding layout.
func encodeCrockford(buf [16]byte) string {
	var sb strings.Builder
	sb.Grow(26)

	// First 48 bits (6 bytes) -> 8 chars.
	ts := uint64(buf[0])<<40 | uint64(buf[1])<<32 | uint64(buf[2])<<24 |
		uint64(buf[3])<<16 | uint64(buf[4])<<8 | uint64(buf[5])
	for i := 7; i >= 0; i-- {
		sb.WriteByte(crockford[(ts>>(uint(i)*5))&0x1F])
	}

	// Remaining 80 bits (10 bytes) -> 16 chars, 5 bits at a time (80 divides
	// evenly into 5-bit groups, so there's no leftover to pad).
	entropy := buf[6:]
	var acc uint64
	var bits uint
	var out [16]byte
	idx := 0
	for _, b := range entropy {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[idx] = crockford[(acc>>bits)&0x1F]
			idx++
		}
	}
	sb.Write(out[:idx])

	return sb.String()
}

// crockfordValue maps each byte to its Crockford base32 value, or -1 if
// the byte isn't a valid Crockford digit. Built once at package init.
var crockfordValue = func() [256]int8 {
	var tbl [256]int8
	for i := range tbl {
		tbl[i] = -1
	}
	for i := 0; i < len(crockford); i++ {
		tbl[crockford[i]] = int8(i)
	}
	return tbl
}()

// KeyTime recovers the millisecond timestamp embedded in the first 8
// characters of a key minted by NewKey/EncodeKey, used by report
// aggregation to window rows by their key's creation time. Returns the
// zero Time if key is shorter than 8 characters or contains a character
// outside the Crockford alphabet.
func KeyTime(key string) time.Time {
	if len(key) < 8 {
		return time.Time{}
	}
	var ts uint64
	for i := 0; i < 8; i++ {
		v := crockfordValue[key[i]]
		if v < 0 {
			return time.Time{}
		}
		ts = ts<<5 | uint64(v)
	}
	return time.UnixMilli(int64(ts)).UTC()
}

// DayIndex returns the "YYYY-MM-DD" day bucket a timestamp files under,
// used to build the success/day-index and failure/day-index paths.
func DayIndex(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
