// Package temporalkey implements the order-preserving encoding that maps a
// (keyspace, key, timestamp) triple onto the single ordered keyspace of the
// underlying KV store (see internal/kvstore). An ordinary ascending scan of
// encoded keys yields rows in exactly tuple order, which is what lets
// TemporalMatrix answer a point-in-time read without ever deserializing a
// stored object: it is a predecessor lookup on the encoded key alone.
//
// Encoding follows the style of the chunk package's binary codecs (explicit
// error sentinels, no allocation surprises, fixed-width integer fields) but
// targets ordered comparison rather than compact storage.
package temporalkey

import (
	"encoding/binary"
	"strings"

	"chronodb/internal/chronoerr"
)

// Timestamp is an unsigned 63-bit monotonically increasing logical clock,
// scoped per branch. Zero means "no commit yet".
type Timestamp uint64

// separator delimits keyspace/key/timestamp fields. It must never appear
// inside a keyspace or key value; callers are responsible for rejecting
// keyspace/key strings containing it (see chronoerr.ErrInvalidArgument).
const separator = 0x00

// timestampWidth is the fixed width, in bytes, of the big-endian encoded
// timestamp suffix. Exactly 8 bytes per spec: a Timestamp is unsigned and
// fits in 63 bits, but is stored in the full 8-byte big-endian form so that
// ordinary byte-wise comparison equals unsigned numeric comparison.
const timestampWidth = 8

// Triple is the decoded form of a temporal key.
type Triple struct {
	Keyspace string
	Key      string
	T        Timestamp
}

// ContainsSeparator reports whether s contains the byte used to delimit
// fields, which would corrupt the ordering invariant if allowed through.
func ContainsSeparator(s string) bool {
	return strings.IndexByte(s, separator) >= 0
}

// Encode produces the order-preserving byte string for (keyspace, key, t):
//
//	keyspace '\x00' key '\x00' bigEndianFixedWidth(t)
//
// Lexicographic comparison of two encoded keys equals comparison of the
// (keyspace, key, t) tuples, because '\x00' sorts before every other byte
// that may legally appear in a keyspace or key, and the timestamp suffix is
// fixed-width big-endian so numeric and byte-wise order coincide.
func Encode(keyspace, key string, t Timestamp) []byte {
	buf := make([]byte, len(keyspace)+1+len(key)+1+timestampWidth)
	n := copy(buf, keyspace)
	buf[n] = separator
	n++
	n += copy(buf[n:], key)
	buf[n] = separator
	n++
	binary.BigEndian.PutUint64(buf[n:], uint64(t))
	return buf
}

// EncodePrefix produces the encoded (keyspace, key) prefix with no
// timestamp suffix, i.e. everything up to and including the second
// separator. Every encoded key for (keyspace, key) shares this prefix, and
// because the separator byte sorts before the timestamp's possible leading
// bytes, a range scan over [EncodePrefix(k), EncodePrefix(k)+0xff...] or
// equivalently [Encode(k,0), Encode(k,maxTimestamp)] yields exactly the
// versions of that key.
func EncodePrefix(keyspace, key string) []byte {
	buf := make([]byte, len(keyspace)+1+len(key)+1)
	n := copy(buf, keyspace)
	buf[n] = separator
	n++
	n += copy(buf[n:], key)
	buf[n] = separator
	return buf
}

// Decode recovers the (keyspace, key, t) triple from an encoded byte string.
// Fails with chronoerr.ErrInvalidEncoding if the separator count is wrong
// or the trailing timestamp is not exactly timestampWidth bytes.
func Decode(encoded []byte) (Triple, error) {
	if len(encoded) < timestampWidth {
		return Triple{}, chronoerr.ErrInvalidEncoding
	}
	// Only the keyspace+key prefix can legally contain a separator byte;
	// the fixed-width timestamp suffix is arbitrary binary and must not be
	// scanned, since small timestamps are full of 0x00 bytes.
	prefix := encoded[:len(encoded)-timestampWidth]

	firstSep := -1
	secondSep := -1
	for i, b := range prefix {
		if b != separator {
			continue
		}
		if firstSep == -1 {
			firstSep = i
			continue
		}
		if secondSep == -1 {
			secondSep = i
			continue
		}
		// A third separator means a keyspace or key embedded one, which
		// should never happen for keys produced by Encode.
		return Triple{}, chronoerr.ErrInvalidEncoding
	}
	if firstSep == -1 || secondSep == -1 {
		return Triple{}, chronoerr.ErrInvalidEncoding
	}
	// The second separator must sit immediately before the timestamp, so
	// that exactly timestampWidth bytes follow it.
	if secondSep != len(prefix)-1 {
		return Triple{}, chronoerr.ErrInvalidEncoding
	}

	keyspace := string(encoded[:firstSep])
	key := string(encoded[firstSep+1 : secondSep])
	t := Timestamp(binary.BigEndian.Uint64(encoded[secondSep+1:]))

	return Triple{Keyspace: keyspace, Key: key, T: t}, nil
}

// SamePair reports whether the decoded triple addresses the given
// (keyspace, key) pair, used by TemporalMatrix.get to check that a
// predecessor lookup landed on the requested key rather than a neighboring
// one.
func (t Triple) SamePair(keyspace, key string) bool {
	return t.Keyspace == keyspace && t.Key == key
}
