package model

import (
	"bytes"
	"encoding/binary"
	"math"
)

// KeyData is an IndexedDB key in its canonical, order-preserving encoded
// form. Valid is false for "no key supplied" (the case that triggers
// auto-increment key generation on an auto-incrementing object store).
type KeyData struct {
	Valid   bool
	Encoded []byte
}

// InvalidKey is the "no key" sentinel used when a client omits a key on
// an auto-incrementing store.
var InvalidKey = KeyData{}

// NewNumberKey builds a KeyData for a numeric key, encoding it so that
// byte-lexicographic order matches numeric order for non-negative values
// (the only values the auto-increment generator produces).
func NewNumberKey(n float64) KeyData {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(n))
	return KeyData{Valid: true, Encoded: buf}
}

// NewBytesKey wraps an already-encoded key, as supplied by a client for a
// string/array/date key.
func NewBytesKey(b []byte) KeyData {
	if b == nil {
		return InvalidKey
	}
	return KeyData{Valid: true, Encoded: append([]byte(nil), b...)}
}

// AsNumber decodes a key produced by NewNumberKey back to a float64. The
// second return value is false if the key isn't a valid 8-byte numeric
// encoding.
func (k KeyData) AsNumber() (float64, bool) {
	if !k.Valid || len(k.Encoded) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64(k.Encoded)), true
}

// Equal reports whether two keys encode to the same bytes.
func (k KeyData) Equal(other KeyData) bool {
	if k.Valid != other.Valid {
		return false
	}
	if !k.Valid {
		return true
	}
	return bytes.Equal(k.Encoded, other.Encoded)
}

// Compare orders two valid keys by their encoded bytes.
func (k KeyData) Compare(other KeyData) int {
	return bytes.Compare(k.Encoded, other.Encoded)
}

// KeyRange bounds a scan over an object store or index. A zero KeyRange
// (HasLower == HasUpper == false) matches every record.
type KeyRange struct {
	HasLower  bool
	Lower     KeyData
	LowerOpen bool
	HasUpper  bool
	Upper     KeyData
	UpperOpen bool
}

// ExactKeyRange builds a range matching exactly one key, the form
// putOrAdd and deleteRange use to target a single record.
func ExactKeyRange(key KeyData) KeyRange {
	return KeyRange{HasLower: true, Lower: key, HasUpper: true, Upper: key}
}

// Contains reports whether key falls within the range.
func (r KeyRange) Contains(key KeyData) bool {
	if !key.Valid {
		return false
	}
	if r.HasLower {
		c := key.Compare(r.Lower)
		if c < 0 || (c == 0 && r.LowerOpen) {
			return false
		}
	}
	if r.HasUpper {
		c := key.Compare(r.Upper)
		if c > 0 || (c == 0 && r.UpperOpen) {
			return false
		}
	}
	return true
}

// IndexRecordType selects what a get against an index returns: the
// index's own key, or the referenced object's value.
type IndexRecordType int

const (
	IndexRecordTypeKey IndexRecordType = iota
	IndexRecordTypeValue
)

// GetResult carries what a getRecord/getIndexRecord call found.
type GetResult struct {
	Found      bool
	Value      []byte
	Key        KeyData // the record's own key (object store key, or index key for an index get)
	PrimaryKey KeyData // the referenced object store key, populated for index gets
}
