package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	seqSize  = 8
	typeSize = 1

	// TrailerSize is the number of bytes an internal key adds after the user key.
	TrailerSize = seqSize + typeSize
)

// ParsedKey is a versioned user key.
//
// Ordering: user key ascending, then sequence descending, then type descending,
// so the newest version of a user key comes first.
type ParsedKey struct {
	UserKey Key
	Seq     SeqN
	Type    RecordType
}

func NewKey(userKey Key, seq SeqN, typ RecordType) ParsedKey {
	return ParsedKey{UserKey: userKey, Seq: seq, Type: typ}
}

// SeekKey is the smallest key that sorts at or after every record of userKey visible at seq.
func SeekKey(userKey Key, seq SeqN) ParsedKey {
	return ParsedKey{UserKey: userKey, Seq: seq, Type: RecordValue}
}

// EncodedLen is the length of the internal key encoding.
func (k ParsedKey) EncodedLen() int {
	return len(k.UserKey) + TrailerSize
}

// AppendEncoded appends user_key | seq | type to dst.
func (k ParsedKey) AppendEncoded(dst []byte) []byte {
	dst = append(dst, k.UserKey...)
	dst = binary.NativeEndian.AppendUint64(dst, k.Seq)
	return append(dst, byte(k.Type))
}

func (k ParsedKey) Encode() []byte {
	return k.AppendEncoded(make([]byte, 0, k.EncodedLen()))
}

func (k ParsedKey) String() string {
	return fmt.Sprintf("%q#%d,%s", k.UserKey, k.Seq, k.Type)
}

// DecodeKey parses an internal key without copying. The returned user key aliases b.
func DecodeKey(b []byte) (ParsedKey, bool) {
	if len(b) < TrailerSize {
		return ParsedKey{}, false
	}
	n := len(b) - TrailerSize
	return ParsedKey{
		UserKey: b[:n:n],
		Seq:     binary.NativeEndian.Uint64(b[n : n+seqSize]),
		Type:    RecordType(b[n+seqSize]),
	}, true
}

// ParseKey is DecodeKey for keys already validated by their container.
// A short key yields the zero ParsedKey.
func ParseKey(b []byte) ParsedKey {
	k, _ := DecodeKey(b)
	return k
}

// UserKey returns the user key part of an internal key.
func UserKey(b []byte) []byte {
	if len(b) < TrailerSize {
		return nil
	}
	return b[:len(b)-TrailerSize]
}

func Compare(a, b ParsedKey) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Seq > b.Seq:
		return -1
	case a.Seq < b.Seq:
		return 1
	}
	switch {
	case a.Type > b.Type:
		return -1
	case a.Type < b.Type:
		return 1
	}
	return 0
}

func Less(a, b ParsedKey) bool {
	return Compare(a, b) < 0
}

// CompareInternal compares two encoded internal keys in place.
func CompareInternal(a, b []byte) int {
	return Compare(ParseKey(a), ParseKey(b))
}

// CompareEncoded compares an encoded internal key against a parsed one.
func CompareEncoded(a []byte, b ParsedKey) int {
	return Compare(ParseKey(a), b)
}
