package store

import (
	"fmt"
	"slices"
	"strings"
)

// Key is the ordered list of canonical segment values of a full key.
type Key []string

// Clone returns a copy of k.
func (k Key) Clone() Key {
	return slices.Clone(k)
}

// Equal reports whether k and other have the same segments.
func (k Key) Equal(other Key) bool {
	return slices.Equal(k, other)
}

// HasPrefix reports whether prefix is a leading run of k's segments.
func (k Key) HasPrefix(prefix Key) bool {
	return len(prefix) <= len(k) && slices.Equal(k[:len(prefix)], prefix)
}

// String renders k as a parenthesised tuple.
func (k Key) String() string {
	return "(" + strings.Join(k, ", ") + ")"
}

const keyTerminator = '/'

var segmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F")
var segmentUnescaper = strings.NewReplacer("%2F", "/", "%25", "%")

// EncodeKey renders k as a string in which each segment is escaped and
// terminated by '/'. EncodeKey(p) is a string prefix of EncodeKey(k) exactly
// when p is a key prefix of k.
func EncodeKey(k Key) string {
	var b strings.Builder
	for _, seg := range k {
		b.WriteString(segmentEscaper.Replace(seg))
		b.WriteByte(keyTerminator)
	}
	return b.String()
}

// DecodeKey parses a string produced by EncodeKey.
func DecodeKey(s string) (Key, error) {
	if s == "" {
		return Key{}, nil
	}
	if s[len(s)-1] != keyTerminator {
		return nil, fmt.Errorf("store: malformed key %q", s)
	}
	parts := strings.Split(s[:len(s)-1], string(keyTerminator))
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = segmentUnescaper.Replace(p)
	}
	return k, nil
}

// PrefixRange returns the half-open string range [lo, hi) holding the
// encodings of every key that starts with prefix. hi is empty for an empty
// prefix, meaning the range is unbounded.
func PrefixRange(prefix Key) (lo, hi string) {
	lo = EncodeKey(prefix)
	if lo == "" {
		return "", ""
	}
	return lo, lo[:len(lo)-1] + string(rune(keyTerminator+1))
}
