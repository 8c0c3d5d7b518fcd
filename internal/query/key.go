package query

import (
	"fmt"
	"strings"
)

// Key identifies a cache entry: the operation name followed by its
// parameters. Keys compare by their printed parts.
type Key []any

// K builds a key.
func K(name string, params ...any) Key {
	return append(Key{name}, params...)
}

// Name returns the operation name, the first part of the key.
func (k Key) Name() string {
	if len(k) == 0 {
		return ""
	}
	return fmt.Sprint(k[0])
}

// String returns the map form of the key.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, "\x1f")
}

// HasPrefix reports whether every part of prefix matches the leading parts
// of k. An empty prefix matches every key.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, p := range prefix {
		if fmt.Sprint(p) != fmt.Sprint(k[i]) {
			return false
		}
	}
	return true
}
