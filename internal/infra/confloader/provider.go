package confloader

import (
	"errors"
	"strings"
)

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider.
var ErrReadBytesNotSupported = errors.New("confloader: map provider has no byte form")

// mapProvider feeds a map of dotted keys ("storage.dir") to koanf. Nested
// maps are passed through unchanged.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		insert(out, strings.Split(k, "."), v)
	}
	return out, nil
}

func insert(dst map[string]any, path []string, v any) {
	if len(path) == 1 {
		dst[path[0]] = v
		return
	}
	child, ok := dst[path[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		dst[path[0]] = child
	}
	insert(child, path[1:], v)
}
