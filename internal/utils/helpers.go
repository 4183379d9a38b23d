package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SliceToSet converts a slice of any comparable type to a set represented by a map[T]struct{}.
func SliceToSet[T comparable](slice []T) map[T]struct{} {
	set := make(map[T]struct{}, len(slice))
	for _, item := range slice {
		set[item] = struct{}{}
	}
	return set
}

// ToPayload converts a publish payload into the bytes sent on the wire.
// Strings and byte slices pass through; anything else is JSON encoded.
func ToPayload(v interface{}) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case nil:
		return nil, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize payload: %w", err)
		}
		return data, nil
	}
}

// ZeroPad left pads s with zeros to width, keeping only the first width characters.
func ZeroPad(s string, width int) string {
	s = strings.TrimSpace(s)
	if len(s) > width {
		s = s[:width]
	}
	return strings.Repeat("0", width-len(s)) + s
}
