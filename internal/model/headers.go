package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Header is a single (name, value) pair.
type Header struct {
	Name  string
	Value string
}

// HeaderSet is an ordered list of header pairs. Duplicate names are allowed.
type HeaderSet []Header

// Clean returns a copy without the rows whose name is empty.
func (h HeaderSet) Clean() HeaderSet {
	out := make(HeaderSet, 0, len(h))
	for _, hdr := range h {
		if hdr.Name == "" {
			continue
		}
		out = append(out, hdr)
	}
	return out
}

// Clone returns an independent copy of h.
func (h HeaderSet) Clone() HeaderSet {
	if h == nil {
		return nil
	}
	out := make(HeaderSet, len(h))
	copy(out, h)
	return out
}

// Get returns the first value for name, compared case-insensitively.
func (h HeaderSet) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// MarshalJSON encodes the set as an array of two-element arrays, which is
// the storage format of the header columns.
func (h HeaderSet) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, 0, len(h))
	for _, hdr := range h.Clean() {
		pairs = append(pairs, [2]string{hdr.Name, hdr.Value})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes the array-of-pairs format.
func (h *HeaderSet) UnmarshalJSON(data []byte) error {
	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	out := make(HeaderSet, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("header pair %d has %d elements", i, len(p))
		}
		if p[0] == "" {
			continue
		}
		out = append(out, Header{Name: p[0], Value: p[1]})
	}
	*h = out
	return nil
}

// EncodeHeaders returns the storage representation of h.
func EncodeHeaders(h HeaderSet) string {
	data, err := json.Marshal(h)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeHeaders parses the storage representation. An empty string decodes
// to an empty set.
func DecodeHeaders(s string) (HeaderSet, error) {
	if strings.TrimSpace(s) == "" {
		return HeaderSet{}, nil
	}
	var h HeaderSet
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return HeaderSet{}, fmt.Errorf("failed to parse headers JSON: %w", err)
	}
	return h, nil
}

// ParseHeaderLines turns "Name: value" strings into a set. Lines without a
// colon are skipped.
func ParseHeaderLines(lines []string) HeaderSet {
	out := make(HeaderSet, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, Header{
			Name:  strings.TrimSpace(parts[0]),
			Value: strings.TrimSpace(parts[1]),
		})
	}
	return out
}
