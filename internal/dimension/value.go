// Package dimension decodes the per-student dimension score maps stored with
// each score fact and aggregates them into per-dimension statistics.
//
// A dimension score is stored either as a bare number or as an object
// carrying a display name:
//
//	{"ALG": 12.5, "GEO": {"name": "Geometry", "score": 8}}
//
// Both encodings decode into the same Entry.
package dimension

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the encoding a Value was decoded from.
type Kind int

const (
	KindNumeric Kind = iota + 1
	KindNamed
)

// Value is a decoded dimension score: Numeric carries only Score, Named also
// carries the embedded display name.
type Value struct {
	Kind  Kind
	Name  string
	Score float64
}

type namedPayload struct {
	Name     string           `json:"name"`
	Score    *json.RawMessage `json:"score"`
	MaxScore *json.RawMessage `json:"max_score"`
}

// UnmarshalJSON accepts a number, a numeric string, or an object with a
// name and a score (or max_score).
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty dimension value")
	}
	if data[0] == '{' {
		var p namedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode named dimension value: %w", err)
		}
		raw := p.Score
		if raw == nil {
			raw = p.MaxScore
		}
		if raw == nil {
			return fmt.Errorf("dimension object without score")
		}
		score, err := parseNumber(*raw)
		if err != nil {
			return err
		}
		*v = Value{Kind: KindNamed, Name: strings.TrimSpace(p.Name), Score: score}
		return nil
	}

	score, err := parseNumber(data)
	if err != nil {
		return err
	}
	*v = Value{Kind: KindNumeric, Score: score}
	return nil
}

func parseNumber(data []byte) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, fmt.Errorf("dimension score %s is not numeric", string(data))
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, fmt.Errorf("dimension score %q: %w", n, err)
	}
	return f, nil
}

// Entry is the canonical form of one dimension value.
type Entry struct {
	Code  string
	Name  string
	Score float64
}

// DecodeScores parses a dimension_scores document. Empty input, "null" and
// empty strings decode to no entries. Entries are sorted by code.
func DecodeScores(raw []byte) ([]Entry, error) {
	return decode(raw)
}

// DecodeMaxScores parses a dimension_max_scores document; objects may use
// either "max_score" or "score".
func DecodeMaxScores(raw []byte) ([]Entry, error) {
	return decode(raw)
}

func decode(raw []byte) ([]Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, nil
	}
	// some exports double encode the map as a JSON string
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode dimension document: %w", err)
		}
		return decode([]byte(inner))
	}

	var values map[string]*Value
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode dimension document: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for code, v := range values {
		code = strings.TrimSpace(code)
		if code == "" || v == nil {
			continue
		}
		entries = append(entries, Entry{Code: code, Name: v.Name, Score: v.Score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
	return entries, nil
}
