package precision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Schema enumerates the field paths of a document. Paths use dots between
// object keys, "[]" after a key holding an array, and "*" for any object key,
// e.g. "subjects[].dimensions[].difficulty_pct".
type Schema struct {
	// Percent paths hold values in [0,100].
	Percent []string
	// Decimal paths are modeled non-percentage numbers.
	Decimal []string
}

// ReportSchema describes the aggregation report document.
var ReportSchema = Schema{
	Percent: []string{
		"subjects[].avg_score_rate_pct",
		"subjects[].difficulty_pct",
		"subjects[].dimensions[].avg_score_rate_pct",
		"subjects[].dimensions[].difficulty_pct",
		"subjects[].option_distribution.dimensions.*[].pct",
		"subjects[].option_distribution.questions.*[].pct",
	},
	Decimal: []string{
		"subjects[].student_count",
		"subjects[].avg_score",
		"subjects[].std_deviation",
		"subjects[].discrimination",
		"subjects[].max_score",
		"subjects[].percentiles.p10",
		"subjects[].percentiles.p50",
		"subjects[].percentiles.p90",
		"subjects[].region_rank",
		"subjects[].total_schools",
		"subjects[].school_rankings[].avg_score",
		"subjects[].school_rankings[].rank",
		"subjects[].dimensions[].avg_score",
		"subjects[].dimensions[].std_deviation",
		"subjects[].dimensions[].discrimination",
		"subjects[].dimensions[].rank",
		"subjects[].dimensions[].school_rankings[].avg_score",
		"subjects[].dimensions[].school_rankings[].rank",
		"subjects[].option_distribution.dimensions.*[].option_level",
		"subjects[].option_distribution.dimensions.*[].count",
		"subjects[].option_distribution.questions.*[].option_level",
		"subjects[].option_distribution.questions.*[].count",
		"metadata.total_students",
		"metadata.total_subjects",
		"metadata.total_schools",
	},
}

// fallbackMarkers classify numeric keys that the schema does not model.
var fallbackMarkers = []string{"pct", "percentage"}

// Warning reports a percentage value that had to be clamped into [0,100].
type Warning struct {
	Path  string
	Value float64
}

func (w Warning) String() string {
	return fmt.Sprintf("%s=%g out of [0,100]", w.Path, w.Value)
}

// Formatter rounds every number in a generic JSON document and bounds
// percentage fields. Applying it twice yields the same document.
type Formatter struct {
	percent [][]string
	decimal [][]string
}

// NewFormatter compiles schema paths.
func NewFormatter(schema Schema) *Formatter {
	f := &Formatter{}
	for _, p := range schema.Percent {
		f.percent = append(f.percent, tokenize(p))
	}
	for _, p := range schema.Decimal {
		f.decimal = append(f.decimal, tokenize(p))
	}
	return f
}

// Apply walks maps and slices of a decoded JSON document in place and
// returns the formatted document with any clamp warnings.
func (f *Formatter) Apply(doc interface{}) (interface{}, []Warning) {
	var warnings []Warning
	out := f.walk(doc, nil, "", &warnings)
	return out, warnings
}

// Format marshals v, applies the formatter and decodes the result back into v.
func (f *Formatter) Format(v interface{}) ([]Warning, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	formatted, warnings := f.Apply(doc)
	raw, err = json.Marshal(formatted)
	if err != nil {
		return nil, fmt.Errorf("encode formatted document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode formatted document: %w", err)
	}
	return warnings, nil
}

func (f *Formatter) walk(node interface{}, path []string, display string, warnings *[]Warning) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			childDisplay := key
			if display != "" {
				childDisplay = display + "." + key
			}
			v[key] = f.walk(child, append(path[:len(path):len(path)], key), childDisplay, warnings)
		}
		return v
	case []interface{}:
		for i, child := range v {
			v[i] = f.walk(child, append(path[:len(path):len(path)], "[]"), display+"["+strconv.Itoa(i)+"]", warnings)
		}
		return v
	case float64:
		rounded := Round2(v)
		if f.isPercent(path) {
			clamped := ClampPct(rounded)
			if clamped != rounded {
				*warnings = append(*warnings, Warning{Path: display, Value: v})
			}
			return clamped
		}
		return rounded
	default:
		return node
	}
}

func (f *Formatter) isPercent(path []string) bool {
	for _, pattern := range f.percent {
		if match(pattern, path) {
			return true
		}
	}
	for _, pattern := range f.decimal {
		if match(pattern, path) {
			return false
		}
	}
	// unmodeled field: classify by key name
	key := lastKey(path)
	for _, marker := range fallbackMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func tokenize(pattern string) []string {
	var tokens []string
	for _, seg := range strings.Split(pattern, ".") {
		for strings.HasSuffix(seg, "[]") {
			name := strings.TrimSuffix(seg, "[]")
			if name != "" {
				tokens = append(tokens, name)
			}
			tokens = append(tokens, "[]")
			seg = ""
		}
		if seg != "" {
			tokens = append(tokens, seg)
		}
	}
	return tokens
}

func match(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, tok := range pattern {
		switch {
		case tok == path[i]:
		case tok == "*" && path[i] != "[]":
		default:
			return false
		}
	}
	return true
}

func lastKey(path []string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] != "[]" {
			return strings.ToLower(path[i])
		}
	}
	return ""
}
