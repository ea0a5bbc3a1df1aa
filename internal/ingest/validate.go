package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// FieldKind selects how a raw field value is coerced.
type FieldKind int

const (
	KindFloat FieldKind = iota
	KindInt
)

// FieldSpec names one numeric field expected in a request.
type FieldSpec struct {
	Name string
	Kind FieldKind
}

// RawFields maps request field names to undecoded values. Form values arrive
// as strings; JSON values as json.Number, string, bool or nil.
type RawFields map[string]any

// Issue records a field that could not be coerced and was replaced by zero.
type Issue struct {
	Field   string
	Raw     string
	Missing bool
}

func (i Issue) String() string {
	if i.Missing {
		return i.Field + ": missing"
	}
	return fmt.Sprintf("%s: unparseable %q", i.Field, i.Raw)
}

// Coerced holds the numeric value of every validated field. Int fields are
// stored already truncated.
type Coerced map[string]float64

// Float returns the coerced value of a field.
func (c Coerced) Float(name string) float64 {
	return c[name]
}

// Int returns the coerced value of an integer field.
func (c Coerced) Int(name string) int {
	return int(c[name])
}

// Validate coerces every field in specs from raw. A field that is missing or
// not numeric becomes zero and is reported as an Issue; it never fails the
// reading as a whole.
func Validate(raw RawFields, specs []FieldSpec) (Coerced, []Issue) {
	out := make(Coerced, len(specs))
	var issues []Issue

	for _, spec := range specs {
		value, present := raw[spec.Name]
		if !present || value == nil || isBlank(value) {
			out[spec.Name] = 0
			issues = append(issues, Issue{Field: spec.Name, Missing: true})
			continue
		}

		f, ok := toFloat(value)
		if !ok {
			out[spec.Name] = 0
			issues = append(issues, Issue{Field: spec.Name, Raw: fmt.Sprint(value)})
			continue
		}

		if spec.Kind == KindInt {
			f = math.Trunc(f)
			if f < math.MinInt32 || f > math.MaxInt32 {
				out[spec.Name] = 0
				issues = append(issues, Issue{Field: spec.Name, Raw: fmt.Sprint(value)})
				continue
			}
		}
		out[spec.Name] = f
	}

	return out, issues
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// toFloat converts a raw value to a finite float64.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		parsed, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
