package parity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// floater matches engine decimal types that expose a float view.
type floater interface {
	Float64() float64
}

// NormalizeValue renders a scanned SQL value as text that is equal for
// equal FHIRPath values across engines. Numbers lose insignificant zeros
// and JSON is re-encoded with sorted keys.
func NormalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int:
		return decimal.NewFromInt(int64(x)).String()
	case int32:
		return decimal.NewFromInt32(x).String()
	case int64:
		return decimal.NewFromInt(x).String()
	case float32:
		return decimal.NewFromFloat32(x).String()
	case float64:
		return decimal.NewFromFloat(x).String()
	case decimal.Decimal:
		return x.String()
	case []byte:
		return normalizeText(string(x))
	case string:
		return normalizeText(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case map[string]any, []any:
		return canonicalJSON(x)
	case floater:
		return decimal.NewFromFloat(x.Float64()).String()
	}
	return fmt.Sprint(v)
}

// NormalizeRow joins the normalized values of row.
func NormalizeRow(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = NormalizeValue(v)
	}
	return strings.Join(parts, "\x1f")
}

func normalizeText(s string) string {
	trimmed := strings.TrimSpace(s)
	if d, err := decimal.NewFromString(trimmed); err == nil {
		return d.String()
	}
	if trimmed == "" || !strings.ContainsAny(trimmed[:1], "{[\"") {
		return s
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return s
	}
	return canonicalJSON(doc)
}

func canonicalJSON(doc any) string {
	out, err := json.Marshal(normalizeNumbers(doc))
	if err != nil {
		return fmt.Sprint(doc)
	}
	return string(out)
}

// normalizeNumbers replaces every number in a decoded JSON document by its
// shortest decimal form, as a json.Number so it is encoded unquoted.
func normalizeNumbers(doc any) any {
	switch x := doc.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return json.Number(d.String())
		}
		return x
	case float64:
		return json.Number(decimal.NewFromFloat(x).String())
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = normalizeNumbers(v)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			out[i] = normalizeNumbers(v)
		}
		return out
	}
	return doc
}

// multiset returns the normalized rows, sorted.
func multiset(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = NormalizeRow(r)
	}
	sort.Strings(out)
	return out
}

// difference returns the elements of a missing from b, respecting
// multiplicity. Both inputs must be sorted.
func difference(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) {
		switch {
		case j >= len(b) || a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			j++
		default:
			i++
			j++
		}
	}
	return out
}
