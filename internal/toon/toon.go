// Package toon implements a compact token-oriented encoding for tool
// results. Uniform lists of flat records collapse into a header row of field
// names followed by one comma-separated value row per record, which is far
// cheaper for a model to read than the equivalent JSON.
package toon

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Encode renders v in TOON form. Inputs are expected to be the output of
// result normalization: maps, slices, and scalars.
func Encode(v interface{}) (string, error) {
	var b strings.Builder
	if err := encodeValue(&b, v, 0, ""); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func encodeValue(b *strings.Builder, v interface{}, depth int, key string) error {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case map[string]interface{}:
		if key != "" {
			fmt.Fprintf(b, "%s%s:\n", indent, key)
			depth++
			indent = strings.Repeat("  ", depth)
		}
		for _, k := range sortedKeys(val) {
			child := val[k]
			if isScalar(child) {
				fmt.Fprintf(b, "%s%s: %s\n", indent, k, scalar(child))
			} else if err := encodeValue(b, child, depth, k); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		if fields, ok := tabular(val); ok {
			label := key
			fmt.Fprintf(b, "%s%s[%d]{%s}:\n", indent, label, len(val), strings.Join(fields, ","))
			for _, row := range val {
				rec := row.(map[string]interface{})
				cells := make([]string, len(fields))
				for i, f := range fields {
					cells[i] = scalar(rec[f])
				}
				fmt.Fprintf(b, "%s  %s\n", indent, strings.Join(cells, ","))
			}
			return nil
		}
		label := key
		fmt.Fprintf(b, "%s%s[%d]:\n", indent, label, len(val))
		for _, item := range val {
			if isScalar(item) {
				fmt.Fprintf(b, "%s  - %s\n", indent, scalar(item))
			} else if err := encodeValue(b, item, depth+1, "-"); err != nil {
				return err
			}
		}
		return nil
	default:
		if key != "" {
			fmt.Fprintf(b, "%s%s: %s\n", indent, key, scalar(v))
		} else {
			fmt.Fprintf(b, "%s%s\n", indent, scalar(v))
		}
		return nil
	}
}

// tabular reports whether every element is a flat map over the same key set,
// which allows the columnar form. Field order follows the first record's
// sorted keys.
func tabular(list []interface{}) ([]string, bool) {
	if len(list) == 0 {
		return nil, false
	}
	var fields []string
	for i, item := range list {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		for _, v := range rec {
			if !isScalar(v) {
				return nil, false
			}
		}
		if i == 0 {
			fields = sortedKeys(rec)
			continue
		}
		if len(rec) != len(fields) {
			return nil, false
		}
		for _, f := range fields {
			if _, ok := rec[f]; !ok {
				return nil, false
			}
		}
	}
	return fields, true
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return true
	}
	return false
}

// scalar renders a leaf value. Strings containing structural characters are
// quoted so rows stay unambiguous.
func scalar(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case string:
		if strings.ContainsAny(val, ",:{}[]\"\n") || val == "" || val != strings.TrimSpace(val) {
			return strconv.Quote(val)
		}
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
