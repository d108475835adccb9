package tracker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// splitFilters partitions a filter map into equality filters on indexed
// fields (answerable by set intersection) and residual filters that
// need the full metadata.
func splitFilters(filters map[string]any) (indexed map[string]string, residual map[string]any) {
	indexed = map[string]string{}
	residual = map[string]any{}

	for field, cond := range filters {
		s, isString := cond.(string)
		if isString && isIndexedField(field) {
			indexed[field] = s
			continue
		}
		residual[field] = cond
	}
	return indexed, residual
}

func isIndexedField(field string) bool {
	for _, f := range indexedFields {
		if f == field {
			return true
		}
	}
	return false
}

// matchesFilters evaluates residual filters against full metadata. A
// condition is either a literal (equality) or an operator map such as
// {"$gte": "2024-01-01"}.
func matchesFilters(meta map[string]any, filters map[string]any) bool {
	for field, cond := range filters {
		value := fieldValue(meta, field)
		if !matchesCondition(value, cond) {
			return false
		}
	}
	return true
}

// fieldValue resolves a filter field against metadata; theme maps to
// the nested classification.
func fieldValue(meta map[string]any, field string) any {
	if field == "theme" {
		if theme, ok := themeOf(meta); ok {
			return theme
		}
		return nil
	}
	return meta[field]
}

func matchesCondition(value any, cond any) bool {
	ops, isOps := cond.(map[string]any)
	if !isOps {
		return equalValues(value, cond)
	}

	for op, operand := range ops {
		switch op {
		case "$gte":
			if !(compareValues(value, operand) >= 0) {
				return false
			}
		case "$lte":
			if !(compareValues(value, operand) <= 0) {
				return false
			}
		case "$gt":
			if !(compareValues(value, operand) > 0) {
				return false
			}
		case "$lt":
			if !(compareValues(value, operand) < 0) {
				return false
			}
		case "$ne":
			if equalValues(value, operand) {
				return false
			}
		case "$in":
			if !containsValue(operand, value) {
				return false
			}
		case "$nin":
			if containsValue(operand, value) {
				return false
			}
		default:
			// Unknown operators match nothing.
			return false
		}
	}
	return true
}

// compareValues orders two metadata values. Numbers compare
// numerically, everything else by string form. Missing values sort
// below everything, so range filters exclude documents lacking the
// field.
func compareValues(a, b any) int {
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsValue(list any, value any) bool {
	for _, item := range toAnySlice(list) {
		if equalValues(value, item) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
