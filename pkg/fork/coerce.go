package fork

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// stringify converts a caller-supplied value into its string form.
// Absent values, nil or a nil pointer, are reported through ok=false so
// each caller can decide what "absent" means for it.
func stringify(v any) (s string, ok bool) {
	if rv := reflect.ValueOf(v); !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return "", false
	}

	switch val := v.(type) {
	case string:
		return val, true
	case *string:
		return *val, true
	case fmt.Stringer:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return fmt.Sprint(val), true
	}
}

// sortedKeys returns the keys of m in lexical order. Go maps carry no
// insertion order, so bulk inserts use this order to keep rendering stable.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
