package binding

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// stringValue converts a scalar argument to its wire form. ok is false when
// the value is absent (nil or a nil pointer).
func stringValue(v any) (s string, ok bool, err error) {
	if isNilPointer(v) {
		return "", false, nil
	}

	switch x := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return x, true, nil
	case *string:
		return *x, true, nil
	case bool:
		return strconv.FormatBool(x), true, nil
	case *bool:
		return strconv.FormatBool(*x), true, nil
	case int:
		return strconv.Itoa(x), true, nil
	case *int:
		return strconv.Itoa(*x), true, nil
	case int8:
		return strconv.FormatInt(int64(x), 10), true, nil
	case *int8:
		return strconv.FormatInt(int64(*x), 10), true, nil
	case int16:
		return strconv.FormatInt(int64(x), 10), true, nil
	case *int16:
		return strconv.FormatInt(int64(*x), 10), true, nil
	case int32:
		return strconv.FormatInt(int64(x), 10), true, nil
	case *int32:
		return strconv.FormatInt(int64(*x), 10), true, nil
	case int64:
		return strconv.FormatInt(x, 10), true, nil
	case *int64:
		return strconv.FormatInt(*x, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), true, nil
	case *uint:
		return strconv.FormatUint(uint64(*x), 10), true, nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true, nil
	case *uint8:
		return strconv.FormatUint(uint64(*x), 10), true, nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true, nil
	case *uint16:
		return strconv.FormatUint(uint64(*x), 10), true, nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true, nil
	case *uint32:
		return strconv.FormatUint(uint64(*x), 10), true, nil
	case uint64:
		return strconv.FormatUint(x, 10), true, nil
	case *uint64:
		return strconv.FormatUint(*x, 10), true, nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true, nil
	case *float32:
		return strconv.FormatFloat(float64(*x), 'f', -1, 32), true, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true, nil
	case *float64:
		return strconv.FormatFloat(*x, 'f', -1, 64), true, nil
	case time.Time:
		return x.UTC().Format(http.TimeFormat), true, nil
	case *time.Time:
		return x.UTC().Format(http.TimeFormat), true, nil
	case []string:
		if x == nil {
			return "", false, nil
		}
		return strings.Join(x, ","), true, nil
	case fmt.Stringer:
		return x.String(), true, nil
	default:
		return "", false, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// isNilPointer reports whether v is a typed nil pointer. Reflection is
// limited to this check; conversion itself stays a type switch.
func isNilPointer(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

type headerEntry struct {
	key, value string
}

// collectionValue converts a header collection argument to entries sorted by
// key. A nil map is absent.
func collectionValue(v any) (entries []headerEntry, ok bool, err error) {
	var m map[string]string
	switch x := v.(type) {
	case nil:
		return nil, false, nil
	case map[string]string:
		if x == nil {
			return nil, false, nil
		}
		m = x
	case http.Header:
		if x == nil {
			return nil, false, nil
		}
		m = make(map[string]string, len(x))
		for k, vals := range x {
			m[k] = strings.Join(vals, ",")
		}
	default:
		return nil, false, fmt.Errorf("%w: %T for header collection", ErrUnsupportedType, v)
	}

	entries = make([]headerEntry, 0, len(m))
	for k, val := range m {
		entries = append(entries, headerEntry{key: k, value: val})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	return entries, true, nil
}
