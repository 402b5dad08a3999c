package gguf

import (
	"fmt"
	"math"
	"reflect"
)

// Typed accessors for metadata. Integer getters accept any GGUF integer
// width as long as the value fits; they never convert floats.

func lookup[T any](kv map[string]Value, key string) (T, bool) {
	var zero T
	v, ok := kv[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value.(T)
	return t, ok
}

func GetString(kv map[string]Value, key string) (string, bool) {
	return lookup[string](kv, key)
}

func GetBool(kv map[string]Value, key string) (bool, bool) {
	return lookup[bool](kv, key)
}

func GetUint64(kv map[string]Value, key string) (uint64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	return asUint64(v.Value)
}

func GetInt64(kv map[string]Value, key string) (int64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	return asInt64(v.Value)
}

func GetFloat64(kv map[string]Value, key string) (float64, bool) {
	v, ok := kv[key]
	if !ok {
		return 0, false
	}
	switch f := v.Value.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	return 0, false
}

// GetArray returns the elements of an array value as []T. It fails if
// any element has a different Go type.
func GetArray[T any](kv map[string]Value, key string) ([]T, bool) {
	arr, ok := lookup[ArrayValue](kv, key)
	if !ok {
		return nil, false
	}
	out := make([]T, len(arr.Values))
	for i, e := range arr.Values {
		if out[i], ok = e.(T); !ok {
			return nil, false
		}
	}
	return out, true
}

func MustGetString(kv map[string]Value, key string) (string, error) {
	s, ok := GetString(kv, key)
	if !ok {
		return "", missingKey(kv, key, "string")
	}
	return s, nil
}

func MustGetUint64(kv map[string]Value, key string) (uint64, error) {
	u, ok := GetUint64(kv, key)
	if !ok {
		return 0, missingKey(kv, key, "unsigned integer")
	}
	return u, nil
}

func missingKey(kv map[string]Value, key, want string) error {
	v, ok := kv[key]
	if !ok {
		return fmt.Errorf("gguf: missing %s", key)
	}
	return fmt.Errorf("gguf: %s is %s, want %s", key, v.Type, want)
}

func asInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u), true
		}
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	if u, ok := v.(uint64); ok {
		return u, true
	}
	i, ok := asInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}
