// Package fingerprint derives stable MD5 identities for configs and work
// items. Map keys are visited in sorted order so equal values always hash
// the same regardless of construction order.
package fingerprint

import (
	"crypto/md5" //nolint:gosec // identity, not security
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Mapper is implemented by ordered containers that can expose their fields.
type Mapper interface {
	Map() map[string]any
}

// Of returns the recursive fingerprint of v. Maps hash their sorted
// key/value pairs, slices hash their elements in order and everything else
// hashes its printed form.
func Of(v any) string {
	return sum(canonical(v))
}

func canonical(v any) string {
	if v == nil {
		return "null"
	}
	if m, ok := v.(Mapper); ok {
		return canonicalMap(m.Map())
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case map[string]any:
		return canonicalMap(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return canonicalMap(m)
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range rv.Len() {
			parts[i] = sum(canonical(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Pointer:
		if rv.IsNil() {
			return "null"
		}
		return canonical(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func canonicalMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(sum(canonical(m[k])))
		b.WriteByte(';')
	}
	b.WriteByte('}')
	return b.String()
}

func sum(s string) string {
	digest := md5.Sum([]byte(s)) //nolint:gosec // identity, not security
	return hex.EncodeToString(digest[:])
}
