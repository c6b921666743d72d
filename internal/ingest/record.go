package ingest

import (
	"bytes"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/icrawler/internal/hash/fingerprint"
)

// CheckpointField is the reserved key holding a message's checkpoint reference.
const CheckpointField = "__cache_file__"

// Record is a string-keyed mapping that remembers insertion order through
// JSON round-trips. Messages and results are both Records.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// RecordOf builds a record from alternating key/value pairs.
func RecordOf(pairs ...any) *Record {
	r := NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprint(pairs[i])
		}
		r.Set(key, pairs[i+1])
	}
	return r
}

// RecordFromMap builds a record from m, keeping the order given by keys.
// Keys of m that are not listed are appended in no particular order.
func RecordFromMap(m map[string]any, keys ...string) *Record {
	r := NewRecord()
	for _, k := range keys {
		if v, ok := m[k]; ok {
			r.Set(k, v)
		}
	}
	for k, v := range m {
		if !r.Has(k) {
			r.Set(k, v)
		}
	}
	return r
}

// Set stores value under key, keeping the original position of existing keys.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	if r == nil || r.values == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// String returns the value under key formatted as a string, or "" if absent.
func (r *Record) String(key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes key and returns its previous value.
func (r *Record) Delete(key string) (any, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Map returns an unordered copy of the fields.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out[k] = r.values[k]
	}
	return out
}

// Clone returns a deep copy so plugins can mutate their argument freely.
func (r *Record) Clone() *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out.Set(k, cloneValue(r.values[k]))
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Record:
		return t.Clone()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// CheckpointRef returns the checkpoint key carried by the record.
func (r *Record) CheckpointRef() string {
	return r.String(CheckpointField)
}

// SetCheckpointRef attaches a checkpoint key.
func (r *Record) SetCheckpointRef(key string) {
	r.Set(CheckpointField, key)
}

// ClearCheckpointRef detaches and returns any checkpoint key.
func (r *Record) ClearCheckpointRef() string {
	v, ok := r.Delete(CheckpointField)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Fingerprint hashes the record without its checkpoint reference, so a
// message keeps its identity across re-checkpointing.
func (r *Record) Fingerprint() string {
	m := r.Map()
	delete(m, CheckpointField)
	return fingerprint.Of(m)
}

// NormalizeNulls replaces nil values with "" before a sink sees them.
func (r *Record) NormalizeNulls() {
	if r == nil {
		return
	}
	for _, k := range r.keys {
		if r.values[k] == nil {
			r.values[k] = ""
		}
	}
}

// MarshalJSON writes the fields in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r != nil {
		for i, k := range r.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, fmt.Errorf("marshal key %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(r.values[k])
			if err != nil {
				return nil, fmt.Errorf("marshal value of %q: %w", k, err)
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping its key order. Numbers decode as
// json.Number so large ids survive intact.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := stdjson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if delim, ok := tok.(stdjson.Delim); !ok || delim != '{' {
		return errors.New("read record: expected JSON object")
	}
	r.keys = nil
	r.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read record key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("read record: unexpected key token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("read record value of %q: %w", key, err)
		}
		r.Set(key, value)
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read record end: %w", err)
	}
	return nil
}
