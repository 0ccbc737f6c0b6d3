package exact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Record is one inbound business object to be synchronized, held as its
// raw JSON. It is owned transiently by the processor for the duration of
// processing and never mutated after the outcome is committed.
type Record struct {
	Stream string
	Source Source
}

// NewRecord wraps a raw JSON document as a Record for the given stream.
func NewRecord(stream string, raw string) Record {
	return Record{Stream: stream, Source: Source{data: gjson.Parse(raw)}}
}

// Source provides typed path access into a record's JSON.
type Source struct {
	data gjson.Result
}

func (s Source) StringForPath(path string) (string, bool) {
	result := s.data.Get(path)
	return result.String(), result.Exists() && (result.Value() != nil)
}

func (s Source) IntForPath(path string) (int64, bool) {
	result := s.data.Get(path)
	return result.Int(), result.Exists() && (result.Value() != nil)
}

func (s Source) FloatForPath(path string) (float64, bool) {
	result := s.data.Get(path)
	return result.Float(), result.Exists() && (result.Value() != nil)
}

func (s Source) BoolForPath(path string) (bool, bool) {
	result := s.data.Get(path)
	return result.Bool(), result.Exists() && (result.Value() != nil)
}

// ArrayForPath returns the entries under path. A path holding a string
// that itself contains serialized JSON has already been normalized by
// the dispatcher before the record reaches a sink.
func (s Source) ArrayForPath(path string) ([]gjson.Result, bool) {
	result := s.data.Get(path)
	if !result.Exists() {
		return nil, false
	}
	return result.Array(), result.IsArray()
}

func (s Source) Raw() string {
	return s.data.Raw
}

// Hash computes the content hash used as the dedup key for this record.
// Two records with identical canonical content always produce the same
// hash: the raw JSON is round-tripped through encoding/json, which
// serializes map keys in sorted order regardless of input field order.
func (r Record) Hash() (string, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(r.Source.Raw()), &v); err != nil {
		return "", fmt.Errorf("record is not valid json: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
