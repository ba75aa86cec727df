package sqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Value tags. JSON alone cannot tell an int from a float, or a time or UUID
// from a string, so every stored value carries the canonical type it had.
const (
	tagNull   = "null"
	tagString = "string"
	tagInt    = "int"
	tagFloat  = "float"
	tagBool   = "bool"
	tagTime   = "time"
	tagUUID   = "uuid"
	tagJSON   = "json"
)

// taggedValue is one property value as stored in the data column and in
// JSONL snapshots.
type taggedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

// recordJSON is the JSON form of a types.Record.
type recordJSON struct {
	Class  string                 `json:"class"`
	Key    string                 `json:"key"`
	Values map[string]taggedValue `json:"values"`
}

func encodeValue(v any) (taggedValue, error) {
	var tag string
	var raw any
	switch x := v.(type) {
	case nil:
		return taggedValue{T: tagNull}, nil
	case string:
		tag, raw = tagString, x
	case int64:
		tag, raw = tagInt, x
	case int:
		tag, raw = tagInt, int64(x)
	case float64:
		tag, raw = tagFloat, x
	case bool:
		tag, raw = tagBool, x
	case time.Time:
		tag, raw = tagTime, x.Format(time.RFC3339Nano)
	case uuid.UUID:
		tag, raw = tagUUID, x.String()
	default:
		tag, raw = tagJSON, x
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return taggedValue{}, fmt.Errorf("encoding %T value: %w", v, err)
	}
	return taggedValue{T: tag, V: b}, nil
}

func decodeValue(tv taggedValue) (any, error) {
	switch tv.T {
	case tagNull:
		return nil, nil
	case tagString:
		var s string
		err := json.Unmarshal(tv.V, &s)
		return s, err
	case tagInt:
		var n int64
		err := json.Unmarshal(tv.V, &n)
		return n, err
	case tagFloat:
		var f float64
		err := json.Unmarshal(tv.V, &f)
		return f, err
	case tagBool:
		var b bool
		err := json.Unmarshal(tv.V, &b)
		return b, err
	case tagTime:
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case tagUUID:
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return nil, err
		}
		return uuid.Parse(s)
	case tagJSON:
		dec := json.NewDecoder(bytes.NewReader(tv.V))
		dec.UseNumber()
		var v any
		err := dec.Decode(&v)
		return v, err
	}
	return nil, fmt.Errorf("unknown value tag %q", tv.T)
}

func toRecordJSON(rec types.Record) (recordJSON, error) {
	out := recordJSON{Class: rec.Class, Key: rec.Key, Values: make(map[string]taggedValue, len(rec.Values))}
	for name, v := range rec.Values {
		tv, err := encodeValue(v)
		if err != nil {
			return recordJSON{}, fmt.Errorf("%s %s.%s: %w", rec.Class, rec.Key, name, err)
		}
		out.Values[name] = tv
	}
	return out, nil
}

func fromRecordJSON(rj recordJSON) (types.Record, error) {
	rec := types.Record{Class: rj.Class, Key: rj.Key, Values: make(map[string]any, len(rj.Values))}
	for name, tv := range rj.Values {
		v, err := decodeValue(tv)
		if err != nil {
			return types.Record{}, fmt.Errorf("%s %s.%s: %w", rj.Class, rj.Key, name, err)
		}
		rec.Values[name] = v
	}
	return rec, nil
}

// encodeRecord returns the JSON stored in the data column.
func encodeRecord(rec types.Record) ([]byte, error) {
	rj, err := toRecordJSON(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rj)
}

// decodeRecord parses a data column.
func decodeRecord(data []byte) (types.Record, error) {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return types.Record{}, err
	}
	return fromRecordJSON(rj)
}
