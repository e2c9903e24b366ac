package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// blobKey wraps binary payloads in JSON, which has no native byte type.
const blobKey = "$blob"

// MarshalJSON renders the Value as JSON. Maps serialize in insertion
// order; blobs serialize as {"$blob": "<base64>"}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.str)
	case KindBlob:
		return json.Marshal(map[string]string{
			blobKey: base64.StdEncoding.EncodeToString(v.blob),
		})
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		first := true
		var encErr error
		v.m.Range(func(key string, entry Value) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			k, err := json.Marshal(key)
			if err != nil {
				encErr = err
				return false
			}
			buf.Write(k)
			buf.WriteByte(':')
			e, err := json.Marshal(entry)
			if err != nil {
				encErr = err
				return false
			}
			buf.Write(e)
			return true
		})
		if encErr != nil {
			return nil, encErr
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("value: cannot marshal kind %v", v.kind)
	}
}

// UnmarshalJSON parses JSON into a Value. Object key order is preserved
// by decoding tokens rather than into a Go map.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: bad number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return Value{}, fmt.Errorf("value: arrays are not a supported value kind")
		default:
			return Value{}, fmt.Errorf("value: unexpected delimiter %q", t.String())
		}
	default:
		return Value{}, fmt.Errorf("value: unexpected token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (Value, error) {
	m := NewMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return Value{}, fmt.Errorf("value: object key is not a string: %v", keyTok)
		}
		entry, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		m.Set(key, entry)
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}

	// A single $blob key is the JSON encoding of a binary value.
	if m.Len() == 1 {
		if enc, ok := m.Get(blobKey); ok {
			s, isStr := enc.AsString()
			if !isStr {
				return Value{}, fmt.Errorf("value: %s payload must be a base64 string", blobKey)
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return Value{}, fmt.Errorf("value: bad %s payload: %w", blobKey, err)
			}
			return Blob(raw), nil
		}
	}
	return FromMap(m), nil
}
