package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a Value to its wire representation. msgpack's native
// "bin" family keeps Bytes distinct from String's "str" family, which is
// what the wire format requires.
func Encode(v Value) ([]byte, error) {
	return msgpack.Marshal(ToGo(v))
}

// Decode deserializes wire bytes back into a Value. If b does not parse as
// valid structured data, Decode tolerates this by passing the raw bytes
// through unchanged as a Bytes value, so untyped binary transport over the
// same channel never fails a subscriber's callback.
func Decode(b []byte) (Value, error) {
	var raw interface{}
	if err := msgpack.Unmarshal(b, &raw); err != nil {
		return Bytes(append([]byte(nil), b...)), nil
	}
	return decodeGo(raw), nil
}

// DecodeFast is a fast-path decoder for the common scalar/bin cases that
// skips msgpack's generic reflection-based decode. It falls back to Decode
// for anything beyond a single scalar, byte string, or text string, and
// must always be semantically equal to Decode's result for the same input.
func DecodeFast(b []byte) (Value, error) {
	if len(b) == 0 {
		return Decode(b)
	}
	switch b[0] {
	case 0xc0: // nil
		return Null{}, nil
	case 0xc2: // false
		return Bool(false), nil
	case 0xc3: // true
		return Bool(true), nil
	}
	// Fixstr (0xa0-0xbf), str8/16/32 (0xd9/0xda/0xdb), bin8/16/32
	// (0xc4/0xc5/0xc6), and small fixint/negative-fixint are cheap to
	// decode without the reflection path; everything else (maps, arrays,
	// floats, wide ints) defers to Decode.
	switch {
	case b[0] >= 0xa0 && b[0] <= 0xbf, b[0] == 0xd9 || b[0] == 0xda || b[0] == 0xdb:
		var s string
		if err := msgpack.Unmarshal(b, &s); err == nil {
			return String(s), nil
		}
	case b[0] == 0xc4 || b[0] == 0xc5 || b[0] == 0xc6:
		var bs []byte
		if err := msgpack.Unmarshal(b, &bs); err == nil {
			return Bytes(bs), nil
		}
	case b[0] <= 0x7f || b[0] >= 0xe0:
		var i int64
		if err := msgpack.Unmarshal(b, &i); err == nil {
			return Int(i), nil
		}
	}
	return Decode(b)
}

func decodeGo(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(t)
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case uint:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		seq := make(Sequence, len(t))
		for i, e := range t {
			seq[i] = decodeGo(e)
		}
		return seq
	case map[string]interface{}:
		m := make(Map, len(t))
		for k, e := range t {
			m[k] = decodeGo(e)
		}
		return m
	// msgpack can decode maps with non-string keys as
	// map[interface{}]interface{} depending on the wire bytes; coerce keys
	// to strings since the wire format only ever carries string keys.
	case map[interface{}]interface{}:
		m := make(Map, len(t))
		for k, e := range t {
			if ks, ok := k.(string); ok {
				m[ks] = decodeGo(e)
			}
		}
		return m
	default:
		return Null{}
	}
}
