// Package canonical implements a deterministic, RFC8785-flavored
// serialization of I-JSON values (null, bool, finite number, string,
// ordered sequence, plain string-keyed mapping). Every stored entity's id
// (see id.go for SHA-256 derivation) is computed over this
// serialization, so any two presentations of the same creation-inputs —
// regardless of map key order — must produce byte-identical output.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/engramhq/engram/internal/apperr"
)

// Marshal renders v as its canonical byte form.
//
// v must be built from nil, bool, string, a numeric type (including
// json.Number), a []any (or any slice/array of such), or a map[string]any
// (or any string-keyed map of such). Any other shape — structs, time.Time,
// []byte, channels, funcs — fails with an *apperr.InvalidInputError, as do
// non-finite numbers.
func Marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encode(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return encodeString(buf, val)
	case json.Number:
		return encodeJSONNumber(buf, val)
	case float32:
		return encodeFloat(buf, float64(val))
	case float64:
		return encodeFloat(buf, val)
	case int:
		return encodeInt(buf, int64(val))
	case int8:
		return encodeInt(buf, int64(val))
	case int16:
		return encodeInt(buf, int64(val))
	case int32:
		return encodeInt(buf, int64(val))
	case int64:
		return encodeInt(buf, val)
	case uint:
		return encodeUint(buf, uint64(val))
	case uint8:
		return encodeUint(buf, uint64(val))
	case uint16:
		return encodeUint(buf, uint64(val))
	case uint32:
		return encodeUint(buf, uint64(val))
	case uint64:
		return encodeUint(buf, val)
	case map[string]any:
		return encodeMap(buf, val)
	case []any:
		return encodeSlice(buf, val)
	}
	return encodeReflect(buf, v)
}

// encodeReflect handles string-keyed maps and slices whose element type
// isn't literally `any`, plus pointers. Anything else (structs, []byte,
// time.Time, chan, func) is rejected as non-plain.
func encodeReflect(buf *bytes.Buffer, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		buf.WriteString("null")
		return nil
	case reflect.Ptr:
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return encode(buf, rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return apperr.InvalidInput(fmt.Sprintf("canonical: non-plain mapping (key type %s)", rv.Type().Key()))
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeMap(buf, m)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return apperr.InvalidInput("canonical: byte buffers are not a plain sequence")
		}
		s := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s[i] = rv.Index(i).Interface()
		}
		return encodeSlice(buf, s)
	case reflect.Bool:
		return encode(buf, rv.Bool())
	case reflect.String:
		return encode(buf, rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return encodeInt(buf, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeUint(buf, rv.Uint())
	case reflect.Float32, reflect.Float64:
		return encodeFloat(buf, rv.Float())
	default:
		return apperr.InvalidInput(fmt.Sprintf("canonical: non-plain input of type %T", v))
	}
}

func encodeString(buf *bytes.Buffer, s string) error {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return apperr.InvalidInput(fmt.Sprintf("canonical: invalid string: %v", err))
	}
	buf.Write(bytes.TrimRight(b.Bytes(), "\n"))
	return nil
}

func encodeInt(buf *bytes.Buffer, n int64) error {
	buf.WriteString(strconv.FormatInt(n, 10))
	return nil
}

func encodeUint(buf *bytes.Buffer, n uint64) error {
	buf.WriteString(strconv.FormatUint(n, 10))
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return apperr.InvalidInput("canonical: non-finite number")
	}
	if f == 0 {
		buf.WriteString("0")
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func encodeJSONNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		return encodeInt(buf, i)
	}
	f, err := n.Float64()
	if err != nil {
		return apperr.InvalidInput(fmt.Sprintf("canonical: invalid number %q", string(n)))
	}
	return encodeFloat(buf, f)
}

func encodeSlice(buf *bytes.Buffer, s []any) error {
	buf.WriteByte('[')
	for i, elem := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	wrote := false
	for _, k := range keys {
		if wrote {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
		wrote = true
	}
	buf.WriteByte('}')
	return nil
}
