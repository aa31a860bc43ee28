package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical encodes d deterministically: object keys in UTF-16 code
// unit order, NFC strings, no HTML escaping. Decimals and times are encoded
// as strings so they never pass through a float.
func MarshalCanonical(d *DataDiff) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("marshal diff: nil diff")
	}
	return marshalValue(diffObject(d))
}

func diffObject(d *DataDiff) map[string]any {
	rows := make([]any, len(d.Rows))
	for i, r := range d.Rows {
		changes := make(map[string]any, len(r.Changes))
		for name, fc := range r.Changes {
			changes[name] = map[string]any{"old": fc.Old, "new": fc.New}
		}
		rows[i] = map[string]any{"key": r.Key, "is_new": r.IsNew, "changes": changes}
	}
	keys := make([]any, len(d.KeyField))
	for i, k := range d.KeyField {
		keys[i] = k
	}
	obj := map[string]any{
		"data_source": d.DataSource,
		"key_field":   keys,
		"rows":        rows,
	}
	if len(d.Children) > 0 {
		children := make(map[string]any, len(d.Children))
		for name, c := range d.Children {
			children[name] = diffObject(c)
		}
		obj["children"] = children
	}
	return obj
}

func marshalValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return marshalString(x)
	case bool:
		return []byte(strconv.FormatBool(x)), nil
	case int:
		return []byte(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return []byte(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return []byte(strconv.FormatInt(x, 10)), nil
	case json.Number:
		return []byte(x.String()), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("non-finite float %v", x)
		}
		return []byte(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case *apd.Decimal:
		if x == nil {
			return []byte("null"), nil
		}
		return marshalString(x.Text('f'))
	case time.Time:
		return marshalString(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		return marshalString(base64.StdEncoding.EncodeToString(x))
	case fmt.Stringer:
		return marshalString(x.String())
	case []any:
		return marshalArray(x)
	case map[string]any:
		return marshalObject(x)
	}
	return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
}

// marshalString NFC-normalizes s and encodes it without HTML escaping.
// U+2028 and U+2029 are left literal.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators turns escaped U+2028 and U+2029 back into literal
// characters, skipping sequences whose backslash is itself escaped.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') && precedingBackslashes(out)%2 == 0 {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i])
	}
	return out
}

func precedingBackslashes(b []byte) int {
	n := 0
	for i := len(b) - 1; i >= 0 && b[i] == '\\'; i-- {
		n++
	}
	return n
}

func marshalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// compareUTF16 orders strings by UTF-16 code units, which differs from
// byte order for characters outside the BMP.
func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}
