package table

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"
	"unicode/utf8"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindArray
	KindMap
	KindRecord
)

type (
	// Value is a dynamically typed record value.
	Value struct {
		Kind Kind

		str    string
		num    int64
		flt    float64
		f32    bool
		bytes  []byte
		items  []Value
		fields []Field
	}

	// Field is a named value inside a map or nested record.
	Field struct {
		Name  string
		Value Value
	}
)

func Null() Value { return Value{Kind: KindNull} }

func String(s string) Value { return Value{Kind: KindString, str: s} }

func Int(i int64) Value { return Value{Kind: KindInt, num: i} }

func Float(f float64) Value { return Value{Kind: KindFloat, flt: f} }

// Float32 keeps single precision formatting, so 1.1 renders as "1.1" and not its float64 widening.
func Float32(f float32) Value { return Value{Kind: KindFloat, flt: float64(f), f32: true} }

func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

func Bytes(b []byte) Value { return Value{Kind: KindBytes, bytes: b} }

func Array(items ...Value) Value { return Value{Kind: KindArray, items: items} }

// Map sorts its entries by key.
func Map(entries []Field) Value {
	sorted := append([]Field(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return Value{Kind: KindMap, fields: sorted}
}

// NestedRecord keeps fields in the given (declaration) order.
func NestedRecord(fields []Field) Value { return Value{Kind: KindRecord, fields: fields} }

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

func (v Value) Items() []Value {
	return v.items
}

func (v Value) Fields() []Field {
	return v.fields
}

// String is the canonical string form used for row columns.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return formatFloat(v.flt, v.f32)
	case KindBool:
		return strconv.FormatBool(v.num == 1)
	case KindBytes:
		return bytesString(v.bytes)
	default:
		return string(v.appendJSON(nil))
	}
}

func formatFloat(f float64, f32 bool) string {
	if f32 {
		return strconv.FormatFloat(f, 'g', -1, 32)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func bytesString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func appendJSONString(b []byte, s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return append(b, bytes.TrimSuffix(buf.Bytes(), []byte("\n"))...)
}

// appendJSON renders nested values as compact JSON.
func (v Value) appendJSON(b []byte) []byte {
	switch v.Kind {
	case KindNull:
		return append(b, "null"...)
	case KindString:
		return appendJSONString(b, v.str)
	case KindBytes:
		return appendJSONString(b, bytesString(v.bytes))
	case KindInt, KindBool:
		return append(b, v.String()...)
	case KindFloat:
		s := v.String()
		if s == "NaN" || s == "+Inf" || s == "-Inf" {
			return appendJSONString(b, s)
		}
		return append(b, s...)
	case KindArray:
		b = append(b, '[')
		for i, item := range v.items {
			if i > 0 {
				b = append(b, ',')
			}
			b = item.appendJSON(b)
		}
		return append(b, ']')
	case KindMap, KindRecord:
		b = append(b, '{')
		for i, f := range v.fields {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendJSONString(b, f.Name)
			b = append(b, ':')
			b = f.Value.appendJSON(b)
		}
		return append(b, '}')
	}
	return b
}
