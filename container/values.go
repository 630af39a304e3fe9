package container

import (
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/danthegoodman1/avrosplit/table"
	"github.com/hamba/avro/v2"
)

func rowSchema(rs *avro.RecordSchema) table.Schema {
	cols := make([]table.Column, 0, len(rs.Fields()))
	for _, f := range rs.Fields() {
		cols = append(cols, table.Column{
			Name: f.Name(),
			Type: typeName(f.Type()),
		})
	}
	return table.NewSchema(rs.FullName(), cols)
}

func typeName(s avro.Schema) string {
	if named, ok := s.(avro.NamedSchema); ok {
		return named.FullName()
	}
	if u, ok := s.(*avro.UnionSchema); ok {
		name := "union["
		for i, t := range u.Types() {
			if i > 0 {
				name += ","
			}
			name += typeName(t)
		}
		return name + "]"
	}
	return string(s.Type())
}

func toRecord(rs *avro.RecordSchema, m map[string]any) table.Record {
	rec := make(table.Record, len(rs.Fields()))
	for _, f := range rs.Fields() {
		v, ok := m[f.Name()]
		if !ok {
			continue
		}
		rec[f.Name()] = toValue(f.Type(), v)
	}
	return rec
}

// toValue converts a decoded datum using its schema where the schema carries information the Go value lost
// (record field order, union branches).
func toValue(s avro.Schema, v any) table.Value {
	if v == nil {
		return table.Null()
	}
	switch sch := s.(type) {
	case *avro.RecordSchema:
		m, ok := v.(map[string]any)
		if !ok {
			return fromGo(v)
		}
		fields := make([]table.Field, 0, len(sch.Fields()))
		for _, f := range sch.Fields() {
			fv, present := m[f.Name()]
			if !present {
				fv = nil
			}
			fields = append(fields, table.Field{Name: f.Name(), Value: toValue(f.Type(), fv)})
		}
		return table.NestedRecord(fields)
	case *avro.UnionSchema:
		return unionValue(sch, v)
	case *avro.ArraySchema:
		items, ok := v.([]any)
		if !ok {
			return fromGo(v)
		}
		vals := make([]table.Value, len(items))
		for i, item := range items {
			vals[i] = toValue(sch.Items(), item)
		}
		return table.Array(vals...)
	case *avro.MapSchema:
		m, ok := v.(map[string]any)
		if !ok {
			return fromGo(v)
		}
		entries := make([]table.Field, 0, len(m))
		for k, mv := range m {
			entries = append(entries, table.Field{Name: k, Value: toValue(sch.Values(), mv)})
		}
		return table.Map(entries)
	}
	return fromGo(v)
}

func unionValue(u *avro.UnionSchema, v any) table.Value {
	// unresolved branches decode as a single entry map keyed by the branch name
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		for key, inner := range m {
			for _, branch := range u.Types() {
				if branchName(branch) == key {
					return toValue(branch, inner)
				}
			}
		}
	}
	var nonNull []avro.Schema
	for _, branch := range u.Types() {
		if branch.Type() != avro.Null {
			nonNull = append(nonNull, branch)
		}
	}
	if len(nonNull) == 1 {
		return toValue(nonNull[0], v)
	}
	return fromGo(v)
}

func branchName(s avro.Schema) string {
	if named, ok := s.(avro.NamedSchema); ok {
		return named.FullName()
	}
	return string(s.Type())
}

// fromGo converts a decoded value without schema help.
func fromGo(v any) table.Value {
	switch t := v.(type) {
	case nil:
		return table.Null()
	case string:
		return table.String(t)
	case bool:
		return table.Bool(t)
	case int:
		return table.Int(int64(t))
	case int8:
		return table.Int(int64(t))
	case int16:
		return table.Int(int64(t))
	case int32:
		return table.Int(int64(t))
	case int64:
		return table.Int(t)
	case uint8:
		return table.Int(int64(t))
	case uint16:
		return table.Int(int64(t))
	case uint32:
		return table.Int(int64(t))
	case float32:
		return table.Float32(t)
	case float64:
		return table.Float(t)
	case []byte:
		return table.Bytes(t)
	case time.Time:
		return table.String(t.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		return table.String(t.String())
	case *big.Rat:
		return table.String(t.RatString())
	case []any:
		vals := make([]table.Value, len(t))
		for i, item := range t {
			vals[i] = fromGo(item)
		}
		return table.Array(vals...)
	case map[string]any:
		entries := make([]table.Field, 0, len(t))
		for k, mv := range t {
			entries = append(entries, table.Field{Name: k, Value: fromGo(mv)})
		}
		return table.Map(entries)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array, reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// fixed decodes to a byte array
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return table.Bytes(b)
		}
		vals := make([]table.Value, rv.Len())
		for i := range vals {
			vals[i] = fromGo(rv.Index(i).Interface())
		}
		return table.Array(vals...)
	case reflect.Pointer:
		if rv.IsNil() {
			return table.Null()
		}
		return fromGo(rv.Elem().Interface())
	}
	return table.String(fmt.Sprint(v))
}
