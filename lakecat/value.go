package lakecat

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LogicalType is the logical type of a column.
type LogicalType uint8

// Logical types.
const (
	TypeUnknown LogicalType = iota
	TypeInteger
	TypeDouble
	TypeText
	TypeDate
	TypeBoolean
)

var logicalTypeNames = [...]string{
	TypeUnknown: "UNKNOWN",
	TypeInteger: "INTEGER",
	TypeDouble:  "DOUBLE",
	TypeText:    "TEXT",
	TypeDate:    "DATE",
	TypeBoolean: "BOOLEAN",
}

func (t LogicalType) String() string {
	if int(t) < len(logicalTypeNames) {
		return logicalTypeNames[t]
	}
	return fmt.Sprintf("LogicalType(%d)", uint8(t))
}

// ParseLogicalType parses a type name. Common SQL aliases are accepted.
func ParseLogicalType(s string) (LogicalType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INTEGER", "INT", "BIGINT", "INT64", "INT32", "SMALLINT":
		return TypeInteger, nil
	case "DOUBLE", "FLOAT", "REAL", "FLOAT64", "DECIMAL", "NUMERIC":
		return TypeDouble, nil
	case "TEXT", "VARCHAR", "STRING", "CHAR":
		return TypeText, nil
	case "DATE":
		return TypeDate, nil
	case "BOOLEAN", "BOOL":
		return TypeBoolean, nil
	default:
		return TypeUnknown, fmt.Errorf("unknown logical type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t LogicalType) MarshalText() ([]byte, error) {
	if t == TypeUnknown || int(t) >= len(logicalTypeNames) {
		return nil, fmt.Errorf("cannot marshal logical type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LogicalType) UnmarshalText(b []byte) error {
	parsed, err := ParseLogicalType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// -----------------------------------------------------------------------------
// Value
// -----------------------------------------------------------------------------

const dateLayout = "2006-01-02"

// Value is a typed scalar taken from column statistics or partition keys.
//
// DATE values are stored as days since the Unix epoch so that they order
// chronologically and compare without time zone effects.
type Value struct {
	typ LogicalType
	i   int64
	f   float64
	s   string
}

// IntValue returns an INTEGER value.
func IntValue(v int64) Value { return Value{typ: TypeInteger, i: v} }

// DoubleValue returns a DOUBLE value.
func DoubleValue(v float64) Value { return Value{typ: TypeDouble, f: v} }

// TextValue returns a TEXT value.
func TextValue(v string) Value { return Value{typ: TypeText, s: v} }

// BoolValue returns a BOOLEAN value.
func BoolValue(v bool) Value {
	if v {
		return Value{typ: TypeBoolean, i: 1}
	}
	return Value{typ: TypeBoolean}
}

// DateValue returns a DATE value for the calendar day of t in UTC.
func DateValue(t time.Time) Value {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Value{typ: TypeDate, i: day.Unix() / 86400}
}

// DateFromDays returns a DATE value from days since the Unix epoch.
func DateFromDays(days int64) Value { return Value{typ: TypeDate, i: days} }

// ParseValue parses the textual form of a value of the given type.
// Dates use the YYYY-MM-DD form.
func ParseValue(t LogicalType, s string) (Value, error) {
	switch t {
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse INTEGER %q: %w", s, err)
		}
		return IntValue(n), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse DOUBLE %q: %w", s, err)
		}
		return DoubleValue(f), nil
	case TypeText:
		return TextValue(s), nil
	case TypeDate:
		d, err := time.Parse(dateLayout, strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("parse DATE %q: %w", s, err)
		}
		return DateValue(d), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("parse BOOLEAN %q: %w", s, err)
		}
		return BoolValue(b), nil
	default:
		return Value{}, fmt.Errorf("parse value: unsupported type %s", t)
	}
}

// Type returns the logical type of the value. The zero Value has TypeUnknown.
func (v Value) Type() LogicalType { return v.typ }

// IsZero reports whether v is the zero Value.
func (v Value) IsZero() bool { return v.typ == TypeUnknown }

// Int returns the INTEGER payload.
func (v Value) Int() int64 { return v.i }

// Float returns the numeric payload as a float64 for INTEGER and DOUBLE values.
func (v Value) Float() float64 {
	if v.typ == TypeInteger {
		return float64(v.i)
	}
	return v.f
}

// Text returns the TEXT payload.
func (v Value) Text() string { return v.s }

// Bool returns the BOOLEAN payload.
func (v Value) Bool() bool { return v.i != 0 }

// Time returns a DATE value as midnight UTC.
func (v Value) Time() time.Time { return time.Unix(v.i*86400, 0).UTC() }

// Days returns a DATE value as days since the Unix epoch.
func (v Value) Days() int64 { return v.i }

func (v Value) String() string {
	switch v.typ {
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeText:
		return v.s
	case TypeDate:
		return v.Time().Format(dateLayout)
	case TypeBoolean:
		return strconv.FormatBool(v.Bool())
	default:
		return ""
	}
}

// Comparable reports whether v and w can be ordered against each other.
// INTEGER and DOUBLE are mutually comparable.
func (v Value) Comparable(w Value) bool {
	if v.typ == w.typ {
		return v.typ != TypeUnknown
	}
	return isNumeric(v.typ) && isNumeric(w.typ)
}

// Compare returns -1, 0 or +1 using the type's natural order: numeric for
// INTEGER and DOUBLE, lexicographic for TEXT, chronological for DATE and
// false before true for BOOLEAN. Values that are not Comparable order by
// type so that Compare is still a total order.
func (v Value) Compare(w Value) int {
	if !v.Comparable(w) {
		return cmp.Compare(v.typ, w.typ)
	}
	switch v.typ {
	case TypeInteger:
		if w.typ == TypeInteger {
			return cmp.Compare(v.i, w.i)
		}
		return cmp.Compare(float64(v.i), w.f)
	case TypeDouble:
		return cmp.Compare(v.f, w.Float())
	case TypeText:
		return strings.Compare(v.s, w.s)
	default:
		return cmp.Compare(v.i, w.i)
	}
}

// Equal reports whether v and w compare equal.
func (v Value) Equal(w Value) bool {
	return v.Comparable(w) && v.Compare(w) == 0
}

func isNumeric(t LogicalType) bool {
	return t == TypeInteger || t == TypeDouble
}

// -----------------------------------------------------------------------------
// JSON form
// -----------------------------------------------------------------------------

type valueJSON struct {
	Type  LogicalType `json:"type"`
	Value any         `json:"value"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}. Dates are
// written as YYYY-MM-DD strings.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Type: v.typ}
	switch v.typ {
	case TypeInteger:
		out.Value = v.i
	case TypeDouble:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot marshal non-finite DOUBLE %v", v.f)
		}
		out.Value = v.f
	case TypeText, TypeDate:
		out.Value = v.String()
	case TypeBoolean:
		out.Value = v.Bool()
	default:
		return nil, fmt.Errorf("cannot marshal value of type %s", v.typ)
	}
	return jsonCodec.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type  LogicalType `json:"type"`
		Value any         `json:"value"`
	}
	dec := jsonCodec.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	parsed, err := ParseValue(raw.Type, fmt.Sprint(raw.Value))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
