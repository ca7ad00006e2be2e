package schema

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind is the value class of a Domain.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDecimal
	KindFloat
	KindBool
	KindDate
	KindDateTime
	KindEnum
	KindBlob
	KindVocab
)

var kindNames = map[Kind]string{
	KindString:   "string",
	KindInt:      "int",
	KindDecimal:  "decimal",
	KindFloat:    "float",
	KindBool:     "bool",
	KindDate:     "date",
	KindDateTime: "datetime",
	KindEnum:     "enum",
	KindBlob:     "blob",
	KindVocab:    "vocab",
}

func (k Kind) String() string { return kindNames[k] }

// Domain is the set of values an attribute admits.
//
// Coerced values have one Go type per kind: string for string, enum and
// vocab; int64 for int; float64 for decimal and float; bool; time.Time in
// UTC for date and datetime; []byte for blob.
type Domain struct {
	Kind Kind

	// Size bounds string length in characters; 0 means unbounded.
	Size int

	// Min and Max bound int values.
	Min, Max int64

	// Precision and Scale describe decimals.
	Precision, Scale int

	// Unsigned rejects negative decimals.
	Unsigned bool

	// Values lists the members of an enum.
	Values []string

	// Vocabulary names the vocabulary a vocab domain draws from.
	Vocabulary string

	notation string
}

// String returns the notation the domain was parsed from.
func (d Domain) String() string { return d.notation }

// Admits reports whether value is a member of an enum domain. Other kinds
// admit any coerced value.
func (d Domain) Admits(value string) bool {
	if d.Kind != KindEnum {
		return true
	}
	for _, v := range d.Values {
		if v == value {
			return true
		}
	}
	return false
}

var notationRE = regexp.MustCompile(`^([a-z]+)\s*(?:\((.*)\))?\s*(unsigned)?$`)

var intBounds = map[string][2]int64{
	"tinyint":   {math.MinInt8, math.MaxInt8},
	"smallint":  {math.MinInt16, math.MaxInt16},
	"mediumint": {-1 << 23, 1<<23 - 1},
	"int":       {math.MinInt32, math.MaxInt32},
	"integer":   {math.MinInt32, math.MaxInt32},
	"bigint":    {math.MinInt64, math.MaxInt64},
}

var uintBounds = map[string]int64{
	"tinyint":   math.MaxUint8,
	"smallint":  math.MaxUint16,
	"mediumint": 1<<24 - 1,
	"int":       math.MaxUint32,
	"integer":   math.MaxUint32,
	"bigint":    math.MaxInt64,
}

// ParseDomain parses a type notation such as "varchar(32)",
// "smallint unsigned", "decimal(7,2)", "enum('larva','adult')" or
// "vocab(species)".
func ParseDomain(notation string) (Domain, error) {
	n := strings.TrimSpace(notation)
	m := notationRE.FindStringSubmatch(strings.ToLower(n))
	if m == nil {
		return Domain{}, fmt.Errorf("unrecognised type %q", notation)
	}
	name, args, unsigned := m[1], m[2], m[3] != ""
	if name == "enum" || name == "vocab" {
		// keep the original case of enum members and vocabulary names
		open := strings.IndexByte(n, '(')
		args = strings.TrimSpace(n[open+1 : len(n)-1])
	}
	d := Domain{notation: n}

	switch name {
	case "varchar", "char":
		size, err := strconv.Atoi(strings.TrimSpace(args))
		if err != nil || size <= 0 {
			return Domain{}, fmt.Errorf("%s needs a positive length, got %q", name, args)
		}
		d.Kind, d.Size = KindString, size
	case "text", "string":
		d.Kind = KindString
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		d.Kind = KindInt
		if unsigned {
			d.Min, d.Max = 0, uintBounds[name]
		} else {
			b := intBounds[name]
			d.Min, d.Max = b[0], b[1]
		}
	case "decimal", "numeric":
		p, s, err := parsePrecision(args)
		if err != nil {
			return Domain{}, err
		}
		d.Kind, d.Precision, d.Scale, d.Unsigned = KindDecimal, p, s, unsigned
	case "float", "double":
		d.Kind = KindFloat
	case "bool", "boolean":
		d.Kind = KindBool
	case "date":
		d.Kind = KindDate
	case "datetime", "timestamp":
		d.Kind = KindDateTime
	case "enum":
		values, err := parseEnum(args)
		if err != nil {
			return Domain{}, err
		}
		d.Kind, d.Values = KindEnum, values
	case "blob", "longblob", "mediumblob", "attach":
		d.Kind = KindBlob
	case "vocab":
		if args == "" {
			return Domain{}, fmt.Errorf("vocab needs a vocabulary name")
		}
		d.Kind, d.Vocabulary = KindVocab, args
	default:
		return Domain{}, fmt.Errorf("unsupported type %q", notation)
	}
	return d, nil
}

func parsePrecision(args string) (int, int, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("decimal needs (precision,scale), got %q", args)
	}
	p, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	s, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || p <= 0 || s < 0 || s > p {
		return 0, 0, fmt.Errorf("invalid decimal precision %q", args)
	}
	return p, s, nil
}

func parseEnum(args string) ([]string, error) {
	var values []string
	rest := strings.TrimSpace(args)
	for rest != "" {
		if rest[0] != '\'' && rest[0] != '"' {
			return nil, fmt.Errorf("enum members must be quoted: %q", args)
		}
		q := rest[0]
		end := strings.IndexByte(rest[1:], q)
		if end < 0 {
			return nil, fmt.Errorf("unterminated enum member in %q", args)
		}
		values = append(values, rest[1:end+1])
		rest = strings.TrimSpace(rest[end+2:])
		if rest != "" {
			if rest[0] != ',' {
				return nil, fmt.Errorf("expected ',' in enum %q", args)
			}
			rest = strings.TrimSpace(rest[1:])
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("enum needs at least one member")
	}
	return values, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Coerce converts v to the canonical Go type of the domain. It never
// checks enum or vocabulary membership.
func (d Domain) Coerce(v any) (any, error) {
	switch d.Kind {
	case KindString, KindEnum, KindVocab:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", v)
		}
		if d.Size > 0 && utf8.RuneCountInString(s) > d.Size {
			return nil, fmt.Errorf("length %d exceeds %d", utf8.RuneCountInString(s), d.Size)
		}
		return s, nil
	case KindInt:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if n < d.Min || n > d.Max {
			return nil, fmt.Errorf("%d outside [%d, %d]", n, d.Min, d.Max)
		}
		return n, nil
	case KindDecimal:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		scale := math.Pow10(d.Scale)
		f = math.Round(f*scale) / scale
		if math.Abs(f) >= math.Pow10(d.Precision-d.Scale) {
			return nil, fmt.Errorf("%v exceeds decimal(%d,%d)", f, d.Precision, d.Scale)
		}
		if d.Unsigned && f < 0 {
			return nil, fmt.Errorf("%v is negative", f)
		}
		return f, nil
	case KindFloat:
		return toFloat(v)
	case KindBool:
		return toBool(v)
	case KindDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		y, m, day := t.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
	case KindDateTime:
		return toTime(v)
	case KindBlob:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("expected bytes, got %T", v)
	}
	return nil, fmt.Errorf("unknown domain kind %d", d.Kind)
}

// Format renders a coerced value as a canonical key segment.
func (d Domain) Format(v any) string {
	switch d.Kind {
	case KindInt:
		if n, ok := v.(int64); ok {
			return strconv.FormatInt(n, 10)
		}
	case KindDecimal:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'f', d.Scale, 64)
		}
	case KindFloat:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			if b {
				return "1"
			}
			return "0"
		}
	case KindDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(time.DateOnly)
		}
	case KindDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	case KindBlob:
		if b, ok := v.([]byte); ok {
			return hex.EncodeToString(b)
		}
	}
	return fmt.Sprint(v)
}

// Keyable reports whether the domain may form part of a key.
func (d Domain) Keyable() bool {
	return d.Kind != KindBlob && d.Kind != KindFloat
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		// float64(math.MaxInt64) rounds up to 2^63.
		if n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("%v overflows int64", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n)
		}
		return i, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

// toFloat converts v to a finite float64.
func toFloat(v any) (float64, error) {
	f, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", f)
	}
	return f, nil
}

func parseFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	return float64(i), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", b)
		}
		return p, nil
	}
	n, err := toInt(v)
	if err != nil || (n != 0 && n != 1) {
		return false, fmt.Errorf("expected a boolean, got %v", v)
	}
	return n == 1, nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateTimeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a date/time", t)
	}
	return time.Time{}, fmt.Errorf("expected a time, got %T", v)
}
