package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Member is a single key/value pair of an object Value.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON-shaped variant. The zero Value is null.
//
// Numbers are kept as the literal they were created from so the stored
// event can be written back exactly as received; canonical encoding
// normalises them separately.
type Value struct {
	kind    Kind
	boolean bool
	number  string
	str     string
	items   []Value
	members []Member
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns a number Value holding n.
func Int(n int64) Value {
	return Value{kind: KindNumber, number: strconv.FormatInt(n, 10)}
}

// Float returns a number Value holding f. NaN and infinities are rejected.
func Float(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, &SerializationError{Reason: fmt.Sprintf("non-finite number %v", f)}
	}
	return Value{kind: KindNumber, number: strconv.FormatFloat(f, 'g', -1, 64)}, nil
}

// Number returns a number Value from a JSON number literal.
func Number(literal string) (Value, error) {
	if !isNumberLiteral(literal) {
		return Value{}, &SerializationError{Reason: fmt.Sprintf("invalid number literal %q", literal)}
	}
	return Value{kind: KindNumber, number: literal}, nil
}

// Array returns an array Value. The slice is copied.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, items: cp}
}

// Object returns an object Value with members in the given order.
// Duplicate keys are rejected.
func Object(members ...Member) (Value, error) {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m.Key]; dup {
			return Value{}, &SerializationError{Path: pathKey("$", m.Key), Reason: "duplicate key"}
		}
		seen[m.Key] = struct{}{}
	}
	cp := make([]Member, len(members))
	copy(cp, members)
	return Value{kind: KindObject, members: cp}, nil
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// NumberLiteral returns the number literal held by v.
func (v Value) NumberLiteral() (string, bool) { return v.number, v.kind == KindNumber }

// Items returns a copy of the elements of an array Value.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Members returns a copy of the members of an object Value, in insertion order.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	cp := make([]Member, len(v.members))
	copy(cp, v.members)
	return cp
}

// Len returns the number of elements or members; zero for scalars.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	}
	return 0
}

// Get returns the member value stored under key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON writes v as compact JSON, preserving member order and number
// literals. It is the stored ("raw") form of an event, not the canonical one.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON parses any JSON value into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.boolean {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.number)
	case KindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := m.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &SerializationError{Reason: "unknown value kind " + v.kind.String()}
	}
	return nil
}

// isNumberLiteral validates s against the JSON number grammar.
func isNumberLiteral(s string) bool {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	if i >= len(s) {
		return false
	}
	switch {
	case s[i] == '0':
		i++
	case s[i] >= '1' && s[i] <= '9':
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	default:
		return false
	}
	if i < len(s) && s[i] == '.' {
		i++
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i == start {
			return false
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i == start {
			return false
		}
	}
	return i == len(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
