package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf8"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 256

// Parse decodes a JSON document into an Event. The document must be a
// single JSON object.
func Parse(data []byte) (Value, error) {
	v, err := ParseValue(data)
	if err != nil {
		return Value{}, err
	}
	if v.kind != KindObject {
		return Value{}, &SerializationError{Path: "$", Reason: "event must be a JSON object, got " + v.kind.String()}
	}
	return v, nil
}

// ParseValue decodes any single JSON value, preserving member order and
// number literals.
func ParseValue(data []byte) (Value, error) {
	// The decoder silently maps both of these to U+FFFD.
	if !utf8.Valid(data) {
		return Value{}, &SerializationError{Reason: "invalid UTF-8"}
	}
	if err := checkSurrogates(data); err != nil {
		return Value{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, "$", 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, &SerializationError{Reason: "trailing data after JSON value"}
	}
	return v, nil
}

// checkSurrogates rejects \u escapes inside strings that encode half of a
// UTF-16 surrogate pair. Malformed escapes are left for the decoder.
func checkSurrogates(data []byte) error {
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			continue
		}
		switch c {
		case '"':
			inString = false
		case '\\':
			if i+1 >= len(data) {
				return nil
			}
			if data[i+1] != 'u' {
				i++
				continue
			}
			r, ok := hex4(data, i+2)
			if !ok {
				return nil
			}
			switch {
			case r >= 0xD800 && r <= 0xDBFF:
				lo, ok := -1, false
				if i+7 < len(data) && data[i+6] == '\\' && data[i+7] == 'u' {
					lo, ok = hex4(data, i+8)
				}
				if !ok || lo < 0xDC00 || lo > 0xDFFF {
					return &SerializationError{Reason: fmt.Sprintf("unpaired surrogate escape at offset %d", i)}
				}
				i += 11
			case r >= 0xDC00 && r <= 0xDFFF:
				return &SerializationError{Reason: fmt.Sprintf("unpaired surrogate escape at offset %d", i)}
			default:
				i += 5
			}
		}
	}
	return nil
}

func hex4(data []byte, at int) (int, bool) {
	if at+4 > len(data) {
		return 0, false
	}
	n, err := strconv.ParseUint(string(data[at:at+4]), 16, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

func decodeValue(dec *json.Decoder, path string, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, &SerializationError{Path: path, Reason: "nesting too deep"}
	}
	tok, err := dec.Token()
	if err != nil {
		return Value{}, &SerializationError{Path: path, Reason: "malformed JSON", Err: err}
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t.String())
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for i := 0; dec.More(); i++ {
				item, err := decodeValue(dec, pathIndex(path, i), depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, &SerializationError{Path: path, Reason: "malformed JSON", Err: err}
			}
			return Value{kind: KindArray, items: items}, nil
		case '{':
			var members []Member
			seen := make(map[string]struct{})
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, &SerializationError{Path: path, Reason: "malformed JSON", Err: err}
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, &SerializationError{Path: path, Reason: "object key is not a string"}
				}
				if _, dup := seen[key]; dup {
					return Value{}, &SerializationError{Path: pathKey(path, key), Reason: "duplicate key"}
				}
				seen[key] = struct{}{}

				val, err := decodeValue(dec, pathKey(path, key), depth+1)
				if err != nil {
					return Value{}, err
				}
				members = append(members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, &SerializationError{Path: path, Reason: "malformed JSON", Err: err}
			}
			return Value{kind: KindObject, members: members}, nil
		}
	}
	return Value{}, &SerializationError{Path: path, Reason: fmt.Sprintf("unexpected token %v", tok)}
}

// FromAny converts a loosely typed Go value (as produced by encoding/json
// into interface{}, or built by hand) into a Value. Maps must be keyed by
// string. Functions, channels, structs and reference cycles are rejected.
// Map keys have no inherent order, so members are emitted sorted.
func FromAny(x any) (Value, error) {
	return fromAny(x, "$", make(map[uintptr]struct{}), 0)
}

func fromAny(x any, path string, visiting map[uintptr]struct{}, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, &SerializationError{Path: path, Reason: "nesting too deep"}
	}

	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		v, err := Number(t.String())
		if err != nil {
			return Value{}, withPath(err, path)
		}
		return v, nil
	case json.RawMessage:
		v, err := ParseValue(t)
		if err != nil {
			return Value{}, withPath(err, path)
		}
		return v, nil
	case float64:
		v, err := Float(t)
		if err != nil {
			return Value{}, withPath(err, path)
		}
		return v, nil
	case float32:
		v, err := Float(float64(t))
		if err != nil {
			return Value{}, withPath(err, path)
		}
		return v, nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Value{kind: KindNumber, number: strconv.FormatUint(uint64(t), 10)}, nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return Value{kind: KindNumber, number: strconv.FormatUint(t, 10)}, nil
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return fromAny(m, path, visiting, depth)
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return Value{kind: KindArray, items: items}, nil
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if _, cyc := visiting[ptr]; cyc {
			return Value{}, &SerializationError{Path: path, Reason: "circular reference"}
		}
		visiting[ptr] = struct{}{}
		defer delete(visiting, ptr)

		keys := sortedKeys(t)
		members := make([]Member, 0, len(t))
		for _, k := range keys {
			val, err := fromAny(t[k], pathKey(path, k), visiting, depth+1)
			if err != nil {
				return Value{}, err
			}
			members = append(members, Member{Key: k, Value: val})
		}
		return Value{kind: KindObject, members: members}, nil
	case []any:
		if len(t) > 0 {
			ptr := reflect.ValueOf(t).Pointer()
			if _, cyc := visiting[ptr]; cyc {
				return Value{}, &SerializationError{Path: path, Reason: "circular reference"}
			}
			visiting[ptr] = struct{}{}
			defer delete(visiting, ptr)
		}

		items := make([]Value, 0, len(t))
		for i, e := range t {
			val, err := fromAny(e, pathIndex(path, i), visiting, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, val)
		}
		return Value{kind: KindArray, items: items}, nil
	}

	return Value{}, &SerializationError{Path: path, Reason: fmt.Sprintf("unsupported type %T", x)}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withPath(err error, path string) error {
	var serr *SerializationError
	if errors.As(err, &serr) && serr.Path == "" {
		cp := *serr
		cp.Path = path
		return &cp
	}
	return err
}

// IsSafeInteger reports whether an integer literal (no fraction or exponent)
// is exactly representable as an IEEE-754 binary64.
func IsSafeInteger(literal string) bool {
	n, err := strconv.ParseInt(literal, 10, 64)
	if err != nil {
		return false
	}
	const maxSafe = 1<<53 - 1
	return n >= -maxSafe && n <= maxSafe
}

// IsIntegerLiteral reports whether a number literal has no fraction or exponent.
func IsIntegerLiteral(literal string) bool {
	for i := 0; i < len(literal); i++ {
		switch literal[i] {
		case '.', 'e', 'E':
			return false
		}
	}
	return true
}

// ParseFloat parses a number literal as binary64, rejecting overflow.
func ParseFloat(literal string) (float64, error) {
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("number %s out of range", literal)
	}
	return f, nil
}
