// Package canonical produces the RFC 8785 (JSON Canonicalization Scheme)
// form of an audit event and its SHA-256 content hash.
//
// The encoding rules are fixed so that any independent implementation can
// recompute a stored hash from the stored raw event:
//
//   - object members are sorted by key, comparing UTF-16 code units;
//   - no insignificant whitespace;
//   - strings escape only '"', '\' and control characters below U+0020;
//   - numbers are parsed as IEEE-754 binary64 and written in the ECMAScript
//     shortest round-trip form. Integer literals beyond ±(2^53-1) are
//     rejected rather than rounded.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"github.com/jmerrifield20/AuditVault/internal/event"
)

// ContentHash is the lowercase hex SHA-256 digest of an event's canonical form.
type ContentHash string

// Size is the length of a ContentHash in hex characters.
const Size = sha256.Size * 2

// Validate checks that h is a well-formed 64 character lowercase hex digest.
func (h ContentHash) Validate() error {
	if len(h) != Size {
		return fmt.Errorf("content hash must be %d hex characters, got %d", Size, len(h))
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return fmt.Errorf("content hash has invalid character %q at %d", c, i)
		}
	}
	return nil
}

func (h ContentHash) String() string { return string(h) }

// Hasher computes canonical forms and content hashes. It holds no state and
// is safe for concurrent use.
type Hasher struct{}

// NewHasher creates a Hasher.
func NewHasher() *Hasher { return &Hasher{} }

// Hash returns the ContentHash of ev. The top-level value must be an object.
func (h *Hasher) Hash(ev event.Value) (ContentHash, error) {
	if ev.Kind() != event.KindObject {
		return "", &event.SerializationError{Path: "$", Reason: "event must be an object, got " + ev.Kind().String()}
	}
	b, err := h.Canonicalize(ev)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Canonicalize returns the canonical byte form of any Value.
func (h *Hasher) Canonicalize(v event.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) ContentHash {
	sum := sha256.Sum256(data)
	return ContentHash(hex.EncodeToString(sum[:]))
}

func encode(buf *bytes.Buffer, v event.Value, path string) error {
	switch v.Kind() {
	case event.KindNull:
		buf.WriteString("null")
	case event.KindBool:
		b, _ := v.AsBool()
		if b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case event.KindNumber:
		lit, _ := v.NumberLiteral()
		s, err := formatNumber(lit)
		if err != nil {
			return &event.SerializationError{Path: path, Reason: err.Error()}
		}
		buf.WriteString(s)
	case event.KindString:
		s, _ := v.AsString()
		if err := writeString(buf, s); err != nil {
			return &event.SerializationError{Path: path, Reason: err.Error()}
		}
	case event.KindArray:
		buf.WriteByte('[')
		for i, item := range v.Items() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case event.KindObject:
		members := v.Members()
		sort.Slice(members, func(i, j int) bool {
			return lessUTF16(members[i].Key, members[j].Key)
		})
		buf.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, m.Key); err != nil {
				return &event.SerializationError{Path: path, Reason: "key: " + err.Error()}
			}
			buf.WriteByte(':')
			if err := encode(buf, m.Value, fmt.Sprintf("%s[%q]", path, m.Key)); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &event.SerializationError{Path: path, Reason: "unknown value kind " + v.Kind().String()}
	}
	return nil
}

func formatNumber(literal string) (string, error) {
	if event.IsIntegerLiteral(literal) && !event.IsSafeInteger(literal) {
		return "", fmt.Errorf("integer %s is outside the exactly representable range ±(2^53-1)", literal)
	}
	f, err := event.ParseFloat(literal)
	if err != nil {
		return "", err
	}
	return jcs.NumberToJSON(f)
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("string is not valid UTF-8")
	}
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
			} else {
				buf.WriteByte(c)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

// lessUTF16 orders keys by their UTF-16 code units, as RFC 8785 requires.
// For keys made of BMP characters this matches byte order.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}
