package tokenstore

import (
	"encoding/json"
)

// Token is an opaque token value or the explicit absence of one.
// The zero value is Absent.
type Token struct {
	value   string
	present bool
}

// Absent is the token that was never stored.
var Absent = Token{}

// Present wraps value as a stored token. Present("") is not Absent.
func Present(value string) Token {
	return Token{value: value, present: true}
}

// Value returns the stored value and whether one exists.
func (t Token) Value() (string, bool) {
	return t.value, t.present
}

// IsAbsent reports whether no value is stored.
func (t Token) IsAbsent() bool {
	return !t.present
}

// String masks the value so tokens never end up in logs.
func (t Token) String() string {
	if !t.present {
		return "<absent>"
	}
	if t.value == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// MarshalJSON encodes Absent as null.
func (t Token) MarshalJSON() ([]byte, error) {
	if !t.present {
		return []byte("null"), nil
	}
	return json.Marshal(t.value)
}

// UnmarshalJSON decodes null as Absent.
func (t *Token) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Absent
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Present(v)
	return nil
}
