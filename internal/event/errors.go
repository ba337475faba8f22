package event

import "fmt"

// SerializationError reports an event that has no canonical serialization:
// unsupported Go types, reference cycles, non-finite or unsafe numbers,
// invalid UTF-8, duplicate keys, or malformed JSON.
type SerializationError struct {
	// Path locates the offending value, e.g. "$.actor.roles[2]". Empty when
	// the problem is with the input as a whole.
	Path   string
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	msg := "event serialization: " + e.Reason
	if e.Path != "" {
		msg = fmt.Sprintf("event serialization at %s: %s", e.Path, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SerializationError) Unwrap() error { return e.Err }

func pathKey(parent, key string) string {
	return fmt.Sprintf("%s[%q]", parent, key)
}

func pathIndex(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}
