// Package event defines the audit event value type.
//
// An event is an arbitrary JSON-shaped record. Value is a tagged union over
// null, bool, number, string, array and object so canonical encoding can be
// defined over a closed set of variants instead of interface{} payloads.
package event
