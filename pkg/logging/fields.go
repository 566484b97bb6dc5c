package logging

import "time"

// Field is one structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// String builds a string-valued field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an integer field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds a 64-bit integer field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Uint64 builds an unsigned 64-bit integer field.
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }

// Float64 builds a float field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Bool builds a boolean field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration renders a duration as its string form ("1.5ms").
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Err builds the conventional "error" field; a nil error yields a nil
// value, which JSON renders as null.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}
