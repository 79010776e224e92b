package log

import (
	"fmt"
	"time"
)

const errorKey = "error"

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func Str(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field     { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field   { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Duration records d in its String form.
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d.String()}
}

// Time records t in RFC3339 with milliseconds.
func Time(key string, t time.Time) Field {
	return Field{Key: key, Value: t.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
}

// Err records err under the "error" key. A nil error is recorded as nil.
func Err(err error) Field {
	return Field{Key: errorKey, Value: err}
}

// Component tags the line with the emitting component.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// Partition tags the line with a partition id.
func Partition(id int) Field { return Field{Key: PartitionKey, Value: id} }

// Stringer records the String form of v.
func Stringer(key string, v fmt.Stringer) Field {
	if v == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: v.String()}
}
