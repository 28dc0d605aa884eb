// Package codec implements the compact, self-describing value format stored
// in shmcache entries.
//
// Every value starts with one tag byte:
//
//	Null       0
//	Undefined  1
//	True       2
//	False      3
//	Int32      4  + int32
//	Number     5  + float64
//	String     6  + uint32 byte length + UTF-16LE code units
//	Array      7  + uint32 count + count values
//	Object     8  + uint32 pair count + (String key, value) pairs
//	ObjectRef  9  + uint32 container index
//
// All integers are little-endian. Arrays and objects are numbered in the
// order they are first written; a container that appears again in the same
// value is written as an ObjectRef to its number. This keeps shared
// sub-structures shared after a round trip and lets cyclic values encode in
// bounded space.
//
// Go values map to tags as follows:
//
//	nil             Null
//	Undefined       Undefined
//	bool            True / False
//	int32 (and any integer that fits in int32)   Int32
//	other integers, float32, float64             Number
//	string          String
//	[]any           Array
//	map[string]any  Object (keys written in sorted order)
//
// Decoding yields nil, Undefined, bool, int32, float64, string, []any and
// map[string]any.
package codec

import (
	"errors"
	"fmt"
)

// Tag identifies the type of an encoded value.
type Tag byte

// Value tags. The numbering is part of the stored format.
const (
	TagNull Tag = iota
	TagUndefined
	TagTrue
	TagFalse
	TagInt32
	TagNumber
	TagString
	TagArray
	TagObject
	TagObjectRef
)

var tagNames = [...]string{
	TagNull:      "Null",
	TagUndefined: "Undefined",
	TagTrue:      "True",
	TagFalse:     "False",
	TagInt32:     "Int32",
	TagNumber:    "Number",
	TagString:    "String",
	TagArray:     "Array",
	TagObject:    "Object",
	TagObjectRef: "ObjectRef",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}

	return fmt.Sprintf("Tag(%d)", byte(t))
}

// Int32Size is the encoded size of an Int32 scalar (tag + 4 bytes).
const Int32Size = 5

// undefinedValue is the type of [Undefined].
type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined is the distinguished "no value" marker. It is distinct from nil,
// which encodes as Null.
var Undefined = undefinedValue{}

var (
	// ErrUnsupportedType is returned by [Encode] for Go values outside the
	// supported set (see the package documentation).
	ErrUnsupportedType = errors.New("codec: unsupported type")

	// ErrMalformed is returned by [Decode] for input that is truncated,
	// carries an unknown tag, a non-string object key, a dangling ObjectRef,
	// or trailing bytes.
	ErrMalformed = errors.New("codec: malformed input")

	// ErrTooDeep is returned by [Encode] and [Decode] when arrays and objects
	// nest more than [MaxDepth] levels. Decode wraps it together with
	// [ErrMalformed].
	ErrTooDeep = errors.New("codec: nesting too deep")
)

// MaxDepth is the deepest container nesting Encode writes and Decode accepts.
const MaxDepth = 1 << 16

// IsInt32 reports whether data is exactly one encoded Int32 scalar and
// returns its value.
func IsInt32(data []byte) (int32, bool) {
	if len(data) != Int32Size || Tag(data[0]) != TagInt32 {
		return 0, false
	}

	return int32(le.Uint32(data[1:])), true
}

// AppendInt32 appends the encoding of an Int32 scalar to dst.
func AppendInt32(dst []byte, v int32) []byte {
	dst = append(dst, byte(TagInt32))

	return le.AppendUint32(dst, uint32(v))
}
