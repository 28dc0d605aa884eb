package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
	"unicode/utf16"
	"unsafe"
)

var le = binary.LittleEndian

// containerID identifies an array or object by identity. Slices are keyed by
// their backing array and length, maps by their runtime pointer.
type containerID struct {
	ptr unsafe.Pointer
	len int
}

type encoder struct {
	buf  []byte
	seen  map[containerID]uint32
	next  uint32
	depth int
}

// Encode serializes v into the tagged format.
func Encode(v any) ([]byte, error) {
	return Append(nil, v)
}

// Append serializes v and appends it to dst.
func Append(dst []byte, v any) ([]byte, error) {
	enc := encoder{buf: dst}

	err := enc.write(v)
	if err != nil {
		return nil, err
	}

	return enc.buf, nil
}

func (e *encoder) write(v any) error {
	switch val := v.(type) {
	case nil:
		e.buf = append(e.buf, byte(TagNull))
	case undefinedValue:
		e.buf = append(e.buf, byte(TagUndefined))
	case bool:
		if val {
			e.buf = append(e.buf, byte(TagTrue))
		} else {
			e.buf = append(e.buf, byte(TagFalse))
		}
	case int32:
		e.buf = AppendInt32(e.buf, val)
	case int:
		e.writeInt(int64(val))
	case int8:
		e.writeInt(int64(val))
	case int16:
		e.writeInt(int64(val))
	case int64:
		e.writeInt(val)
	case uint8:
		e.writeInt(int64(val))
	case uint16:
		e.writeInt(int64(val))
	case uint32:
		e.writeInt(int64(val))
	case uint:
		e.writeUint(uint64(val))
	case uint64:
		e.writeUint(val)
	case float32:
		e.writeNumber(float64(val))
	case float64:
		e.writeNumber(val)
	case string:
		e.writeString(val)
	case []any:
		return e.writeArray(val)
	case map[string]any:
		return e.writeObject(val)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}

	return nil
}

func (e *encoder) writeInt(v int64) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		e.buf = AppendInt32(e.buf, int32(v))

		return
	}

	e.writeNumber(float64(v))
}

func (e *encoder) writeUint(v uint64) {
	if v <= math.MaxInt32 {
		e.buf = AppendInt32(e.buf, int32(v))

		return
	}

	e.writeNumber(float64(v))
}

func (e *encoder) writeNumber(v float64) {
	e.buf = append(e.buf, byte(TagNumber))
	e.buf = le.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *encoder) writeString(s string) {
	units := utf16.Encode([]rune(s))

	e.buf = append(e.buf, byte(TagString))
	e.buf = le.AppendUint32(e.buf, uint32(len(units)*2))

	for _, u := range units {
		e.buf = le.AppendUint16(e.buf, u)
	}
}

// enter numbers a container and reports whether it was already written in
// this pass. Containers without identity (empty slices, nil maps) are
// numbered but never matched, so the decoder's numbering stays in step.
func (e *encoder) enter(id containerID, hasIdentity bool) bool {
	if hasIdentity {
		if idx, ok := e.seen[id]; ok {
			e.buf = append(e.buf, byte(TagObjectRef))
			e.buf = le.AppendUint32(e.buf, idx)

			return true
		}

		if e.seen == nil {
			e.seen = make(map[containerID]uint32)
		}

		e.seen[id] = e.next
	}

	e.next++

	return false
}

// descend counts one more level of container nesting.
func (e *encoder) descend() error {
	e.depth++
	if e.depth > MaxDepth {
		return fmt.Errorf("%w: more than %d levels", ErrTooDeep, MaxDepth)
	}

	return nil
}

func (e *encoder) writeArray(arr []any) error {
	id := containerID{ptr: unsafe.Pointer(unsafe.SliceData(arr)), len: len(arr)}
	if e.enter(id, len(arr) > 0) {
		return nil
	}

	err := e.descend()
	if err != nil {
		return err
	}

	defer func() { e.depth-- }()

	e.buf = append(e.buf, byte(TagArray))
	e.buf = le.AppendUint32(e.buf, uint32(len(arr)))

	for _, item := range arr {
		err = e.write(item)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *encoder) writeObject(obj map[string]any) error {
	id := containerID{ptr: reflect.ValueOf(obj).UnsafePointer()}
	if e.enter(id, obj != nil) {
		return nil
	}

	err := e.descend()
	if err != nil {
		return err
	}

	defer func() { e.depth-- }()

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	e.buf = append(e.buf, byte(TagObject))
	e.buf = le.AppendUint32(e.buf, uint32(len(keys)))

	for _, k := range keys {
		e.writeString(k)

		err = e.write(obj[k])
		if err != nil {
			return err
		}
	}

	return nil
}
