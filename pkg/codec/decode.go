package codec

import (
	"fmt"
	"math"
	"unicode/utf16"
)

type decoder struct {
	data []byte
	pos   int
	objs  []any
	depth int
}

// Decode parses one value from data. The whole input must be consumed.
//
// Arrays and objects are registered before their children are decoded, so
// an ObjectRef inside a container may point back at that container and the
// result is a genuinely cyclic Go value.
func Decode(data []byte) (any, error) {
	dec := decoder{data: data}

	v, err := dec.read()
	if err != nil {
		return nil, err
	}

	if dec.pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-dec.pos)
	}

	return v, nil
}

func (d *decoder) need(n int) error {
	if n < 0 || len(d.data)-d.pos < n {
		return fmt.Errorf("%w: truncated at offset %d", ErrMalformed, d.pos)
	}

	return nil
}

func (d *decoder) uint32() (uint32, error) {
	err := d.need(4)
	if err != nil {
		return 0, err
	}

	v := le.Uint32(d.data[d.pos:])
	d.pos += 4

	return v, nil
}

// count reads a container length. Every element takes at least one byte,
// so a count beyond the remaining input is rejected before allocating.
func (d *decoder) count(perItem int) (int, error) {
	n, err := d.uint32()
	if err != nil {
		return 0, err
	}

	if uint64(n)*uint64(perItem) > uint64(len(d.data)-d.pos) {
		return 0, fmt.Errorf("%w: count %d exceeds remaining input", ErrMalformed, n)
	}

	return int(n), nil
}

func (d *decoder) read() (any, error) {
	err := d.need(1)
	if err != nil {
		return nil, err
	}

	tag := Tag(d.data[d.pos])
	d.pos++

	switch tag {
	case TagNull:
		return nil, nil
	case TagUndefined:
		return Undefined, nil
	case TagTrue:
		return true, nil
	case TagFalse:
		return false, nil
	case TagInt32:
		v, err := d.uint32()

		return int32(v), err
	case TagNumber:
		err := d.need(8)
		if err != nil {
			return nil, err
		}

		v := math.Float64frombits(le.Uint64(d.data[d.pos:]))
		d.pos += 8

		return v, nil
	case TagString:
		return d.readString()
	case TagArray:
		return d.readArray()
	case TagObject:
		return d.readObject()
	case TagObjectRef:
		idx, err := d.uint32()
		if err != nil {
			return nil, err
		}

		if int(idx) >= len(d.objs) {
			return nil, fmt.Errorf("%w: reference %d to unknown container", ErrMalformed, idx)
		}

		return d.objs[idx], nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d at offset %d", ErrMalformed, byte(tag), d.pos-1)
	}
}

func (d *decoder) readString() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}

	if n%2 != 0 {
		return "", fmt.Errorf("%w: odd string byte length %d", ErrMalformed, n)
	}

	err = d.need(int(n))
	if err != nil {
		return "", err
	}

	units := make([]uint16, n/2)
	for i := range units {
		units[i] = le.Uint16(d.data[d.pos+2*i:])
	}

	d.pos += int(n)

	return string(utf16.Decode(units)), nil
}

// enter counts one more level of container nesting.
func (d *decoder) enter() error {
	d.depth++
	if d.depth > MaxDepth {
		return fmt.Errorf("%w: %w at offset %d", ErrMalformed, ErrTooDeep, d.pos)
	}

	return nil
}

func (d *decoder) readArray() (any, error) {
	err := d.enter()
	if err != nil {
		return nil, err
	}

	defer func() { d.depth-- }()

	n, err := d.count(1)
	if err != nil {
		return nil, err
	}

	arr := make([]any, n)
	d.objs = append(d.objs, arr)

	for i := range arr {
		arr[i], err = d.read()
		if err != nil {
			return nil, err
		}
	}

	return arr, nil
}

func (d *decoder) readObject() (any, error) {
	err := d.enter()
	if err != nil {
		return nil, err
	}

	defer func() { d.depth-- }()

	// A pair is at least a 5-byte String key plus a 1-byte value.
	n, err := d.count(6)
	if err != nil {
		return nil, err
	}

	obj := make(map[string]any, n)
	d.objs = append(d.objs, obj)

	for range n {
		err = d.need(1)
		if err != nil {
			return nil, err
		}

		if Tag(d.data[d.pos]) != TagString {
			return nil, fmt.Errorf("%w: object key has tag %s", ErrMalformed, Tag(d.data[d.pos]))
		}

		d.pos++

		key, err := d.readString()
		if err != nil {
			return nil, err
		}

		obj[key], err = d.read()
		if err != nil {
			return nil, err
		}
	}

	return obj, nil
}
