package player

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	amfNumber      = 0x00
	amfBoolean     = 0x01
	amfString      = 0x02
	amfObject      = 0x03
	amfNull        = 0x05
	amfUndefined   = 0x06
	amfReference   = 0x07
	amfECMAArray   = 0x08
	amfObjectEnd   = 0x09
	amfStrictArray = 0x0a
	amfDate        = 0x0b
	amfLongString  = 0x0c

	amfMaxDepth = 16
)

var errShortAMF = errors.New("amf0: unexpected end of data")

// amfDecoder reads the AMF0 subset found in FLV script tags.
type amfDecoder struct {
	buf []byte
	off int
}

func (d *amfDecoder) take(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.buf) {
		return nil, errShortAMF
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *amfDecoder) u8() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *amfDecoder) str(long bool) (string, error) {
	var n int
	if long {
		b, err := d.take(4)
		if err != nil {
			return "", err
		}
		n = int(binary.BigEndian.Uint32(b))
	} else {
		b, err := d.take(2)
		if err != nil {
			return "", err
		}
		n = int(binary.BigEndian.Uint16(b))
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *amfDecoder) value(depth int) (any, error) {
	if depth > amfMaxDepth {
		return nil, errors.New("amf0: nesting too deep")
	}
	marker, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch marker {
	case amfNumber:
		b, err := d.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case amfBoolean:
		b, err := d.u8()
		return b != 0, err
	case amfString:
		return d.str(false)
	case amfLongString:
		return d.str(true)
	case amfObject:
		return d.properties(depth)
	case amfECMAArray:
		// The count is a hint only; the array ends like an object.
		if _, err := d.take(4); err != nil {
			return nil, err
		}
		return d.properties(depth)
	case amfStrictArray:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint32(b))
		if n > len(d.buf)-d.off {
			return nil, errShortAMF
		}
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			v, err := d.value(depth + 1)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case amfDate:
		b, err := d.take(10)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:8])), nil
	case amfReference:
		_, err := d.take(2)
		return nil, err
	case amfNull, amfUndefined:
		return nil, nil
	default:
		return nil, fmt.Errorf("amf0: unsupported marker 0x%02x", marker)
	}
}

func (d *amfDecoder) properties(depth int) (map[string]any, error) {
	out := make(map[string]any)
	for {
		key, err := d.str(false)
		if err != nil {
			return nil, err
		}
		if key == "" {
			end, err := d.u8()
			if err != nil {
				return nil, err
			}
			if end != amfObjectEnd {
				return nil, fmt.Errorf("amf0: bad object end 0x%02x", end)
			}
			return out, nil
		}
		v, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
}

// metaDataSize extracts width and height from an onMetaData script body.
// ok is false for other script tags.
func metaDataSize(data []byte) (width, height int, ok bool, err error) {
	d := &amfDecoder{buf: data}
	name, err := d.value(0)
	if err != nil {
		return 0, 0, false, err
	}
	if s, _ := name.(string); s != "onMetaData" {
		return 0, 0, false, nil
	}
	v, err := d.value(0)
	if err != nil {
		return 0, 0, false, err
	}
	props, isMap := v.(map[string]any)
	if !isMap {
		return 0, 0, false, fmt.Errorf("amf0: onMetaData body is %T", v)
	}
	w, _ := props["width"].(float64)
	h, _ := props["height"].(float64)
	return int(w), int(h), true, nil
}
