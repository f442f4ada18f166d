package value

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

// EncodeMsgpack writes v as a two-element array [kind, payload].
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if v.kind == Invalid {
		return fmt.Errorf("%w: cannot encode an invalid value", ErrInvalidValue)
	}
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case Bool:
		return enc.EncodeBool(v.Bool())
	case Int:
		return enc.EncodeInt(v.Int())
	case Double:
		return enc.EncodeFloat64(v.Double())
	case String:
		return enc.EncodeString(v.str)
	case Array, Tuple:
		if err := enc.EncodeArrayLen(len(v.items)); err != nil {
			return err
		}
		for _, item := range v.items {
			if err := item.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidValue, v.kind)
	}
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("%w: expected a 2-element array, got %d", ErrInvalidValue, n)
	}
	k, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	switch Kind(k) {
	case Bool:
		b, err := dec.DecodeBool()
		if err != nil {
			return err
		}
		*v = NewBool(b)
	case Int:
		i, err := dec.DecodeInt64()
		if err != nil {
			return err
		}
		*v = NewInt(i)
	case Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return err
		}
		*v = NewDouble(f)
	case String:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*v = NewString(s)
	case Array, Tuple:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: nil item list", ErrInvalidValue)
		}
		items := make([]Value, n)
		for i := range items {
			if err := items[i].DecodeMsgpack(dec); err != nil {
				return err
			}
		}
		*v = Value{kind: Kind(k), items: items}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidValue, k)
	}
	return nil
}

// AppendBinary appends the binary form of v to buf.
func (v Value) AppendBinary(buf []byte) []byte {
	bb := bytes.NewBuffer(buf)
	enc := msgpack.GetEncoder()
	enc.Reset(bb)
	err := v.EncodeMsgpack(enc)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %v using MsgPack: %w", v, err))
	}
	return bb.Bytes()
}

// Decode parses the binary form produced by AppendBinary.
func Decode(data []byte) (Value, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	var v Value
	err := v.DecodeMsgpack(dec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return Value{}, fmt.Errorf("decoding value: %w", err)
	}
	if r.Len() != 0 {
		return Value{}, fmt.Errorf("%w: %d trailing bytes after value", ErrInvalidValue, r.Len())
	}
	return v, nil
}
