package codec

import (
	ugorji "github.com/ugorji/go/codec"
)

// MsgpackCodec serializes with the msgpack format.
// WriteExt enables the str8 and bin types so []byte and string never collapse into one another.
type MsgpackCodec struct {
	handle *ugorji.MsgpackHandle
}

func NewMsgpackCodec() *MsgpackCodec {
	h := &ugorji.MsgpackHandle{}
	h.WriteExt = true
	return &MsgpackCodec{handle: h}
}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf []byte
	if err := ugorji.NewEncoderBytes(&buf, c.handle).Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return ugorji.NewDecoderBytes(data, c.handle).Decode(v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
