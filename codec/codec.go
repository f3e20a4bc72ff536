// Package codec turns Commands and Outcomes into frame payloads and back.
//
// Client and server must be configured with the same codec; the frame carries no
// codec marker. Msgpack is the default because it keeps strings and byte sequences
// distinct on the wire; JSON is kept for debugging with ordinary tools.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeMsgpack CodecType = 0
	CodecTypeJSON    CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeMsgpack:
		return "msgpack"
	case CodecTypeJSON:
		return "json"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=Msgpack, 1=JSON
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return NewMsgpackCodec()
}

// ParseCodecType maps a configuration name onto a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "msgpack":
		return CodecTypeMsgpack, nil
	case "json":
		return CodecTypeJSON, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}
