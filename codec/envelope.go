package codec

import (
	"fmt"

	"fs-rpc/message"
)

// EncodeCommand validates and serializes a Command.
func EncodeCommand(c Codec, cmd *message.Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return c.Encode(cmd)
}

// DecodeCommand deserializes and validates a Command payload.
func DecodeCommand(c Codec, data []byte) (*message.Command, error) {
	cmd := &message.Command{}
	if err := c.Decode(data, cmd); err != nil {
		return nil, fmt.Errorf("%s: decode command: %w", c.Type(), err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// EncodeOutcome validates and serializes an Outcome.
func EncodeOutcome(c Codec, out *message.Outcome) ([]byte, error) {
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return c.Encode(out)
}

// DecodeOutcome deserializes and validates an Outcome payload.
func DecodeOutcome(c Codec, data []byte) (*message.Outcome, error) {
	out := &message.Outcome{}
	if err := c.Decode(data, out); err != nil {
		return nil, fmt.Errorf("%s: decode outcome: %w", c.Type(), err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
