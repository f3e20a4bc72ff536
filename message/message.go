// Package message defines the units exchanged between the file RPC client and server.
//
// A Command travels client → server and names one file operation plus its arguments.
// An Outcome travels server → client and carries either a result Value or a RemoteError.
// Both are serialized by the codec layer and wrapped in a length-prefixed frame by the
// protocol layer before they reach the TCP connection.
package message

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrEmptyMethod    = errors.New("message: command method is empty")
	ErrMissingID      = errors.New("message: command id is missing")
	ErrOutcomeBoth    = errors.New("message: outcome has both result and error")
	ErrOutcomeNeither = errors.New("message: outcome has neither result nor error")
)

// Command is one request unit.
//
//   - Method is the operation name, e.g. "list_dir".
//   - Args and Kwargs carry positional and keyword arguments.
//   - ID is unique per command instance and is reused verbatim when the transport
//     resends the command after a reconnect, so the server can recognise duplicates.
type Command struct {
	Method string           `codec:"method" json:"method"`
	Args   []Value          `codec:"args" json:"args"`
	Kwargs map[string]Value `codec:"kwargs" json:"kwargs"`
	ID     uuid.UUID        `codec:"id" json:"id"`
}

// NewCommand builds a Command with a fresh random id.
func NewCommand(method string, args []Value, kwargs map[string]Value) *Command {
	return &Command{
		Method: method,
		Args:   args,
		Kwargs: kwargs,
		ID:     uuid.New(),
	}
}

func (c *Command) Validate() error {
	if c.Method == "" {
		return ErrEmptyMethod
	}
	if c.ID == uuid.Nil {
		return ErrMissingID
	}
	return nil
}

// Equal reports whether two commands carry the same method, arguments and id.
func (c *Command) Equal(o *Command) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Method != o.Method || c.ID != o.ID || len(c.Args) != len(o.Args) || len(c.Kwargs) != len(o.Kwargs) {
		return false
	}
	for i := range c.Args {
		if !c.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	for k, v := range c.Kwargs {
		ov, ok := o.Kwargs[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Outcome is one response unit. Exactly one of Result and Error is set.
type Outcome struct {
	Result *Value       `codec:"result" json:"result,omitempty"`
	Error  *RemoteError `codec:"error" json:"error,omitempty"`
}

func Success(v Value) *Outcome {
	return &Outcome{Result: &v}
}

func Failure(err *RemoteError) *Outcome {
	return &Outcome{Error: err}
}

func (o *Outcome) Validate() error {
	switch {
	case o.Result != nil && o.Error != nil:
		return ErrOutcomeBoth
	case o.Result == nil && o.Error == nil:
		return ErrOutcomeNeither
	}
	return nil
}

// Failed reports whether the outcome carries an error.
func (o *Outcome) Failed() bool {
	return o.Error != nil
}

// Unwrap returns the result value, or the remote error as a Go error.
func (o *Outcome) Unwrap() (Value, error) {
	if err := o.Validate(); err != nil {
		return Value{}, err
	}
	if o.Error != nil {
		return Value{}, o.Error
	}
	return *o.Result, nil
}

func (o *Outcome) Equal(other *Outcome) bool {
	if o == nil || other == nil {
		return o == other
	}
	if (o.Result == nil) != (other.Result == nil) || (o.Error == nil) != (other.Error == nil) {
		return false
	}
	if o.Result != nil && !o.Result.Equal(*other.Result) {
		return false
	}
	if o.Error != nil && *o.Error != *other.Error {
		return false
	}
	return true
}
