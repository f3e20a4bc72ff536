package server

import (
	"context"
	"fmt"
	"runtime/debug"

	"fs-rpc/codec"
	"fs-rpc/logging"
	"fs-rpc/message"
	"fs-rpc/middleware"

	"go.uber.org/zap"
)

// Dispatcher turns one command payload into one outcome payload.
//
//	payload → DecodeCommand → middleware chain → invoke(method table) → EncodeOutcome
//
// Handle never fails: every problem, including a panic inside a method, is reported
// to the client as an Outcome with a RemoteError.
type Dispatcher struct {
	codec       codec.Codec
	methods     Methods
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	logger      *zap.Logger
}

func NewDispatcher(cdc codec.Codec, methods Methods, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		codec:   cdc,
		methods: methods,
		logger:  logging.OrNop(logger),
	}
	d.handler = d.invoke
	return d
}

// Use appends middlewares around the invoke step. It must not be called
// concurrently with Handle.
func (d *Dispatcher) Use(mws ...middleware.Middleware) {
	d.middlewares = append(d.middlewares, mws...)
	d.handler = middleware.Chain(d.middlewares...)(d.invoke)
}

// Handle decodes payload, runs the command and returns the encoded outcome.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) []byte {
	var out *message.Outcome
	cmd, err := codec.DecodeCommand(d.codec, payload)
	if err != nil {
		d.logger.Warn("malformed command", zap.Int("size", len(payload)), zap.Error(err))
		out = message.Failure(message.Errorf(message.MalformedCommand, "%v", err))
	} else {
		out = d.handler(ctx, cmd)
	}
	return d.encode(out)
}

// HandleCommand runs an already decoded command through the middleware chain.
func (d *Dispatcher) HandleCommand(ctx context.Context, cmd *message.Command) *message.Outcome {
	return d.handler(ctx, cmd)
}

func (d *Dispatcher) encode(out *message.Outcome) []byte {
	data, err := codec.EncodeOutcome(d.codec, out)
	if err == nil {
		return data
	}
	d.logger.Error("encode outcome", zap.Error(err))
	data, err = codec.EncodeOutcome(d.codec, message.Failure(message.Errorf(message.Internal, "encode outcome: %v", err)))
	if err != nil {
		// A bare error outcome always encodes; reaching here is a codec bug.
		panic(fmt.Sprintf("server: cannot encode error outcome: %v", err))
	}
	return data
}

func (d *Dispatcher) invoke(ctx context.Context, cmd *message.Command) (out *message.Outcome) {
	fn, ok := d.methods[cmd.Method]
	if !ok {
		return message.Failure(message.Errorf(message.MethodNotFound, "no such method: %s", cmd.Method))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("method panicked",
				zap.String("method", cmd.Method),
				zap.Stringer("id", cmd.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			out = message.Failure(message.Errorf(message.Internal, "%s: %v", cmd.Method, r))
		}
	}()

	v, err := fn(ctx, cmd.Args, cmd.Kwargs)
	if err != nil {
		return message.Failure(message.AsRemoteError(err))
	}
	return message.Success(v)
}
