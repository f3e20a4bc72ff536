package server

import (
	"context"

	"fs-rpc/message"
)

// FileService is the capability set the dispatcher forwards commands to.
// Implementations report failures as *message.RemoteError with a specific kind.
type FileService interface {
	ListDir(ctx context.Context, path string) ([]string, error)
	WriteToFile(ctx context.Context, path, mode string, data []byte) error
	DeleteFile(ctx context.Context, path string) error
	GetHash(ctx context.Context, path, algorithm string) (string, error)
}

// MethodFunc is one remotely callable operation.
type MethodFunc func(ctx context.Context, args []message.Value, kwargs map[string]message.Value) (message.Value, error)

// Methods is the closed table of operation names a dispatcher accepts.
type Methods map[string]MethodFunc

// FileServiceMethods binds the operations of fs under their wire names.
// Each argument may be passed positionally or by keyword.
func FileServiceMethods(fs FileService) Methods {
	return Methods{
		message.MethodListDir: func(ctx context.Context, args []message.Value, kwargs map[string]message.Value) (message.Value, error) {
			p, err := bind(args, kwargs, "path")
			if err != nil {
				return message.Value{}, err
			}
			path, err := p.str("path")
			if err != nil {
				return message.Value{}, err
			}
			names, err := fs.ListDir(ctx, path)
			if err != nil {
				return message.Value{}, err
			}
			return message.Strings(names), nil
		},
		message.MethodWriteToFile: func(ctx context.Context, args []message.Value, kwargs map[string]message.Value) (message.Value, error) {
			p, err := bind(args, kwargs, "path", "mode", "data")
			if err != nil {
				return message.Value{}, err
			}
			path, err := p.str("path")
			if err != nil {
				return message.Value{}, err
			}
			mode, err := p.str("mode")
			if err != nil {
				return message.Value{}, err
			}
			data, err := p.data("data")
			if err != nil {
				return message.Value{}, err
			}
			return message.Nil(), fs.WriteToFile(ctx, path, mode, data)
		},
		message.MethodDeleteFile: func(ctx context.Context, args []message.Value, kwargs map[string]message.Value) (message.Value, error) {
			p, err := bind(args, kwargs, "path")
			if err != nil {
				return message.Value{}, err
			}
			path, err := p.str("path")
			if err != nil {
				return message.Value{}, err
			}
			return message.Nil(), fs.DeleteFile(ctx, path)
		},
		message.MethodGetHash: func(ctx context.Context, args []message.Value, kwargs map[string]message.Value) (message.Value, error) {
			p, err := bind(args, kwargs, "path", "algorithm")
			if err != nil {
				return message.Value{}, err
			}
			path, err := p.str("path")
			if err != nil {
				return message.Value{}, err
			}
			algorithm, err := p.str("algorithm")
			if err != nil {
				return message.Value{}, err
			}
			sum, err := fs.GetHash(ctx, path, algorithm)
			if err != nil {
				return message.Value{}, err
			}
			return message.String(sum), nil
		},
	}
}

// params maps parameter names to the values supplied for them.
type params map[string]message.Value

// bind matches positional and keyword arguments against the named parameters.
// Every parameter is required; extra, duplicate or unknown arguments are rejected.
func bind(args []message.Value, kwargs map[string]message.Value, names ...string) (params, error) {
	if len(args) > len(names) {
		return nil, message.Errorf(message.InvalidArgument, "takes %d arguments but %d were given", len(names), len(args))
	}
	p := make(params, len(names))
	for i, v := range args {
		p[names[i]] = v
	}
	for k, v := range kwargs {
		if !contains(names, k) {
			return nil, message.Errorf(message.InvalidArgument, "unexpected keyword argument %q", k)
		}
		if _, dup := p[k]; dup {
			return nil, message.Errorf(message.InvalidArgument, "got multiple values for argument %q", k)
		}
		p[k] = v
	}
	for _, n := range names {
		if _, ok := p[n]; !ok {
			return nil, message.Errorf(message.InvalidArgument, "missing required argument %q", n)
		}
	}
	return p, nil
}

func (p params) str(name string) (string, error) {
	s, err := p[name].AsString()
	if err != nil {
		return "", argError(name, err)
	}
	return s, nil
}

// data accepts bytes or a string, so text and binary write modes share one parameter.
func (p params) data(name string) ([]byte, error) {
	v := p[name]
	switch v.Kind {
	case message.KindBytes:
		return v.Bytes, nil
	case message.KindString:
		return []byte(v.Str), nil
	}
	return nil, message.Errorf(message.InvalidArgument, "argument %q: expected bytes or string, got %s", name, v.Kind)
}

func argError(name string, err error) error {
	return message.Errorf(message.InvalidArgument, "argument %q: %s", name, message.AsRemoteError(err).Message)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

