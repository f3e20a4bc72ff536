// Package fileservice implements the file operations exposed over fs-rpc on the local disk.
//
// Every failure is returned as a *message.RemoteError whose kind is chosen where the
// failure happens (NotFound, PermissionDenied, IOFailure, ...), so the dispatcher can
// ship it to the client without inspecting Go error types.
//
// Duplicate execution: write with a truncating mode and get_hash are idempotent. Appends
// are not, and a repeated delete reports NotFound; run the server with de-duplication if
// clients rely on those being executed once.
package fileservice

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	stdsha256 "crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"io/fs"
	"os"
	"strings"

	"fs-rpc/message"

	"github.com/minio/sha256-simd"
)

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": stdsha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Local serves files from the machine the server runs on. Paths are used as given.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

// ListDir returns the names of the entries in path, sorted.
func (l *Local) ListDir(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, message.Errorf(message.Timeout, "list_dir %s: %v", path, err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fsError("list_dir", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// WriteToFile writes data to path. mode follows the open() mode letters:
// "w" truncates, "a" appends, "x" requires the file to be new; "b", "t" and "+" are accepted.
func (l *Local) WriteToFile(ctx context.Context, path, mode string, data []byte) error {
	flags, err := openFlags(mode)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return message.Errorf(message.Timeout, "write_to_file %s: %v", path, err)
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fsError("write_to_file", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fsError("write_to_file", path, err)
	}
	if err := f.Close(); err != nil {
		return fsError("write_to_file", path, err)
	}
	return nil
}

// DeleteFile removes a regular file. Directories are refused.
func (l *Local) DeleteFile(ctx context.Context, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fsError("delete_file", path, err)
	}
	if info.IsDir() {
		return message.Errorf(message.IOFailure, "delete_file %s: is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return fsError("delete_file", path, err)
	}
	return nil
}

// GetHash returns the lowercase hex digest of the file at path.
func (l *Local) GetHash(ctx context.Context, path, algorithm string) (string, error) {
	newHash, ok := hashes[strings.ToLower(algorithm)]
	if !ok {
		return "", message.Errorf(message.UnsupportedAlgorithm, "get_hash: unsupported algorithm %q", algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fsError("get_hash", path, err)
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		var remote *message.RemoteError
		if errors.As(err, &remote) {
			return "", remote
		}
		return "", fsError("get_hash", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func openFlags(mode string) (int, error) {
	if mode == "" {
		return 0, message.Errorf(message.InvalidArgument, "write_to_file: empty mode")
	}
	var flags int
	switch mode[0] {
	case 'w':
		flags = os.O_CREATE | os.O_TRUNC
	case 'a':
		flags = os.O_CREATE | os.O_APPEND
	case 'x':
		flags = os.O_CREATE | os.O_EXCL
	default:
		return 0, message.Errorf(message.InvalidArgument, "write_to_file: mode %q is not a write mode", mode)
	}
	access := os.O_WRONLY
	for _, c := range mode[1:] {
		switch c {
		case 'b', 't':
		case '+':
			access = os.O_RDWR
		default:
			return 0, message.Errorf(message.InvalidArgument, "write_to_file: invalid mode %q", mode)
		}
	}
	return flags | access, nil
}

func fsError(op, path string, err error) *message.RemoteError {
	kind := message.IOFailure
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = message.NotFound
	case errors.Is(err, fs.ErrPermission):
		kind = message.PermissionDenied
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	return message.Errorf(kind, "%s %s: %v", op, path, err)
}

// ctxReader stops a long read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, message.Errorf(message.Timeout, "read aborted: %v", err)
	}
	return c.r.Read(p)
}
