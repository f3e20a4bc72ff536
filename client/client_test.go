package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"fs-rpc/fileservice"
	"fs-rpc/loadbalance"
	"fs-rpc/message"
	"fs-rpc/registry"
	"fs-rpc/server"
	"fs-rpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func startServer(t *testing.T) string {
	t.Helper()
	svr := server.NewServer(server.Options{})
	require.NoError(t, svr.RegisterFileService(fileservice.NewLocal()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(ln, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String()
}

func options(addr string) Options {
	return Options{Transport: transport.Config{
		Addr:           addr,
		AttemptTimeout: time.Second,
		OverallTimeout: 5 * time.Second,
	}}
}

func TestSessionFileScenarios(t *testing.T) {
	addr := startServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	ctx := context.Background()

	err := Session(ctx, options(addr), func(c *Client) error {
		// write then list
		require.NoError(t, c.Write(ctx, path, "wb", []byte("tratata")))
		names, err := c.ListDir(ctx, dir)
		require.NoError(t, err)
		assert.Contains(t, names, "test.txt")

		// hash correctness
		sum, err := c.GetHash(ctx, path, "md5")
		require.NoError(t, err)
		assert.Equal(t, "cb1d3a6249c2d223c620393fa6420868", sum)
		sum, err = c.GetHash(ctx, path, "sha256")
		require.NoError(t, err)
		assert.Equal(t, "4ad5921e53e07ed23774a08c5ab1e6da3686dba7c47b4d90c07fd68d5a6c679d", sum)

		// delete then list
		require.NoError(t, c.Delete(ctx, path))
		names, err = c.ListDir(ctx, dir)
		require.NoError(t, err)
		assert.NotContains(t, names, "test.txt")
		return nil
	})
	require.NoError(t, err)
}

func TestRemoteErrors(t *testing.T) {
	c := New(options(startServer(t)))
	defer c.Close()
	ctx := context.Background()

	out, err := c.Call(ctx, "no_such_method", nil, nil)
	require.NoError(t, err)
	require.True(t, out.Failed())
	assert.Equal(t, message.MethodNotFound, out.Error.Kind)

	_, err = c.GetHash(ctx, filepath.Join(t.TempDir(), "missing"), "md5")
	assert.True(t, errors.Is(err, &message.RemoteError{Kind: message.NotFound}), "got %v", err)

	out, err = c.Raw().GetHash(ctx, filepath.Join(t.TempDir(), "missing"), "md5")
	require.NoError(t, err)
	assert.Equal(t, message.NotFound, out.Error.Kind)
}

func TestRawWriteAndList(t *testing.T) {
	c := New(options(startServer(t)))
	defer c.Close()
	ctx := context.Background()
	dir := t.TempDir()

	out, err := c.Raw().Write(ctx, filepath.Join(dir, "a.bin"), "xb", []byte{0, 1, 2})
	require.NoError(t, err)
	assert.False(t, out.Failed())
	assert.True(t, out.Result.IsNil())

	out, err = c.Raw().ListDir(ctx, dir)
	require.NoError(t, err)
	assert.True(t, out.Result.Equal(message.Strings([]string{"a.bin"})))

	out, err = c.Raw().Delete(ctx, filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.False(t, out.Failed())
}

// silentServer accepts connections and reads everything without ever replying.
func silentServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(io.Discard, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func TestTimeoutBound(t *testing.T) {
	c := New(Options{Transport: transport.Config{
		Addr:           silentServer(t),
		AttemptTimeout: 100 * time.Millisecond,
		OverallTimeout: 300 * time.Millisecond,
		BackoffBase:    10 * time.Millisecond,
	}})
	defer c.Close()

	start := time.Now()
	_, err := c.ListDir(context.Background(), "/")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, transport.ErrCommandTimedOut)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestSessionClosesOnPanic(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	closed := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			closed <- err
			return
		}
		defer conn.Close()
		_, err = conn.Read(make([]byte, 1))
		closed <- err
	}()

	func() {
		defer func() {
			assert.Equal(t, "boom", recover())
		}()
		Session(context.Background(), options(ln.Addr().String()), func(c *Client) error {
			panic("boom")
		})
	}()

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close its connection")
	}
}

func TestSessionOpenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	called := false
	err = Session(context.Background(), options(addr), func(c *Client) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestPooledClientConcurrent(t *testing.T) {
	opts := options(startServer(t))
	opts.PoolSize = 4
	c := New(opts)
	defer c.Close()
	dir := t.TempDir()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			path := filepath.Join(dir, fmt.Sprintf("f%02d", i))
			if err := c.Write(context.Background(), path, "w", []byte(path)); err != nil {
				return err
			}
			_, err := c.GetHash(context.Background(), path, "sha1")
			return err
		})
	}
	require.NoError(t, g.Wait())

	names, err := c.ListDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, names, 16)
}

func TestDiscover(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, err := Discover(reg, "FileService", &loadbalance.RoundRobinBalancer{})
	assert.ErrorIs(t, err, registry.ErrNoInstances)

	addr := startServer(t)
	reg.Register("FileService", registry.ServiceInstance{Addr: addr}, 10)
	got, err := Discover(reg, "FileService", &loadbalance.RoundRobinBalancer{})
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	c := New(options(got))
	defer c.Close()
	_, err = c.ListDir(context.Background(), t.TempDir())
	assert.NoError(t, err)
}
