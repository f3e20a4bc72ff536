package client

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"fs-rpc/fileservice"
	"fs-rpc/server"
	"fs-rpc/transport"
)

func setupServerAndClient(b *testing.B, poolSize int) *Client {
	svr := server.NewServer(server.Options{})
	if err := svr.RegisterFileService(fileservice.NewLocal()); err != nil {
		b.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go svr.ServeListener(ln, "", nil)

	cli := New(Options{Transport: transport.Config{Addr: ln.Addr().String()}, PoolSize: poolSize})
	b.Cleanup(func() {
		cli.Close()
		svr.Shutdown(3 * time.Second)
	})
	return cli
}

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialGetHash(b *testing.B) {
	cli := setupServerAndClient(b, 1)
	path := filepath.Join(b.TempDir(), "bench.txt")
	if err := cli.Write(context.Background(), path, "wb", make([]byte, 4096)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.GetHash(context.Background(), path, "sha256"); err != nil {
			b.Fatal(err)
		}
	}
}

// 场景2: 多 goroutine 并发调用，每个 goroutine 从连接池借一条连接
func BenchmarkConcurrentListDir(b *testing.B) {
	cli := setupServerAndClient(b, 8)
	dir := b.TempDir()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := cli.ListDir(context.Background(), dir); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
