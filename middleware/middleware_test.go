package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fs-rpc/message"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, cmd *message.Command) *message.Outcome {
	return message.Success(message.String("ok"))
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, cmd *message.Command) *message.Outcome {
	time.Sleep(200 * time.Millisecond)
	return message.Success(message.String("ok"))
}

func failingHandler(ctx context.Context, cmd *message.Command) *message.Outcome {
	return message.Failure(message.Errorf(message.NotFound, "no such file"))
}

func newCmd() *message.Command {
	return message.NewCommand(message.MethodListDir, []message.Value{message.String("/tmp")}, nil)
}

// memStore is an in-memory dedup.Store for tests.
type memStore struct {
	mu sync.Mutex
	m  map[uuid.UUID]*message.Outcome
}

func (s *memStore) Load(id uuid.UUID) (*message.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.m[id]
	return out, ok
}

func (s *memStore) Store(id uuid.UUID, out *message.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = out
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	resp := handler(context.Background(), newCmd())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Result == nil || resp.Result.Str != "ok" {
		t.Fatalf("expect result 'ok', got %+v", resp)
	}

	resp = LoggingMiddleware(zap.NewNop())(failingHandler)(context.Background(), newCmd())
	if resp.Error == nil || resp.Error.Kind != message.NotFound {
		t.Fatalf("expect NotFound to pass through, got %+v", resp)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newCmd())
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newCmd())
	if resp.Error == nil || resp.Error.Kind != message.Timeout {
		t.Fatalf("expect timeout error, got '%+v'", resp)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newCmd())
		if resp.Error != nil {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), newCmd())
	if resp.Error == nil || resp.Error.Kind != message.RateLimited {
		t.Fatalf("request 3 should be rate limited, got: '%+v'", resp)
	}
}

func TestDedupRunsOnce(t *testing.T) {
	var calls atomic.Int32
	counting := func(ctx context.Context, cmd *message.Command) *message.Outcome {
		calls.Add(1)
		return message.Success(message.Int(int64(calls.Load())))
	}
	handler := DedupMiddleware(&memStore{m: map[uuid.UUID]*message.Outcome{}})(counting)

	cmd := newCmd()
	first := handler(context.Background(), cmd)
	second := handler(context.Background(), cmd)
	if calls.Load() != 1 {
		t.Fatalf("expect handler to run once, ran %d times", calls.Load())
	}
	if !first.Equal(second) {
		t.Fatalf("expect identical outcomes, got %+v and %+v", first, second)
	}

	handler(context.Background(), newCmd())
	if calls.Load() != 2 {
		t.Fatalf("expect a new id to run, ran %d times", calls.Load())
	}
}

func TestDedupConcurrentCopiesShareExecution(t *testing.T) {
	var calls atomic.Int32
	slowCounting := func(ctx context.Context, cmd *message.Command) *message.Outcome {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return message.Success(message.Nil())
	}
	handler := DedupMiddleware(&memStore{m: map[uuid.UUID]*message.Outcome{}})(slowCounting)

	cmd := newCmd()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler(context.Background(), cmd)
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expect one execution, got %d", calls.Load())
	}
}

func TestDedupSkipsRateLimited(t *testing.T) {
	store := &memStore{m: map[uuid.UUID]*message.Outcome{}}
	handler := DedupMiddleware(store)(RateLimitMiddleware(1, 1)(echoHandler))

	handler(context.Background(), newCmd()) // consumes the only token
	limited := newCmd()
	resp := handler(context.Background(), limited)
	if resp.Error == nil || resp.Error.Kind != message.RateLimited {
		t.Fatalf("expect rate limited, got %+v", resp)
	}
	if _, ok := store.Load(limited.ID); ok {
		t.Fatal("rate limited outcome must not be remembered")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}

	ok := m.Middleware()(echoHandler)
	ok(context.Background(), newCmd())
	ok(context.Background(), newCmd())

	unknown := m.Middleware()(func(ctx context.Context, cmd *message.Command) *message.Outcome {
		return message.Failure(message.Errorf(message.MethodNotFound, "%s", cmd.Method))
	})
	unknown(context.Background(), message.NewCommand("nonexistent", nil, nil))

	if got := testutil.ToFloat64(m.commands.WithLabelValues(message.MethodListDir, "ok")); got != 2 {
		t.Fatalf("expect 2 ok list_dir commands, got %v", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("unknown", string(message.MethodNotFound))); got != 1 {
		t.Fatalf("expect 1 unknown command, got %v", got)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("expect duplicate registration to fail")
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), newCmd())
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Error != nil {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, cmd *message.Command) *message.Outcome {
				order = append(order, name+".before")
				out := next(ctx, cmd)
				order = append(order, name+".after")
				return out
			}
		}
	}

	Chain(mark("A"), mark("B"))(echoHandler)(context.Background(), newCmd())

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("expect %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, order)
		}
	}
}
