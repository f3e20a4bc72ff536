package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"fs-rpc/logging"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 5 * time.Second

// EtcdRegistry implements Registry on etcd v3.
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is removed, so clients never discover a dead instance for long.
type EtcdRegistry struct {
	client  *clientv3.Client // thread-safe, shared across goroutines
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context // lives until Close; owns KeepAlive and Watch streams
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // instance key → lease
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultRequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:  c,
		logger:  logging.OrNop(logger),
		timeout: defaultRequestTimeout,
		ctx:     ctx,
		cancel:  cancel,
		leases:  make(map[string]clientv3.LeaseID),
	}, nil
}

// Register adds an instance to etcd with a TTL lease.
//
// Flow:
//  1. Grant a lease with the given TTL
//  2. Put the key with the lease attached
//  3. Start KeepAlive to renew the lease until Deregister or Close
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := instanceKey(serviceName, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	// Consume KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
		r.logger.Debug("registry: keepalive stopped", zap.String("key", key))
	}()
	r.logger.Info("registry: registered", zap.String("key", key), zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes an instance and revokes its lease, which also stops KeepAlive.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	key := instanceKey(serviceName, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return err
		}
	}
	r.logger.Info("registry: deregistered", zap.String("key", key))
	return nil
}

// Watch re-reads the instance list on every change under the service prefix.
// The channel is closed when the registry is closed.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(r.ctx, servicePrefix(serviceName), clientv3.WithPrefix()) {
			instances, err := r.Discover(serviceName)
			if err != nil {
				r.logger.Warn("registry: discover after watch event", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-r.ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("registry: skipping malformed entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops every KeepAlive and Watch and closes the etcd client.
// Leases are left to expire.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
