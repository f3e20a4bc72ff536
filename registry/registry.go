// Package registry lets fs-server instances announce themselves and lets clients find them.
//
// Instances live under
//
//	/fs-rpc/{ServiceName}/{Addr}
//
// Two implementations are provided: EtcdRegistry for real deployments and
// MemoryRegistry for a single process and for tests.
package registry

import "errors"

var ErrNoInstances = errors.New("registry: no instances")

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	// Register announces instance under serviceName; the entry expires ttl seconds
	// after the registry stops renewing it.
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list whenever it changes.
	Watch(serviceName string) <-chan []ServiceInstance
}

const keyPrefix = "/fs-rpc/"

func servicePrefix(serviceName string) string {
	return keyPrefix + serviceName + "/"
}

func instanceKey(serviceName, addr string) string {
	return servicePrefix(serviceName) + addr
}
