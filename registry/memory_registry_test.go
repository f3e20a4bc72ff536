package registry

import (
	"testing"
	"time"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 10}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 5}
	reg.Register("FileService", inst1, 10)
	reg.Register("FileService", inst2, 10)

	instances, _ := reg.Discover("FileService")
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect instances ordered by addr, got %v", instances)
	}

	reg.Deregister("FileService", inst2.Addr)
	instances, _ = reg.Discover("FileService")
	if len(instances) != 1 || instances[0].Addr != inst1.Addr {
		t.Fatalf("expect only %s after deregister, got %v", inst1.Addr, instances)
	}

	instances, _ = reg.Discover("Other")
	if len(instances) != 0 {
		t.Fatalf("expect no instances for unknown service, got %v", instances)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ch := reg.Watch("FileService")

	reg.Register("FileService", ServiceInstance{Addr: "a"}, 10)
	reg.Register("FileService", ServiceInstance{Addr: "b"}, 10)

	// Only the latest list is kept for a slow watcher
	select {
	case got := <-ch:
		if len(got) != 2 {
			t.Fatalf("expect latest list with 2 instances, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch event")
	}

	reg.Deregister("FileService", "a")
	select {
	case got := <-ch:
		if len(got) != 1 || got[0].Addr != "b" {
			t.Fatalf("expect [b], got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch event after deregister")
	}
}
