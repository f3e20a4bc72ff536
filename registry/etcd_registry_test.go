package registry

import (
	"os"
	"strings"
	"testing"
	"time"
)

// etcdEndpoints returns the endpoints from FSRPC_ETCD, skipping the test when unset.
func etcdEndpoints(t *testing.T) []string {
	env := os.Getenv("FSRPC_ETCD")
	if env == "" {
		t.Skip("FSRPC_ETCD not set, skipping etcd test")
	}
	return strings.Split(env, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	// Register two instances
	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register("FileServiceTest", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("FileServiceTest", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover("FileServiceTest")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	// Deregister one
	if err := reg.Deregister("FileServiceTest", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("FileServiceTest")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}

	// Cleanup
	reg.Deregister("FileServiceTest", inst2.Addr)
}
