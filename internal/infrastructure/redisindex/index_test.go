package redisindex

import "testing"

func TestRoutingKey_Namespaced(t *testing.T) {
	got := routingKey("inst-1")
	want := "jiascheduler:route:inst-1"
	if got != want {
		t.Fatalf("routingKey() = %q, want %q", got, want)
	}
}
