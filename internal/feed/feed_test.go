package feed

import (
	"testing"

	"github.com/danmuck/chatctl/internal/testutil/testlog"
)

func TestNotifiesInRegistrationOrder(t *testing.T) {
	testlog.Start(t)
	f := New[int]()
	var order []string
	f.Subscribe(func(int) { order = append(order, "a") })
	f.Subscribe(func(int) { order = append(order, "b") })
	f.Subscribe(func(int) { order = append(order, "c") })
	f.Notify(1)
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	testlog.Start(t)
	f := New[int]()
	var a, b int
	unsubA := f.Subscribe(func(int) { a++ })
	f.Subscribe(func(int) { b++ })
	f.Notify(1)
	unsubA()
	unsubA() // double unsubscribe is a no-op
	f.Notify(2)
	if a != 1 || b != 2 {
		t.Fatalf("unexpected counts: a=%d b=%d", a, b)
	}
}

func TestSurvivesPanickingListener(t *testing.T) {
	testlog.Start(t)
	f := New[int]()
	var after int
	f.Subscribe(func(int) { panic("listener blew up") })
	f.Subscribe(func(int) { after++ })
	f.Notify(1)
	if after != 1 {
		t.Fatalf("listener after panic not notified")
	}
}
