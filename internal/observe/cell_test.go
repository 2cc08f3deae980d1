package observe

import "testing"

func TestPublishNotifiesInSubscriptionOrder(t *testing.T) {
	c := NewCell(0)
	var got []string
	c.Subscribe(func(v int) { got = append(got, "a") })
	c.Subscribe(func(v int) { got = append(got, "b") })

	c.Publish(7)

	if c.Load() != 7 {
		t.Fatalf("expected 7, got %d", c.Load())
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	c := NewCell("")
	calls := 0
	cancel := c.Subscribe(func(string) { calls++ })
	c.Publish("x")
	cancel()
	cancel()
	c.Publish("y")

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if c.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", c.Len())
	}
}

func TestSubscriberMayReenter(t *testing.T) {
	c := NewCell(0)
	var seen int
	c.Subscribe(func(v int) { seen = c.Load() + v })
	c.Publish(2)
	if seen != 4 {
		t.Fatalf("expected 4, got %d", seen)
	}
}
