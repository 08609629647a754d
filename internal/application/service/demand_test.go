package service

import (
	"sync"
	"testing"
)

func TestDemandRefCounting(t *testing.T) {
	sub := newRecordingSubscriber()
	d := NewDemandManager(sub)

	if err := d.Acquire("X"); err != nil {
		t.Fatal(err)
	}
	if err := d.Acquire("X"); err != nil {
		t.Fatal(err)
	}
	if got := len(sub.subscribed); got != 1 {
		t.Fatalf("upstream subscribe called %d times, want 1", got)
	}

	if err := d.Release("X"); err != nil {
		t.Fatal(err)
	}
	if got := len(sub.unsubscribed); got != 0 {
		t.Fatalf("unsubscribed after first release, refs should still be held")
	}
	if !sub.live["X"] {
		t.Fatal("X should still be live after one release")
	}

	if err := d.Release("X"); err != nil {
		t.Fatal(err)
	}
	if got := len(sub.unsubscribed); got != 1 {
		t.Fatalf("upstream unsubscribe called %d times, want 1", got)
	}
}

func TestDemandReleaseWithoutAcquire(t *testing.T) {
	sub := newRecordingSubscriber()
	d := NewDemandManager(sub)

	if err := d.Release("Y"); err != nil {
		t.Fatal(err)
	}
	if got := len(sub.unsubscribed); got != 1 {
		t.Fatalf("release with no refs should still unsubscribe upstream, got %d calls", got)
	}
}

func TestDemandConcurrentAcquireRelease(t *testing.T) {
	sub := newRecordingSubscriber()
	d := NewDemandManager(sub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Acquire("Z")
		}()
	}
	wg.Wait()

	for i := 0; i < 49; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Release("Z")
		}()
	}
	wg.Wait()

	snap := d.Snapshot()
	if len(snap) != 1 || snap[0] != "Z" {
		t.Fatalf("Snapshot = %v, want [Z]", snap)
	}
	if !sub.live["Z"] {
		t.Fatal("Z should remain live with one outstanding ref")
	}
}
