package broker

import (
	"context"
	"testing"
	"time"

	"tickerhub/internal/application/service"
)

type stubCredentialCache struct {
	key string
}

func (s *stubCredentialCache) Credential(context.Context, string) (string, error) {
	return s.key, nil
}

func (s *stubCredentialCache) StoreCredential(context.Context, string, string, time.Duration) error {
	return nil
}

type recordingSender struct {
	frames []controlRequest
}

func (r *recordingSender) SendJSON(v any) error {
	r.frames = append(r.frames, v.(controlRequest))
	return nil
}

func (r *recordingSender) SendText([]byte) error { return nil }

// nullSubscriber lets the rotation and demand state advance without a live
// connection.
type nullSubscriber struct{}

func (nullSubscriber) Subscribe(string) error   { return nil }
func (nullSubscriber) Unsubscribe(string) error { return nil }

func TestReconnectReplaysActiveBatchAndDemand(t *testing.T) {
	ctx := context.Background()

	scheduler := service.NewRotationScheduler(nullSubscriber{}, []string{"005930", "000660", "035420", "AAPL"}, service.RotationConfig{BatchSize: 3})
	scheduler.Rotate(ctx)

	demand := service.NewDemandManager(nullSubscriber{})
	if err := demand.Acquire("TSLA"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	feed := NewFeed("ws://venue.example", NewAuthProvider("http://venue.example", "k", "s", &stubCredentialCache{key: "approved"}))
	feed.replayDelay = 0
	feed.SetReplaySource(func() []string {
		return append(scheduler.ActiveBatch(), demand.Snapshot()...)
	})

	sender := &recordingSender{}
	if err := feed.OnConnect(ctx, sender); err != nil {
		t.Fatalf("on connect: %v", err)
	}

	want := map[string]string{
		"005930":   trIDDomestic,
		"000660":   trIDDomestic,
		"035420":   trIDDomestic,
		"DNASTSLA": trIDForeign,
	}
	if len(sender.frames) != len(want) {
		t.Fatalf("expected %d replayed frames, got %d", len(want), len(sender.frames))
	}
	for _, frame := range sender.frames {
		trID, ok := want[frame.Body.Input.TrKey]
		if !ok {
			t.Fatalf("unexpected replayed key %q", frame.Body.Input.TrKey)
		}
		if frame.Body.Input.TrID != trID {
			t.Fatalf("key %s: tr_id %s", frame.Body.Input.TrKey, frame.Body.Input.TrID)
		}
		if frame.Header.TrType != trTypeSubscribe {
			t.Fatalf("key %s: tr_type %s", frame.Body.Input.TrKey, frame.Header.TrType)
		}
		if frame.Header.ApprovalKey != "approved" {
			t.Fatalf("key %s: approval key %s", frame.Body.Input.TrKey, frame.Header.ApprovalKey)
		}
		delete(want, frame.Body.Input.TrKey)
	}
}
