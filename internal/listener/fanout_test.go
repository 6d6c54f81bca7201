package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicenote-relay/domain/entities"
)

func note(id, typ string) entities.InboundVoiceNote {
	return entities.InboundVoiceNote{
		ExternalID: id,
		Type:       typ,
		Author:     "alice",
		Fetch:      func(context.Context) ([]byte, error) { return []byte("audio"), nil },
	}
}

func startFanout(t *testing.T, f *Fanout) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestFanout_DeliversInOrderToAllSubscribers(t *testing.T) {
	f := NewFanout("test", 0, zaptest.NewLogger(t))
	startFanout(t, f)

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(6)

	for _, name := range []string{"a", "b"} {
		name := name
		if _, err := f.Subscribe(func(n entities.InboundVoiceNote) {
			mu.Lock()
			got = append(got, name+":"+n.ExternalID)
			mu.Unlock()
			wg.Done()
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	for _, id := range []string{"1", "2", "3"} {
		if err := f.Publish(context.Background(), note(id, entities.EventTypePTT)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	wg.Wait()

	want := []string{"a:1", "b:1", "a:2", "b:2", "a:3", "b:3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected delivery order %v, got %v", want, got)
		}
	}
}

func TestFanout_HandlersNeverOverlap(t *testing.T) {
	f := NewFanout("test", 0, zaptest.NewLogger(t))
	startFanout(t, f)

	var active, peak int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(10)
	f.Subscribe(func(entities.InboundVoiceNote) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		wg.Done()
	})

	var pub sync.WaitGroup
	for i := 0; i < 10; i++ {
		pub.Add(1)
		go func() {
			defer pub.Done()
			f.Publish(context.Background(), note("x", entities.EventTypeVoice))
		}()
	}
	pub.Wait()
	wg.Wait()

	if peak != 1 {
		t.Errorf("Expected sequential delivery, got %d concurrent handlers", peak)
	}
}

func TestFanout_RejectsNonVoiceNotes(t *testing.T) {
	f := NewFanout("test", 0, zaptest.NewLogger(t))

	err := f.Publish(context.Background(), note("1", "chat"))
	if !errors.Is(err, ErrNotVoiceNote) {
		t.Errorf("Expected ErrNotVoiceNote, got %v", err)
	}

	n := note("2", entities.EventTypePTT)
	n.Fetch = nil
	if err := f.Publish(context.Background(), n); err == nil {
		t.Error("Expected error for note without payload")
	}
}

func TestFanout_Unsubscribe(t *testing.T) {
	f := NewFanout("test", 0, zaptest.NewLogger(t))
	startFanout(t, f)

	delivered := make(chan string, 4)
	sub, _ := f.Subscribe(func(n entities.InboundVoiceNote) { delivered <- "first:" + n.ExternalID })
	f.Subscribe(func(n entities.InboundVoiceNote) { delivered <- "second:" + n.ExternalID })

	sub.Unsubscribe()
	sub.Unsubscribe()

	f.Publish(context.Background(), note("1", entities.EventTypePTT))
	select {
	case got := <-delivered:
		if got != "second:1" {
			t.Errorf("Expected only the remaining subscriber, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for delivery")
	}
	select {
	case got := <-delivered:
		t.Errorf("Unexpected delivery after unsubscribe: %s", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFanout_PanickingHandlerDoesNotStopDispatch(t *testing.T) {
	f := NewFanout("test", 0, zaptest.NewLogger(t))
	startFanout(t, f)

	delivered := make(chan string, 2)
	f.Subscribe(func(n entities.InboundVoiceNote) {
		if n.ExternalID == "1" {
			panic("boom")
		}
		delivered <- n.ExternalID
	})

	f.Publish(context.Background(), note("1", entities.EventTypePTT))
	f.Publish(context.Background(), note("2", entities.EventTypePTT))

	select {
	case got := <-delivered:
		if got != "2" {
			t.Errorf("Expected note 2, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Dispatch stopped after panic")
	}
}

func TestFanout_Closed(t *testing.T) {
	f := NewFanout("test", 1, zaptest.NewLogger(t))
	f.Close()
	f.Close()

	if _, err := f.Subscribe(func(entities.InboundVoiceNote) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Subscribe, got %v", err)
	}
	if err := f.Publish(context.Background(), note("1", entities.EventTypePTT)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Publish, got %v", err)
	}
}

func TestFanout_PublishRespectsContextWhenFull(t *testing.T) {
	f := NewFanout("test", 1, zaptest.NewLogger(t))
	f.Publish(context.Background(), note("1", entities.EventTypePTT))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Publish(ctx, note("2", entities.EventTypePTT)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded on full queue, got %v", err)
	}
}
