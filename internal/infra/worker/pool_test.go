package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	p := NewPool(2, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var done int32
	for i := 0; i < 5; i++ {
		err := p.Submit(func(context.Context) error {
			atomic.AddInt32(&done, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&done) < 5 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 5 tasks ran", atomic.LoadInt32(&done))
		case <-time.After(10 * time.Millisecond):
		}
	}
	p.Stop()
}

func TestPoolRejectsNilAndSaturation(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	p := NewPool(1, &logger)
	// Not started: the buffered channel fills, then Submit must reject.
	if err := p.Submit(nil); err == nil {
		t.Fatal("nil task must be rejected")
	}

	block := func(context.Context) error { return errors.New("never runs") }
	var sawFull bool
	for i := 0; i < 100; i++ {
		if err := p.Submit(block); err != nil {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("saturated pool must reject instead of blocking")
	}
}
