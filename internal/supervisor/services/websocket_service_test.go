// https://github.com/relaysync/core

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockHub struct {
	running atomic.Bool
}

func (m *mockHub) RunWithContext(ctx context.Context) error {
	m.running.Store(true)
	<-ctx.Done()
	m.running.Store(false)
	return ctx.Err()
}

func TestStreamHubServiceInterface(t *testing.T) {
	var _ suture.Service = (*StreamHubService)(nil)
}

func TestStreamHubService_DelegatesToHub(t *testing.T) {
	hub := &mockHub{}
	svc := NewStreamHubService(hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx)
	}()

	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		if hub.running.Load() {
			break
		}
	}
	if !hub.running.Load() {
		t.Fatal("hub was not started")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service did not stop in time")
	}
}

func TestStreamHubService_String(t *testing.T) {
	svc := NewStreamHubService(&mockHub{})
	if svc.String() != "dashboard-stream-hub" {
		t.Errorf("String() = %q, want %q", svc.String(), "dashboard-stream-hub")
	}
}
