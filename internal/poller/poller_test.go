package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/anovactl/internal/anova"
)

type fakeSource struct {
	mu        sync.Mutex
	status    anova.Status
	connected bool
	calls     int
}

func (f *fakeSource) GetStatus(context.Context) anova.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.status
}

func (f *fakeSource) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func TestPollerRefreshesImmediatelyAndOnInterval(t *testing.T) {
	temp := 55.5
	source := &fakeSource{status: anova.Status{CurrentTemp: &temp}, connected: true}

	var mu sync.Mutex
	var snapshots []anova.Status
	sink := func(status anova.Status, connected bool) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, status)
		if !connected {
			t.Error("sink saw connected = false, want true")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := New(source, 20*time.Millisecond, sink)
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	// One immediate refresh plus roughly three ticks.
	if len(snapshots) < 2 {
		t.Fatalf("sink received %d snapshots, want at least 2", len(snapshots))
	}
	if snapshots[0].CurrentTemp == nil || *snapshots[0].CurrentTemp != 55.5 {
		t.Errorf("first snapshot = %v, want current temp 55.5", snapshots[0].CurrentTemp)
	}
}

func TestPollerReportsDisconnected(t *testing.T) {
	source := &fakeSource{connected: false}

	got := make(chan bool, 1)
	sink := func(_ anova.Status, connected bool) {
		select {
		case got <- connected:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(source, time.Hour, sink).Run(ctx)

	select {
	case connected := <-got:
		if connected {
			t.Error("sink saw connected = true for an unreachable device")
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate refresh observed")
	}
}

func TestPollerDefaultsInterval(t *testing.T) {
	p := New(&fakeSource{}, 0)
	if p.interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s default", p.interval)
	}
}
