package anova

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CompletionPolicy decides when a reply has finished arriving. The protocol
// has no terminator or length field, so completion is inferred from timing:
// after each fragment the silence window restarts, and the reply is complete
// once the window lapses with at least MinWait elapsed since the command was
// written.
type CompletionPolicy struct {
	SilenceWindow time.Duration
	MinWait       time.Duration
}

// The thresholds were tuned against real device behavior. Status-class
// replies are known to arrive split across several notifications, so they
// get a longer window than simple acknowledgements.
var (
	StatusPolicy = CompletionPolicy{SilenceWindow: 3 * time.Second, MinWait: 1500 * time.Millisecond}
	AckPolicy    = CompletionPolicy{SilenceWindow: 1 * time.Second, MinWait: 500 * time.Millisecond}
)

// accumulator reassembles one logical reply from a stream of notification
// fragments. One accumulator lives exactly as long as its exchange; cleanup
// detaches it so a late fragment can never leak into the next exchange.
type accumulator struct {
	policy CompletionPolicy

	mu        sync.Mutex
	fragments []string
	seen      map[string]struct{}
	last      time.Time

	started   time.Time
	arrived   chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once
}

func newAccumulator(policy CompletionPolicy) *accumulator {
	return &accumulator{
		policy:  policy,
		seen:    make(map[string]struct{}),
		started: time.Now(),
		arrived: make(chan struct{}, 1),
		aborted: make(chan struct{}),
	}
}

// abort wakes a blocked wait immediately; used when the link drops
// mid-exchange. Whatever was accumulated is discarded by the caller.
func (a *accumulator) abort() {
	a.abortOnce.Do(func() { close(a.aborted) })
}

// add appends a notification fragment unless it is an exact duplicate of an
// already-seen one; the notify layer sometimes re-delivers payloads. Safe to
// call from the transport's callback goroutine.
func (a *accumulator) add(data []byte) {
	frag := string(data)
	a.mu.Lock()
	if _, dup := a.seen[frag]; dup {
		a.mu.Unlock()
		return
	}
	a.seen[frag] = struct{}{}
	a.fragments = append(a.fragments, frag)
	a.last = time.Now()
	a.mu.Unlock()

	select {
	case a.arrived <- struct{}{}:
	default:
	}
}

// wait blocks until the completion heuristic fires or ctx expires. It
// returns the assembled text and true when at least one fragment arrived;
// "" and false when the deadline passed with nothing received.
func (a *accumulator) wait(ctx context.Context) (string, bool) {
	for {
		a.mu.Lock()
		count := len(a.fragments)
		last := a.last
		a.mu.Unlock()

		if count == 0 {
			select {
			case <-ctx.Done():
				return "", false
			case <-a.aborted:
				return "", false
			case <-a.arrived:
				continue
			}
		}

		deadline := last.Add(a.policy.SilenceWindow)
		if min := a.started.Add(a.policy.MinWait); min.After(deadline) {
			deadline = min
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return a.assembled(), true
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			// Overall command timeout beat the silence window; hand back
			// whatever arrived rather than discarding it.
			return a.assembled(), true
		case <-a.aborted:
			timer.Stop()
			return "", false
		case <-a.arrived:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// assembled joins the fragments in arrival order.
func (a *accumulator) assembled() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(strings.Join(a.fragments, ""))
}
