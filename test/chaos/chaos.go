// Package chaos injects failures into the signing stress run.
package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

// ErrInjected marks a deliberately failed delivery.
var ErrInjected = errors.New("chaos: injected send failure")

// FlakyNotifier fails a fraction of sends at random. The workflow engine must
// keep its state transitions intact regardless: a lost notification is a
// per-recipient problem, never a session problem.
type FlakyNotifier struct {
	mu        sync.Mutex
	rng       *rand.Rand
	failRate  float64
	delivered int
	dropped   int
}

func NewFlakyNotifier(seed int64, failRate float64) *FlakyNotifier {
	return &FlakyNotifier{rng: rand.New(rand.NewSource(seed)), failRate: failRate}
}

func (n *FlakyNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rng.Float64() < n.failRate {
		n.dropped++
		return ErrInjected
	}
	n.delivered++
	return nil
}

// Counts reports deliveries and injected drops so far.
func (n *FlakyNotifier) Counts() (delivered, dropped int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.dropped
}
