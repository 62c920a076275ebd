package cbclusterboot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// ResourceStateStream is the publish/subscribe surface resource lifecycle
// states travel over.  Publishing never blocks on consumers; watchers see
// every snapshot published after they subscribed, in order.
type ResourceStateStream interface {
	Publish(res ResourceRef, state ResourceState, exitCode int)
	Current(res ResourceRef) (ResourceStateSnapshot, bool)
	Watch(ctx context.Context) <-chan ResourceStateSnapshot
	WaitFor(ctx context.Context, res ResourceRef, states ...ResourceState) (ResourceStateSnapshot, error)
}

type StateBrokerOptions struct {
	Logger *zap.Logger
}

// StateBroker is the in-process ResourceStateStream.
type StateBroker struct {
	logger *zap.Logger

	lock     sync.Mutex
	current  map[ResourceRef]ResourceStateSnapshot
	watchers map[*stateWatcher]struct{}

	// changedSig is closed and replaced on every publish so waiters can
	// re-check the current map without risking a missed update.
	changedSig chan struct{}
}

var _ ResourceStateStream = (*StateBroker)(nil)

func NewStateBroker(opts *StateBrokerOptions) *StateBroker {
	if opts == nil {
		opts = &StateBrokerOptions{}
	}

	return &StateBroker{
		logger:     loggerOrNop(opts.Logger),
		current:    make(map[ResourceRef]ResourceStateSnapshot),
		watchers:   make(map[*stateWatcher]struct{}),
		changedSig: make(chan struct{}),
	}
}

type stateWatcher struct {
	outCh chan ResourceStateSnapshot

	lock    sync.Mutex
	pending []ResourceStateSnapshot
	wakeSig chan struct{}
}

func (w *stateWatcher) enqueue(snap ResourceStateSnapshot) {
	w.lock.Lock()
	w.pending = append(w.pending, snap)
	w.lock.Unlock()

	select {
	case w.wakeSig <- struct{}{}:
	default:
	}
}

// Publish records the state as current for the resource and fans it out to
// every watcher.
func (b *StateBroker) Publish(res ResourceRef, state ResourceState, exitCode int) {
	snap := ResourceStateSnapshot{
		Resource: res,
		State:    state,
		ExitCode: exitCode,
		At:       time.Now(),
	}

	b.lock.Lock()
	b.current[res] = snap

	close(b.changedSig)
	b.changedSig = make(chan struct{})

	watchers := make([]*stateWatcher, 0, len(b.watchers))
	for w := range b.watchers {
		watchers = append(watchers, w)
	}
	b.lock.Unlock()

	b.logger.Debug("published resource state",
		zap.Stringer("resource", res),
		zap.String("state", string(state)),
		zap.Int("exitCode", exitCode))
	publishedResourceStates.Add(context.Background(), 1)

	for _, w := range watchers {
		w.enqueue(snap)
	}
}

// Current returns the last snapshot published for the resource.
func (b *StateBroker) Current(res ResourceRef) (ResourceStateSnapshot, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	snap, ok := b.current[res]
	return snap, ok
}

// Watch returns a channel of every snapshot published after the call.  The
// channel closes once ctx is cancelled; a slow reader queues snapshots
// rather than dropping them.
func (b *StateBroker) Watch(ctx context.Context) <-chan ResourceStateSnapshot {
	w := &stateWatcher{
		outCh:   make(chan ResourceStateSnapshot),
		wakeSig: make(chan struct{}, 1),
	}

	b.lock.Lock()
	b.watchers[w] = struct{}{}
	b.lock.Unlock()

	go func() {
		defer func() {
			b.lock.Lock()
			delete(b.watchers, w)
			b.lock.Unlock()

			close(w.outCh)
		}()

		for {
			w.lock.Lock()
			pending := w.pending
			w.pending = nil
			w.lock.Unlock()

			for _, snap := range pending {
				select {
				case w.outCh <- snap:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-w.wakeSig:
			case <-ctx.Done():
				return
			}
		}
	}()

	return w.outCh
}

// WaitFor blocks until the resource's current state is one of the given
// states and returns the matching snapshot.
func (b *StateBroker) WaitFor(
	ctx context.Context,
	res ResourceRef,
	states ...ResourceState,
) (ResourceStateSnapshot, error) {
	for {
		b.lock.Lock()
		snap, ok := b.current[res]
		changedSig := b.changedSig
		b.lock.Unlock()

		if ok && slices.Contains(states, snap.State) {
			return snap, nil
		}

		select {
		case <-changedSig:
		case <-ctx.Done():
			return ResourceStateSnapshot{}, ctx.Err()
		}
	}
}
