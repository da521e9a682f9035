package valve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/valve-panel/internal/logger"
)

// Registry owns the state of a fixed set of valves. All mutations run under
// one write lock so a lock check and the following state write cannot be
// interleaved with another request's lock toggle.
//
// Notifiers run after the write lock is released, one mutation at a time and
// in the order the mutations committed. A notifier may read the registry but
// must not mutate it.
type Registry struct {
	mu        sync.RWMutex
	valves    []Valve
	driver    Driver
	notifiers []Notifier
	now       func() time.Time
	issued    uint64 // next delivery ticket, guarded by mu

	deliverMu sync.Mutex
	delivered *sync.Cond
	served    uint64 // tickets delivered, guarded by deliverMu
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier subscribes n at construction time.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		r.notifiers = append(r.notifiers, n)
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

type nopDriver struct{}

func (nopDriver) Apply(int, bool) error { return nil }

// New builds a registry from specs. Every valve starts closed and unlocked.
// A nil driver is replaced by one that does nothing.
func New(specs []Spec, driver Driver, opts ...Option) (*Registry, error) {
	if len(specs) == 0 {
		return nil, ErrNoValves
	}

	pins := make(map[int]string, len(specs))
	valves := make([]Valve, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("valve %d: empty name", i)
		}
		if other, ok := pins[s.Pin]; ok {
			return nil, fmt.Errorf("valve %q: pin %d already used by %q", s.Name, s.Pin, other)
		}
		pins[s.Pin] = s.Name
		valves[i] = Valve{Index: i, Name: s.Name, Pin: s.Pin}
	}

	if driver == nil {
		driver = nopDriver{}
	}

	r := &Registry{
		valves: valves,
		driver: driver,
		now:    time.Now,
	}
	r.delivered = sync.NewCond(&r.deliverMu)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Subscribe adds a notifier for all subsequent events.
func (r *Registry) Subscribe(n Notifier) {
	r.mu.Lock()
	r.notifiers = append(r.notifiers, n)
	r.mu.Unlock()
}

// Len returns the number of valves. It never changes.
func (r *Registry) Len() int {
	return len(r.valves)
}

// Get returns a copy of valve index.
func (r *Registry) Get(_ context.Context, index int) (Valve, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.inRange(index) {
		return Valve{}, outOfRange(index)
	}
	return r.valves[index], nil
}

// StatusAll returns a copy of every valve in index order.
func (r *Registry) StatusAll(_ context.Context) []Valve {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Valve, len(r.valves))
	copy(out, r.valves)
	return out
}

// Names returns the names of the valves at the given indices.
// Indices out of range are skipped.
func (r *Registry) Names(indices []int) []string {
	names := make([]string, 0, len(indices))
	for _, i := range indices {
		if r.inRange(i) {
			names = append(names, r.valves[i].Name)
		}
	}
	return names
}

// SetOpen drives valve index to desired. A locked valve is left untouched
// and ErrLocked is returned together with its current state. Setting the
// current value still calls the driver.
func (r *Registry) SetOpen(ctx context.Context, index int, desired bool) (Valve, error) {
	return r.mutateOpen(ctx, index, func(Valve) bool { return desired })
}

// ToggleOpen inverts the open state of valve index.
func (r *Registry) ToggleOpen(ctx context.Context, index int) (Valve, error) {
	return r.mutateOpen(ctx, index, func(v Valve) bool { return !v.Open })
}

// SetLock sets the lock flag of valve index. Locks are never themselves
// locked and never reach the driver.
func (r *Registry) SetLock(ctx context.Context, index int, desired bool) (Valve, error) {
	return r.mutateLock(ctx, index, func(Valve) bool { return desired })
}

// ToggleLock inverts the lock flag of valve index.
func (r *Registry) ToggleLock(ctx context.Context, index int) (Valve, error) {
	return r.mutateLock(ctx, index, func(v Valve) bool { return !v.Locked })
}

// SetOpenAll drives every unlocked valve to desired in index order as one
// critical section. Locked valves are skipped and reported; they are not an
// error. Driver failures leave that valve unchanged, are left out of
// Updated and are returned joined after the whole batch has run.
func (r *Registry) SetOpenAll(ctx context.Context, desired bool) (BatchResult, error) {
	var (
		result BatchResult
		events []Event
		errs   []error
	)

	r.mu.Lock()
	for i := range r.valves {
		ev, err := r.applyOpen(i, desired)
		switch {
		case errors.Is(err, ErrLocked):
			result.SkippedLocked = append(result.SkippedLocked, i)
		case err != nil:
			errs = append(errs, err)
		default:
			result.Updated = append(result.Updated, i)
			events = append(events, ev)
		}
	}
	d := r.dispatch(events)
	r.mu.Unlock()

	if len(result.SkippedLocked) > 0 {
		logger.InfoKV(ctx, "Skipped locked valves", "valves", r.Names(result.SkippedLocked), "open", desired)
	}

	d.run(ctx)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		logger.ErrorKV(ctx, "Batch drive incomplete", "error", err)
		return result, err
	}
	return result, nil
}

func (r *Registry) mutateOpen(ctx context.Context, index int, next func(Valve) bool) (Valve, error) {
	r.mu.Lock()
	if !r.inRange(index) {
		r.mu.Unlock()
		return Valve{}, outOfRange(index)
	}
	ev, err := r.applyOpen(index, next(r.valves[index]))
	v := r.valves[index]
	var d delivery
	if err == nil {
		d = r.dispatch([]Event{ev})
	}
	r.mu.Unlock()

	switch {
	case errors.Is(err, ErrLocked):
		logger.WarnKV(ctx, "Rejected change on locked valve", "valve", v.Name)
		return v, err
	case err != nil:
		logger.ErrorKV(ctx, "Valve drive failed", "valve", v.Name, "error", err)
		return v, err
	}

	logger.InfoKV(ctx, "Valve driven", "valve", v.Name, "state", v.StatusText())
	d.run(ctx)
	return v, nil
}

func (r *Registry) mutateLock(ctx context.Context, index int, next func(Valve) bool) (Valve, error) {
	r.mu.Lock()
	if !r.inRange(index) {
		r.mu.Unlock()
		return Valve{}, outOfRange(index)
	}
	v := &r.valves[index]
	v.Locked = next(*v)
	ev := Event{Time: r.now(), Kind: lockKind(v.Locked), Valve: *v}
	d := r.dispatch([]Event{ev})
	r.mu.Unlock()

	logger.InfoKV(ctx, "Valve lock changed", "valve", ev.Valve.Name, "lock", ev.Valve.LockText())
	d.run(ctx)
	return ev.Valve, nil
}

// applyOpen must be called with r.mu held for writing. The driver runs
// before the state write so a failed drive leaves the recorded state alone.
func (r *Registry) applyOpen(index int, desired bool) (Event, error) {
	v := &r.valves[index]
	if v.Locked {
		return Event{}, fmt.Errorf("%w: %s", ErrLocked, v.Name)
	}
	if err := r.driver.Apply(index, desired); err != nil {
		return Event{}, fmt.Errorf("%w: %s: %w", ErrDriver, v.Name, err)
	}
	v.Open = desired
	return Event{Time: r.now(), Kind: openKind(desired), Valve: *v}, nil
}

// delivery is a batch of committed events waiting for its turn to reach the
// notifiers. The zero value delivers nothing.
type delivery struct {
	r         *Registry
	ticket    uint64
	notifiers []Notifier
	events    []Event
}

// dispatch must be called with r.mu held for writing. Tickets are issued in
// commit order; run delivers them in the same order.
func (r *Registry) dispatch(events []Event) delivery {
	if len(events) == 0 || len(r.notifiers) == 0 {
		return delivery{}
	}
	notifiers := make([]Notifier, len(r.notifiers))
	copy(notifiers, r.notifiers)
	d := delivery{r: r, ticket: r.issued, notifiers: notifiers, events: events}
	r.issued++
	return d
}

// run must be called without r.mu held.
func (d delivery) run(ctx context.Context) {
	if d.r == nil {
		return
	}
	r := d.r

	r.deliverMu.Lock()
	for r.served != d.ticket {
		r.delivered.Wait()
	}
	r.deliverMu.Unlock()

	defer func() {
		r.deliverMu.Lock()
		r.served++
		r.delivered.Broadcast()
		r.deliverMu.Unlock()
	}()

	for _, ev := range d.events {
		for _, n := range d.notifiers {
			n.Notify(ctx, ev)
		}
	}
}

func (r *Registry) inRange(index int) bool {
	return index >= 0 && index < len(r.valves)
}

func outOfRange(index int) error {
	return fmt.Errorf("%w: %d", ErrOutOfRange, index)
}
