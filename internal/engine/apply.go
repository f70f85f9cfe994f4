package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/converge-io/converge/internal/ir"
	"github.com/converge-io/converge/internal/logging"
	"github.com/converge-io/converge/internal/provider"
)

// NodeStatus tracks one plan node through the apply run.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusReady     NodeStatus = "ready"
	StatusRunning   NodeStatus = "running"
	StatusApplied   NodeStatus = "applied"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
	StatusCancelled NodeStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s NodeStatus) Terminal() bool {
	switch s {
	case StatusApplied, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// ApplyResult summarizes a whole run.
type ApplyResult string

const (
	// ResultSuccess: every node applied.
	ResultSuccess ApplyResult = "success"
	// ResultPartialFailure: some nodes applied, others failed or were
	// skipped behind a failure.
	ResultPartialFailure ApplyResult = "partial_failure"
	// ResultFailed: failures with nothing applied at all.
	ResultFailed ApplyResult = "failed"
	// ResultCancelled: the run was interrupted before finishing.
	ResultCancelled ApplyResult = "cancelled"
)

// NodeReport is the outcome of one node.
type NodeReport struct {
	Address  ir.Address
	Op       ir.Op
	Status   NodeStatus
	Err      error
	Attempts int
	Duration time.Duration
}

// ApplyReport is the outcome of a run.
type ApplyReport struct {
	RunID     string
	Result    ApplyResult
	StartedAt time.Time
	Duration  time.Duration
	Nodes     map[ir.Address]*NodeReport
}

// Counts tallies node outcomes by status.
func (r *ApplyReport) Counts() (applied, failed, skipped, cancelled int) {
	for _, n := range r.Nodes {
		switch n.Status {
		case StatusApplied:
			applied++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		case StatusCancelled:
			cancelled++
		}
	}
	return
}

// ApplyEvent is one progress notification.
type ApplyEvent struct {
	Address  ir.Address
	Op       ir.Op
	Status   NodeStatus
	Duration time.Duration
	Error    error
}

// EventFunc receives progress events. Calls arrive from worker
// goroutines, but never concurrently with each other.
type EventFunc func(ApplyEvent)

// Apply executes a plan. Nodes run concurrently up to the configured
// parallelism, each only after its dependencies applied. State commits
// per node under a single writer, so an interrupted run can resume from
// whatever finished. The snapshot is mutated in place.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, snap *ir.Snapshot) (*ApplyReport, error) {
	if snap == nil {
		return nil, errors.New("apply requires a state snapshot")
	}
	report := &ApplyReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Result:    ResultSuccess,
		Nodes:     make(map[ir.Address]*NodeReport),
	}
	if plan.Empty() {
		return report, nil
	}

	for _, c := range plan.Changes {
		if name := providerFor(c); !e.registry.Has(name) {
			return nil, fmt.Errorf("plan needs provider %q which is not registered", name)
		}
	}

	log := logging.With("run_id", report.RunID)
	log.Info("starting apply", "changes", len(plan.Changes), "parallelism", e.parallelism)

	// One serial bump per run; every incremental save carries it.
	snap.Serial++

	s := newScheduler(e, plan, snap, report)
	s.run(ctx)

	report.Duration = time.Since(report.StartedAt)
	applied, failed, skipped, cancelled := report.Counts()
	switch {
	case s.isCancelled() || cancelled > 0:
		report.Result = ResultCancelled
	case failed == 0 && skipped == 0:
		report.Result = ResultSuccess
	case applied == 0:
		report.Result = ResultFailed
	default:
		report.Result = ResultPartialFailure
	}
	log.Info("apply finished", "result", string(report.Result),
		"applied", applied, "failed", failed, "skipped", skipped, "cancelled", cancelled)

	var err error
	if len(s.errs) > 0 {
		err = fmt.Errorf("%d resource(s) failed: %w", len(s.errs), errors.Join(s.errs...))
	} else if report.Result == ResultCancelled {
		err = fmt.Errorf("apply cancelled: %w", context.Cause(ctx))
	}
	return report, err
}

// scheduler drives one apply run: per-node dependency counters feed a
// ready channel consumed by a bounded worker pool.
type scheduler struct {
	eng     *Engine
	snap    *ir.Snapshot
	report  *ApplyReport
	changes map[ir.Address]*ir.Change
	deps    map[ir.Address][]ir.Address
	rdeps   map[ir.Address][]ir.Address

	mu        sync.Mutex
	remaining map[ir.Address]int
	done      int
	total     int
	cancelled bool
	errs      []error

	ready    chan ir.Address
	finished chan struct{}

	// stateMu is the single-writer gate over snapshot reads for
	// resolution and snapshot mutation plus persistence.
	stateMu sync.Mutex

	emitMu sync.Mutex
}

func newScheduler(e *Engine, plan *ir.Plan, snap *ir.Snapshot, report *ApplyReport) *scheduler {
	s := &scheduler{
		eng:       e,
		snap:      snap,
		report:    report,
		changes:   make(map[ir.Address]*ir.Change, len(plan.Changes)),
		deps:      make(map[ir.Address][]ir.Address),
		rdeps:     make(map[ir.Address][]ir.Address),
		remaining: make(map[ir.Address]int),
		total:     len(plan.Changes),
		ready:     make(chan ir.Address, len(plan.Changes)),
		finished:  make(chan struct{}),
	}
	for _, c := range plan.Changes {
		s.changes[c.Address] = c
		report.Nodes[c.Address] = &NodeReport{Address: c.Address, Op: c.Op, Status: StatusPending}
	}
	s.buildEdges(plan)
	return s
}

// buildEdges reconstructs execution ordering from the plan. Three edge
// families:
//   - a desired node waits for the desired nodes it references;
//   - a delete waits for deletes of resources that depended on it
//     (reverse of creation order);
//   - a delete waits for surviving nodes that previously depended on it,
//     so nothing is destroyed while still referenced.
func (s *scheduler) buildEdges(plan *ir.Plan) {
	addEdge := func(node, prereq ir.Address) {
		if node == prereq {
			return
		}
		for _, existing := range s.deps[node] {
			if existing == prereq {
				return
			}
		}
		s.deps[node] = append(s.deps[node], prereq)
		s.rdeps[prereq] = append(s.rdeps[prereq], node)
	}

	for _, c := range plan.Changes {
		if c.Op == ir.OpDelete {
			for _, dep := range c.Deps {
				if other, ok := s.changes[dep]; ok && other.Op == ir.OpDelete {
					addEdge(dep, c.Address)
				}
			}
			continue
		}
		for _, dep := range c.Deps {
			if other, ok := s.changes[dep]; ok && other.Op != ir.OpDelete {
				addEdge(c.Address, dep)
			}
		}
		if c.Prior != nil {
			for _, dep := range c.Prior.Deps {
				if other, ok := s.changes[dep]; ok && other.Op == ir.OpDelete {
					addEdge(dep, c.Address)
				}
			}
		}
	}

	for addr := range s.changes {
		s.remaining[addr] = len(s.deps[addr])
	}
}

func (s *scheduler) run(ctx context.Context) {
	// Watch for cancellation: no new nodes start, in-flight calls finish.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cancelled = true
			s.mu.Unlock()
		case <-s.finished:
		}
	}()

	var roots []ir.Address
	s.mu.Lock()
	for addr, n := range s.remaining {
		if n == 0 {
			s.report.Nodes[addr].Status = StatusReady
			roots = append(roots, addr)
		}
	}
	s.mu.Unlock()
	sortAddresses(roots)
	for _, addr := range roots {
		s.ready <- addr
	}

	workers := s.eng.parallelism
	if workers > s.total {
		workers = s.total
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range s.ready {
				s.runNode(ctx, addr)
			}
		}()
	}
	wg.Wait()
	<-watchDone
}

func (s *scheduler) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *scheduler) runNode(ctx context.Context, addr ir.Address) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		s.finish(addr, StatusCancelled, nil, 0, 0)
		return
	}
	s.report.Nodes[addr].Status = StatusRunning
	s.mu.Unlock()

	c := s.changes[addr]
	s.emit(ApplyEvent{Address: addr, Op: c.Op, Status: StatusRunning})

	start := time.Now()
	attempts, err := s.execute(ctx, c)
	dur := time.Since(start)

	status := StatusApplied
	if err != nil {
		if s.isCancelled() {
			status = StatusCancelled
		} else {
			status = StatusFailed
		}
	}
	s.finish(addr, status, err, dur, attempts)
}

// finish records a terminal status, releases or cascades dependents, and
// closes the run when every node is terminal.
func (s *scheduler) finish(addr ir.Address, status NodeStatus, err error, dur time.Duration, attempts int) {
	var events []ApplyEvent
	var enqueue []ir.Address

	s.mu.Lock()
	node := s.report.Nodes[addr]
	node.Status = status
	node.Err = err
	node.Duration = dur
	node.Attempts = attempts
	s.done++
	if status == StatusFailed && err != nil {
		s.errs = append(s.errs, err)
	}
	events = append(events, ApplyEvent{Address: addr, Op: node.Op, Status: status, Duration: dur, Error: err})

	switch status {
	case StatusApplied:
		for _, dep := range s.rdeps[addr] {
			s.remaining[dep]--
			if s.remaining[dep] != 0 {
				continue
			}
			if s.cancelled {
				n := s.report.Nodes[dep]
				n.Status = StatusCancelled
				s.done++
				events = append(events, ApplyEvent{Address: dep, Op: n.Op, Status: StatusCancelled})
				events = append(events, s.cascade(dep, StatusCancelled)...)
			} else {
				s.report.Nodes[dep].Status = StatusReady
				enqueue = append(enqueue, dep)
			}
		}
	case StatusFailed:
		events = append(events, s.cascade(addr, StatusSkipped)...)
	case StatusCancelled:
		events = append(events, s.cascade(addr, StatusCancelled)...)
	}

	finished := s.done == s.total
	s.mu.Unlock()

	for _, ev := range events {
		s.emit(ev)
	}
	sortAddresses(enqueue)
	for _, dep := range enqueue {
		s.ready <- dep
	}
	if finished {
		close(s.ready)
		close(s.finished)
	}
}

// cascade marks every pending transitive dependent of addr terminal with
// the given status. Caller holds s.mu.
func (s *scheduler) cascade(addr ir.Address, status NodeStatus) []ApplyEvent {
	var events []ApplyEvent
	queue := append([]ir.Address(nil), s.rdeps[addr]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		node := s.report.Nodes[next]
		if node.Status != StatusPending {
			continue
		}
		node.Status = status
		s.done++
		events = append(events, ApplyEvent{Address: next, Op: node.Op, Status: status})
		queue = append(queue, s.rdeps[next]...)
	}
	return events
}

func (s *scheduler) emit(ev ApplyEvent) {
	if s.eng.events != nil {
		s.emitMu.Lock()
		s.eng.events(ev)
		s.emitMu.Unlock()
	}
	if ev.Error != nil {
		logging.Error("node "+string(ev.Status), "address", string(ev.Address), "op", string(ev.Op), "error", ev.Error)
	} else {
		logging.Debug("node "+string(ev.Status), "address", string(ev.Address), "op", string(ev.Op))
	}
}

// execute performs the provider calls for one change. Provider calls run
// on a context detached from run cancellation so an interrupt never
// leaves a call half-finished; retry backoff still aborts promptly.
func (s *scheduler) execute(ctx context.Context, c *ir.Change) (int, error) {
	prov, err := s.eng.registry.Get(providerFor(c))
	if err != nil {
		return 0, err
	}
	typ := typeFor(c)

	timeout := DefaultTimeout
	if c.Desired != nil && c.Desired.Timeout > 0 {
		timeout = time.Duration(c.Desired.Timeout)
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	retry := func(fn func() error) (int, error) {
		return RetryWithBackoff(ctx, s.eng.retry, fn, IsRetryable)
	}

	switch c.Op {
	case ir.OpCreate:
		attrs, err := s.resolveDesired(c)
		if err != nil {
			return 0, err
		}
		var id string
		var out map[string]any
		attempts, err := retry(func() error {
			var callErr error
			id, out, callErr = prov.Create(opCtx, typ, attrs)
			return callErr
		})
		if err != nil {
			return attempts, fmt.Errorf("creating %s: %w", c.Address, err)
		}
		return attempts, s.commitPut(opCtx, c, id, attrs, out)

	case ir.OpUpdate:
		attrs, err := s.resolveDesired(c)
		if err != nil {
			return 0, err
		}
		var out map[string]any
		attempts, err := retry(func() error {
			var callErr error
			out, callErr = prov.Update(opCtx, typ, c.Prior.ID, attrs)
			return callErr
		})
		if err != nil {
			return attempts, fmt.Errorf("updating %s: %w", c.Address, err)
		}
		return attempts, s.commitPut(opCtx, c, c.Prior.ID, attrs, out)

	case ir.OpDelete:
		attempts, err := retry(func() error {
			return prov.Delete(opCtx, typ, c.Prior.ID)
		})
		if err != nil {
			return attempts, fmt.Errorf("deleting %s: %w", c.Address, err)
		}
		return attempts, s.commitRemove(opCtx, c.Address)

	case ir.OpReplace:
		return s.executeReplace(ctx, opCtx, c, prov, typ, retry)
	}
	return 0, fmt.Errorf("unsupported operation %q for %s", c.Op, c.Address)
}

// executeReplace runs the two-step replacement. Create-before-destroy
// commits the new instance first and only then deletes the deposed one;
// the default order is the reverse. Each step commits state immediately,
// so a failure between steps leaves an accurate record.
func (s *scheduler) executeReplace(ctx, opCtx context.Context, c *ir.Change, prov provider.Interface, typ string, retry func(func() error) (int, error)) (int, error) {
	attrs, err := s.resolveDesired(c)
	if err != nil {
		return 0, err
	}
	deposedID := c.Prior.ID

	createNew := func() (int, error) {
		var id string
		var out map[string]any
		attempts, err := retry(func() error {
			var callErr error
			id, out, callErr = prov.Create(opCtx, typ, attrs)
			return callErr
		})
		if err != nil {
			return attempts, fmt.Errorf("replacing %s: creating new instance: %w", c.Address, err)
		}
		return attempts, s.commitPut(opCtx, c, id, attrs, out)
	}
	deleteOld := func() (int, error) {
		attempts, err := retry(func() error {
			return prov.Delete(opCtx, typ, deposedID)
		})
		if err != nil {
			return attempts, fmt.Errorf("replacing %s: deleting deposed %s: %w", c.Address, deposedID, err)
		}
		return attempts, nil
	}

	if c.ReplaceOrder == ir.CreateThenDelete {
		attempts, err := createNew()
		if err != nil {
			return attempts, err
		}
		more, err := deleteOld()
		return attempts + more, err
	}

	attempts, err := deleteOld()
	if err != nil {
		return attempts, err
	}
	if err := s.commitRemove(opCtx, c.Address); err != nil {
		return attempts, err
	}
	more, err := createNew()
	return attempts + more, err
}

// resolveDesired materializes the change's attributes against the live
// snapshot. By the time a node runs, all its dependencies have committed,
// so everything must resolve to known values.
func (s *scheduler) resolveDesired(c *ir.Change) (map[string]any, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	ec := &evalContext{snap: s.snap}
	attrs, err := ec.resolveAttrs(c.Desired)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", c.Address, err)
	}
	for key, v := range attrs {
		if ir.ContainsUnknown(v) {
			return nil, fmt.Errorf("resolving %s: attribute %q still unknown at apply time", c.Address, key)
		}
	}
	return attrs, nil
}

// commitPut records a successful create or update and persists the
// snapshot before the node is reported terminal.
func (s *scheduler) commitPut(ctx context.Context, c *ir.Change, id string, inputs, out map[string]any) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	typ, name := c.Address.Split()
	s.snap.Put(c.Address, &ir.ResourceState{
		Type:     typ,
		Name:     name,
		Provider: providerFor(c),
		ID:       id,
		Inputs:   inputs,
		Attrs:    out,
		Deps:     append([]ir.Address(nil), c.Deps...),
	})
	return s.persist(ctx)
}

func (s *scheduler) commitRemove(ctx context.Context, addr ir.Address) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.snap.Remove(addr)
	return s.persist(ctx)
}

func (s *scheduler) persist(ctx context.Context) error {
	if s.eng.persist == nil {
		return nil
	}
	if err := s.eng.persist.Save(ctx, s.snap); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}
