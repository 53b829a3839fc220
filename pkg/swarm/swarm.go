package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/expeca/ainur/pkg/errdefs"
	"github.com/expeca/ainur/pkg/events"
	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/metrics"
	"github.com/expeca/ainur/pkg/types"
)

// State is the lifecycle state of a DockerSwarm
type State string

const (
	StateUnformed State = "unformed"
	StateForming  State = "forming"
	StateFormed   State = "formed"
	StateTornDown State = "torn_down"
)

// Assignment pairs a host with the labels its control-plane entry should
// carry
type Assignment struct {
	Host   types.HostIdentity
	Labels map[string]string
}

// Config describes the cluster to form
type Config struct {
	Managers []Assignment // must be non-empty
	Workers  []Assignment

	// DefaultLabels apply to every node, overridden per host
	DefaultLabels map[string]string

	Dialer      Dialer
	DaemonPort  uint16 // defaults to DefaultDaemonPort
	MaxParallel int    // bound on concurrent host-directed operations, defaults to 8
	Broker      *events.Broker
}

// DockerSwarm is a formed cluster over a Layer3Network-resolved host set.
// FormSwarm either returns a fully-formed cluster or rolls every joined node
// back out and returns the error; a caller never holds a partial cluster.
//
// Membership maps are only written by the goroutine driving the state
// transitions; per-host workers report through channels.
type DockerSwarm struct {
	state        State
	firstManager *ManagerNode
	managers     map[string]*ManagerNode
	workers      map[string]*WorkerNode
	maxParallel  int
	broker       *events.Broker
}

// FormSwarm bootstraps a cluster: a brand-new swarm is initialized on an
// arbitrary first manager synchronously (the join tokens do not exist until
// that call returns), then every remaining manager and every worker attaches
// concurrently. Any failure rolls back all nodes that already joined before
// the error is returned.
func FormSwarm(ctx context.Context, cfg Config) (*DockerSwarm, error) {
	logger := log.WithComponent("swarm")

	if cfg.DaemonPort == 0 {
		cfg.DaemonPort = DefaultDaemonPort
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DockerDialer
	}

	managers, workers, err := normalizeRoster(cfg.Managers, cfg.Workers)
	if err != nil {
		return nil, err
	}

	s := &DockerSwarm{
		state:       StateForming,
		managers:    make(map[string]*ManagerNode),
		workers:     make(map[string]*WorkerNode),
		maxParallel: cfg.MaxParallel,
		broker:      cfg.Broker,
	}

	// the first manager is inherently sequential: join tokens only exist
	// once this call returns
	first := managers[0]
	firstNode, err := InitSwarm(ctx, cfg.Dialer, first.Host,
		mergeLabels(cfg.DefaultLabels, first.Labels), cfg.DaemonPort)
	if err != nil {
		return nil, fmt.Errorf("forming swarm: %w", err)
	}
	s.firstManager = firstNode
	s.managers[first.Host.ID] = firstNode
	s.broker.Publish(&events.Event{
		Type:   events.EventSwarmNodeJoined,
		HostID: first.Host.ID,
	})

	// attach everyone else concurrently
	type attachJob struct {
		assignment Assignment
		manager    bool
	}
	var jobs []attachJob
	for _, a := range managers[1:] {
		jobs = append(jobs, attachJob{assignment: a, manager: true})
	}
	for _, a := range workers {
		jobs = append(jobs, attachJob{assignment: a, manager: false})
	}

	type attachResult struct {
		node SwarmNode
		err  error
	}
	results := make(chan attachResult, len(jobs))
	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		go func(job attachJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			labels := mergeLabels(cfg.DefaultLabels, job.assignment.Labels)
			timer := metrics.NewTimer()
			var (
				node SwarmNode
				err  error
			)
			if job.manager {
				node, err = firstNode.AttachManager(ctx, job.assignment.Host, labels)
			} else {
				node, err = firstNode.AttachWorker(ctx, job.assignment.Host, labels)
			}
			if err != nil {
				timer.ObserveRemoteOp("swarm.attach", "failed")
				results <- attachResult{err: err}
				return
			}
			timer.ObserveRemoteOp("swarm.attach", "ok")
			results <- attachResult{node: node}
		}(job)
	}
	wg.Wait()
	close(results)

	// collect on the caller goroutine; workers never touch the maps
	var attachErrs []error
	for res := range results {
		if res.err != nil {
			attachErrs = append(attachErrs, res.err)
			continue
		}
		switch node := res.node.(type) {
		case *ManagerNode:
			s.managers[node.Host().ID] = node
		case *WorkerNode:
			s.workers[node.Host().ID] = node
		}
		s.broker.Publish(&events.Event{
			Type:   events.EventSwarmNodeJoined,
			HostID: res.node.Host().ID,
		})
	}

	if len(attachErrs) > 0 {
		logger.Error().
			Int("failed", len(attachErrs)).
			Msg("could not attach all nodes to the swarm, rolling back")
		s.rollback(ctx)
		return nil, fmt.Errorf("forming swarm: %w", attachErrs[0])
	}

	s.state = StateFormed
	s.updateGauges()
	s.broker.Publish(&events.Event{
		Type:    events.EventSwarmFormed,
		Message: fmt.Sprintf("swarm formed with %d managers, %d workers", len(s.managers), len(s.workers)),
	})
	logger.Info().
		Str("swarm_id", firstNode.SwarmID()).
		Int("managers", len(s.managers)).
		Int("workers", len(s.workers)).
		Msg("swarm formed")
	return s, nil
}

// normalizeRoster validates the manager set and drops hosts that were
// submitted as both manager and worker (a host cannot be both; the manager
// entry wins and a warning is surfaced).
func normalizeRoster(managers, workers []Assignment) ([]Assignment, []Assignment, error) {
	logger := log.WithComponent("swarm")

	if len(managers) == 0 {
		return nil, nil, errdefs.Configuration("cannot form a swarm without managers")
	}

	managerIDs := make(map[string]struct{}, len(managers))
	for _, a := range managers {
		managerIDs[a.Host.ID] = struct{}{}
	}

	kept := workers[:0:0]
	for _, a := range workers {
		if _, dup := managerIDs[a.Host.ID]; dup {
			logger.Warn().
				Str("host", a.Host.ID).
				Msg("host listed as both manager and worker; dropping the worker entry")
			continue
		}
		kept = append(kept, a)
	}
	return managers, kept, nil
}

// rollback makes every node that already joined leave forcibly. Nodes that
// cannot be told to leave are logged; the original formation error always
// reaches the caller.
func (s *DockerSwarm) rollback(ctx context.Context) {
	logger := log.WithComponent("swarm")
	metrics.RollbacksTotal.Inc()
	s.broker.Publish(&events.Event{Type: events.EventRollbackStarted})

	var joined []SwarmNode
	for _, w := range s.workers {
		joined = append(joined, w)
	}
	for _, m := range s.managers {
		joined = append(joined, m)
	}

	for _, err := range s.leaveAll(ctx, joined) {
		logger.Error().Err(err).Msg("rollback: node could not leave the swarm")
	}

	s.managers = make(map[string]*ManagerNode)
	s.workers = make(map[string]*WorkerNode)
	s.firstManager = nil
	s.state = StateUnformed
	s.broker.Publish(&events.Event{Type: events.EventRollbackFinished})
}

// leaveAll issues forced leaves concurrently and collects the failures
func (s *DockerSwarm) leaveAll(ctx context.Context, nodes []SwarmNode) []error {
	errCh := make(chan error, len(nodes))
	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup

	for _, node := range nodes {
		wg.Add(1)
		go func(node SwarmNode) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			timer := metrics.NewTimer()
			if err := node.LeaveSwarm(ctx, true); err != nil {
				timer.ObserveRemoteOp("swarm.leave", "failed")
				errCh <- err
				return
			}
			timer.ObserveRemoteOp("swarm.leave", "ok")
			s.broker.Publish(&events.Event{
				Type:   events.EventSwarmNodeLeft,
				HostID: node.Host().ID,
			})
		}(node)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// TearDown dissolves the cluster: workers leave first in arbitrary
// concurrent order, then the remaining managers, and the last manager leaves
// synchronously after all other leave operations have completed so the
// cluster cannot lose quorum while leaves are still in flight. Calling
// TearDown again is a warning-logged no-op.
func (s *DockerSwarm) TearDown(ctx context.Context) error {
	logger := log.WithComponent("swarm")

	if s.state == StateTornDown {
		logger.Warn().Msg("swarm has already been torn down")
		return nil
	}

	logger.Warn().Msg("tearing down swarm")

	var errs []error

	var workers []SwarmNode
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	errs = append(errs, s.leaveAll(ctx, workers)...)

	var others []SwarmNode
	for _, m := range s.managers {
		if m != s.firstManager {
			others = append(others, m)
		}
	}
	errs = append(errs, s.leaveAll(ctx, others)...)

	// hard barrier: the last manager leaves only after every concurrent
	// leave has completed
	if s.firstManager != nil {
		if err := s.firstManager.LeaveSwarm(ctx, true); err != nil {
			errs = append(errs, err)
		} else {
			s.broker.Publish(&events.Event{
				Type:   events.EventSwarmNodeLeft,
				HostID: s.firstManager.Host().ID,
			})
		}
	}

	s.managers = make(map[string]*ManagerNode)
	s.workers = make(map[string]*WorkerNode)
	s.firstManager = nil
	s.state = StateTornDown
	s.updateGauges()
	s.broker.Publish(&events.Event{Type: events.EventSwarmTornDown})
	logger.Warn().Msg("swarm has been torn down")

	for _, err := range errs {
		logger.Error().Err(err).Msg("node could not leave the swarm during teardown")
	}
	if len(errs) > 0 {
		return fmt.Errorf("tearing down swarm: %w", errors.Join(errs...))
	}
	return nil
}

func (s *DockerSwarm) updateGauges() {
	metrics.SwarmNodesTotal.WithLabelValues("manager").Set(float64(len(s.managers)))
	metrics.SwarmNodesTotal.WithLabelValues("worker").Set(float64(len(s.workers)))
}

// State returns the current lifecycle state
func (s *DockerSwarm) State() State { return s.state }

func (s *DockerSwarm) checkLive() error {
	if s.state == StateTornDown {
		return errdefs.AlreadyTornDown("docker swarm")
	}
	return nil
}

// NumNodes returns the total number of cluster members
func (s *DockerSwarm) NumNodes() (int, error) {
	if err := s.checkLive(); err != nil {
		return 0, err
	}
	return len(s.managers) + len(s.workers), nil
}

// Managers returns the manager membership records
func (s *DockerSwarm) Managers() ([]*ManagerNode, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	nodes := make([]*ManagerNode, 0, len(s.managers))
	for _, m := range s.managers {
		nodes = append(nodes, m)
	}
	return nodes, nil
}

// Workers returns the worker membership records
func (s *DockerSwarm) Workers() ([]*WorkerNode, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	nodes := make([]*WorkerNode, 0, len(s.workers))
	for _, w := range s.workers {
		nodes = append(nodes, w)
	}
	return nodes, nil
}

// ManagerClient opens a daemon client bound to an arbitrary manager, for
// cluster-wide commands such as deploying a workload. The caller closes it.
func (s *DockerSwarm) ManagerClient() (DaemonClient, error) {
	if err := s.checkLive(); err != nil {
		return nil, err
	}
	for _, m := range s.managers {
		return m.Client()
	}
	return nil, errdefs.Configuration("swarm has no managers")
}

// PullImage pulls a container image on every cluster node concurrently
func (s *DockerSwarm) PullImage(ctx context.Context, ref string) error {
	if err := s.checkLive(); err != nil {
		return err
	}

	var nodes []SwarmNode
	for _, m := range s.managers {
		nodes = append(nodes, m)
	}
	for _, w := range s.workers {
		nodes = append(nodes, w)
	}

	errCh := make(chan error, len(nodes))
	sem := make(chan struct{}, s.maxParallel)
	var wg sync.WaitGroup

	for _, node := range nodes {
		wg.Add(1)
		go func(node SwarmNode) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := node.PullImage(ctx, ref); err != nil {
				errCh <- err
			}
		}(node)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("pulling image %s on all nodes: %w", ref, errors.Join(errs...))
	}
	return nil
}

func mergeLabels(defaults, labels map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(labels))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return merged
}
