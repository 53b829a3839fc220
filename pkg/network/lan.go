package network

import (
	"context"
	"fmt"

	"github.com/expeca/ainur/pkg/ansible"
	"github.com/expeca/ainur/pkg/errdefs"
	"github.com/expeca/ainur/pkg/events"
	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/metrics"
	"github.com/expeca/ainur/pkg/types"
)

const (
	netUpPlaybook   = "net_up.yml"
	netDownPlaybook = "net_down.yml"
)

// LANLayer wraps a set of locally co-located hosts and delegates the actual
// interface and route configuration to the playbook collaborator.
type LANLayer struct {
	name      string
	runner    ansible.Runner
	broker    *events.Broker
	pending   []types.HostIdentity
	connected map[string]types.HostIdentity
	order     []string
}

// LANOption configures a LANLayer
type LANOption func(*LANLayer)

// WithBroker publishes network lifecycle events through the given broker
func WithBroker(broker *events.Broker) LANOption {
	return func(l *LANLayer) { l.broker = broker }
}

// NewLANLayer creates a LAN layer over the given hosts. The hosts become
// reachable when Enter succeeds.
func NewLANLayer(name string, runner ansible.Runner, hosts []types.HostIdentity, opts ...LANOption) *LANLayer {
	l := &LANLayer{
		name:      name,
		runner:    runner,
		pending:   hosts,
		connected: make(map[string]types.HostIdentity),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enter configures layer-3 connectivity on all pending hosts
func (l *LANLayer) Enter(ctx context.Context) error {
	hosts := l.pending
	l.pending = nil
	return l.AddHosts(ctx, hosts...)
}

// AddHosts brings an additional batch of hosts into the LAN. On failure the
// batch is torn down before the error is returned; previously connected
// hosts are untouched.
func (l *LANLayer) AddHosts(ctx context.Context, hosts ...types.HostIdentity) error {
	if len(hosts) == 0 {
		return nil
	}

	logger := log.WithNetwork(l.name)
	logger.Info().Int("hosts", len(hosts)).Msg("configuring layer 3 connections")

	inv := ansible.InventoryFromHosts(hosts...)
	timer := metrics.NewTimer()

	res, err := l.runner.Run(ctx, inv, netUpPlaybook)
	if err != nil || res.Status == ansible.StatusFailed {
		timer.ObserveRemoteOp("net.up", "failed")
		metrics.RollbacksTotal.Inc()
		logger.Warn().Msg("could not connect hosts on layer 3, aborting")

		// best-effort cleanup of the failed batch
		if _, derr := l.runner.Run(ctx, inv, netDownPlaybook); derr != nil {
			logger.Error().Err(derr).Msg("cleanup of failed batch also failed")
		}

		if err == nil {
			err = fmt.Errorf("playbook %s reported failure", netUpPlaybook)
		}
		return errdefs.RemoteOperation("playbook:"+netUpPlaybook, "", err)
	}
	timer.ObserveRemoteOp("net.up", "ok")

	for _, h := range hosts {
		if _, dup := l.connected[h.ID]; !dup {
			l.order = append(l.order, h.ID)
		}
		l.connected[h.ID] = h
	}
	metrics.NetworkHostsTotal.WithLabelValues(l.name).Set(float64(len(l.connected)))
	l.broker.Publish(&events.Event{
		Type:    events.EventNetworkUp,
		Message: fmt.Sprintf("LAN %s up with %d hosts", l.name, len(l.connected)),
	})
	return nil
}

// TearDown removes layer-3 configuration from all connected hosts and clears
// membership. Calling it again once empty is a no-op.
func (l *LANLayer) TearDown(ctx context.Context) error {
	logger := log.WithNetwork(l.name)
	if len(l.connected) == 0 {
		logger.Warn().Msg("tear down requested but no hosts are connected")
		return nil
	}

	logger.Warn().Msg("tearing down layer 3 connectivity")

	hosts := make([]types.HostIdentity, 0, len(l.connected))
	for _, id := range l.order {
		hosts = append(hosts, l.connected[id])
	}
	inv := ansible.InventoryFromHosts(hosts...)

	res, err := l.runner.Run(ctx, inv, netDownPlaybook)

	// membership is cleared regardless: reachability must not be assumed
	// after a teardown attempt
	l.connected = make(map[string]types.HostIdentity)
	l.order = nil
	metrics.NetworkHostsTotal.WithLabelValues(l.name).Set(0)
	l.broker.Publish(&events.Event{
		Type:    events.EventNetworkDown,
		Message: fmt.Sprintf("LAN %s torn down", l.name),
	})

	if err != nil {
		return errdefs.RemoteOperation("playbook:"+netDownPlaybook, "", err)
	}
	if res.Status == ansible.StatusFailed {
		return errdefs.RemoteOperation("playbook:"+netDownPlaybook, "",
			fmt.Errorf("playbook %s reported failure", netDownPlaybook))
	}
	logger.Warn().Msg("layer 3 has been torn down")
	return nil
}

// ForceDown runs the teardown playbook against the given hosts without any
// prior membership state. Meant for cleaning up after a crashed or killed
// run, where the hosts may or may not still carry layer-3 configuration.
func ForceDown(ctx context.Context, runner ansible.Runner, name string, hosts []types.HostIdentity) error {
	if len(hosts) == 0 {
		return nil
	}
	logger := log.WithNetwork(name)
	logger.Warn().Int("hosts", len(hosts)).Msg("forcing layer 3 teardown")

	res, err := runner.Run(ctx, ansible.InventoryFromHosts(hosts...), netDownPlaybook)
	if err != nil {
		return errdefs.RemoteOperation("playbook:"+netDownPlaybook, "", err)
	}
	if res.Status == ansible.StatusFailed {
		return errdefs.RemoteOperation("playbook:"+netDownPlaybook, "",
			fmt.Errorf("playbook %s reported failure", netDownPlaybook))
	}
	return nil
}

// Lookup resolves a connected host by ID
func (l *LANLayer) Lookup(id string) (types.HostIdentity, bool) {
	h, ok := l.connected[id]
	return h, ok
}

// HostIDs lists connected hosts in connection order
func (l *LANLayer) HostIDs() []string {
	ids := make([]string, len(l.order))
	copy(ids, l.order)
	return ids
}

// Len returns the number of connected hosts
func (l *LANLayer) Len() int {
	return len(l.connected)
}
