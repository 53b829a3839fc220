package vpn

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
	meshUpPlaybook   = "vpncloud_up.yml"
	meshDownPlaybook = "vpncloud_down.yml"
)

// CloudMesh maintains a full mesh of encrypted tunnels between a fixed
// gateway and a growing set of cloud hosts, across two independent planes
// (management and workload traffic). It implements network.Layer3Network:
// connected hosts are addressable testbed members like any LAN host.
//
// Hosts within one Connect batch reach each other through their provider-
// internal (VPC) addresses; hosts from earlier batches are reached through
// their public addresses, since they were configured before the new hosts
// existed.
type CloudMesh struct {
	gateway Gateway
	runner  ansible.Runner
	broker  *events.Broker
	peers   map[string]*peerState
	order   []string
}

// MeshOption configures a CloudMesh
type MeshOption func(*CloudMesh)

// WithBroker publishes mesh lifecycle events through the given broker
func WithBroker(broker *events.Broker) MeshOption {
	return func(m *CloudMesh) { m.broker = broker }
}

// NewCloudMesh creates an empty mesh anchored at the given gateway
func NewCloudMesh(gateway Gateway, runner ansible.Runner, opts ...MeshOption) *CloudMesh {
	m := &CloudMesh{
		gateway: gateway,
		runner:  runner,
		peers:   make(map[string]*peerState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect attaches a batch of cloud hosts to the mesh. Hosts are paired
// one-to-one by position with their address configurations. The whole batch
// is validated before any peer relationship is registered or any host is
// touched; a failed push rolls back exactly the new batch.
func (m *CloudMesh) Connect(ctx context.Context, hosts []types.CloudHost, configs []HostConfig) error {
	logger := log.WithComponent("vpn-mesh")

	if len(hosts) != len(configs) {
		return errdefs.Configuration(
			"number of host configs (%d) does not match the number of cloud instances (%d)",
			len(configs), len(hosts))
	}
	if len(hosts) == 0 {
		return nil
	}

	// validate before mutate: every collision check runs before any peer
	// relationship is registered
	if err := m.validateBatch(hosts, configs); err != nil {
		return err
	}

	logger.Info().Int("hosts", len(hosts)).Msg("connecting cloud hosts to VPN mesh")

	// pair hosts with configs and compute the full peer-address set
	batch := make(map[string]*peerState, len(hosts))
	for i, host := range hosts {
		peer := newPeerState(host, configs[i], m.gateway)

		// batch-local peers connect through provider-internal addresses
		for j, other := range hosts {
			if i != j {
				peer.addPeer(other.VPCAddr)
			}
		}

		// earlier batches are reached through public endpoints
		for _, existing := range m.peers {
			peer.addPeer(existing.cloudHost.PublicAddr)
		}

		batch[host.InstanceID] = peer
	}

	// push the mesh configuration to all new hosts in a single run
	inv := make(ansible.Inventory, len(batch))
	for id, peer := range batch {
		inv[id] = peer.inventoryVars()
	}

	timer := metrics.NewTimer()
	res, err := m.runner.Run(ctx, inv, meshUpPlaybook)
	if err != nil || res.Status == ansible.StatusFailed {
		timer.ObserveRemoteOp("mesh.up", "failed")
		metrics.RollbacksTotal.Inc()
		logger.Warn().Msg("failed to bring up VPN mesh, attempting to clean up")

		// roll back exactly the hosts just added, not the whole mesh
		if _, derr := m.runner.Run(ctx, inv, meshDownPlaybook); derr != nil {
			logger.Error().Err(derr).Msg("mesh cleanup on new hosts also failed")
		}

		if err == nil {
			err = fmt.Errorf("playbook %s reported failure", meshUpPlaybook)
		}
		return errdefs.RemoteOperation("playbook:"+meshUpPlaybook, "", err)
	}
	timer.ObserveRemoteOp("mesh.up", "ok")

	// commit the batch: earlier peers learn the newcomers' public endpoints
	// only now, so a rolled-back batch leaves no stale entries behind
	for _, existing := range m.peers {
		for _, host := range hosts {
			existing.addPeer(host.PublicAddr)
		}
	}
	for _, host := range hosts {
		m.peers[host.InstanceID] = batch[host.InstanceID]
		m.order = append(m.order, host.InstanceID)
		m.broker.Publish(&events.Event{
			Type:   events.EventMeshPeerAdded,
			HostID: host.InstanceID,
		})
	}
	metrics.MeshPeersTotal.Set(float64(len(m.peers)))
	logger.Info().Int("total_peers", len(m.peers)).Msg("VPN mesh batch deployed")
	return nil
}

// validateBatch enforces the IP-collision invariant pairwise, both within
// the new batch and against every already-connected peer
func (m *CloudMesh) validateBatch(hosts []types.CloudHost, configs []HostConfig) error {
	for i, host := range hosts {
		if _, connected := m.peers[host.InstanceID]; connected {
			return errdefs.Configuration(
				"instance %s is already connected to the mesh", host.InstanceID)
		}
		for j := i + 1; j < len(hosts); j++ {
			if host.InstanceID == hosts[j].InstanceID {
				return errdefs.Configuration(
					"instance %s appears twice in the batch", host.InstanceID)
			}
			if err := checkIPAssignments(configs[i], configs[j]); err != nil {
				return err
			}
		}
		for _, existing := range m.peers {
			if err := checkIPAssignments(configs[i], existing.config); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkIPAssignments rejects two configurations sharing a management or a
// workload plane address
func checkIPAssignments(a, b HostConfig) error {
	if a.ManagementAddr.Addr() == b.ManagementAddr.Addr() ||
		a.WorkloadAddr.Addr() == b.WorkloadAddr.Addr() {
		return errdefs.Configuration(
			"clashing IP address configurations: %s/%s and %s/%s",
			a.ManagementAddr, a.WorkloadAddr, b.ManagementAddr, b.WorkloadAddr)
	}
	return nil
}

// Enter is part of network.Layer3Network. The mesh starts empty, anchored at
// the gateway; hosts join through Connect.
func (m *CloudMesh) Enter(ctx context.Context) error {
	return nil
}

// TearDown removes the mesh configuration from all connected hosts and
// clears all peer state. The mesh is unusable afterwards.
func (m *CloudMesh) TearDown(ctx context.Context) error {
	logger := log.WithComponent("vpn-mesh")
	if len(m.peers) == 0 {
		logger.Warn().Msg("tear down requested but mesh has no peers")
		return nil
	}

	logger.Warn().Msg("tearing down VPN connections")

	inv := make(ansible.Inventory, len(m.peers))
	for id, peer := range m.peers {
		inv[id] = peer.inventoryVars()
	}

	res, err := m.runner.Run(ctx, inv, meshDownPlaybook)

	m.peers = make(map[string]*peerState)
	m.order = nil
	metrics.MeshPeersTotal.Set(0)
	m.broker.Publish(&events.Event{Type: events.EventMeshTornDown})

	if err != nil {
		return errdefs.RemoteOperation("playbook:"+meshDownPlaybook, "", err)
	}
	if res.Status == ansible.StatusFailed {
		return errdefs.RemoteOperation("playbook:"+meshDownPlaybook, "",
			fmt.Errorf("playbook %s reported failure", meshDownPlaybook))
	}
	logger.Warn().Msg("VPN mesh layer torn down")
	return nil
}

// ForceDown runs the teardown playbook against the given cloud hosts without
// any prior mesh state. Meant for cleaning up after a crashed or killed run.
func ForceDown(ctx context.Context, runner ansible.Runner, gw Gateway, hosts []types.CloudHost, configs []HostConfig) error {
	logger := log.WithComponent("vpn-mesh")
	if len(hosts) != len(configs) {
		return errdefs.Configuration(
			"number of host configs (%d) does not match the number of cloud instances (%d)",
			len(configs), len(hosts))
	}
	if len(hosts) == 0 {
		return nil
	}
	logger.Warn().Int("hosts", len(hosts)).Msg("forcing VPN mesh teardown")

	inv := make(ansible.Inventory, len(hosts))
	for i, host := range hosts {
		inv[host.InstanceID] = newPeerState(host, configs[i], gw).inventoryVars()
	}
	res, err := runner.Run(ctx, inv, meshDownPlaybook)
	if err != nil {
		return errdefs.RemoteOperation("playbook:"+meshDownPlaybook, "", err)
	}
	if res.Status == ansible.StatusFailed {
		return errdefs.RemoteOperation("playbook:"+meshDownPlaybook, "",
			fmt.Errorf("playbook %s reported failure", meshDownPlaybook))
	}
	return nil
}

// SSHTeardownScripts maps the mesh teardown playbook to an equivalent raw
// command sequence, so cloud hosts can be cleaned up over bare SSH when
// ansible-runner is not available on the control host.
func SSHTeardownScripts() map[string][]string {
	return map[string][]string{
		meshDownPlaybook: {
			"sudo pkill vpncloud || true",
			"sudo ip link delete " + mgmtDevName + " || true",
			"sudo ip link delete " + wkldDevName + " || true",
		},
	}
}

// Lookup resolves a connected instance to its testbed host identity
func (m *CloudMesh) Lookup(id string) (types.HostIdentity, bool) {
	peer, ok := m.peers[id]
	if !ok {
		return types.HostIdentity{}, false
	}
	return peer.hostIdentity(), true
}

// HostIDs lists connected instances in connection order
func (m *CloudMesh) HostIDs() []string {
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// Len returns the number of connected instances
func (m *CloudMesh) Len() int {
	return len(m.peers)
}

// PeerAddrs returns a host's accumulated peer endpoints on the given plane
// ("management" or "workload"). Exposed for diagnostics.
func (m *CloudMesh) PeerAddrs(id, plane string) ([]string, bool) {
	peer, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	switch plane {
	case "management":
		return peer.peerList(peer.mgmtPeers), true
	case "workload":
		return peer.peerList(peer.wkldPeers), true
	}
	return nil, false
}
