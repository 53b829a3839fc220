package swarm

import (
	"context"
	"fmt"
	"io"
	"net/netip"

	dockertypes "github.com/docker/docker/api/types"
	swarmapi "github.com/docker/docker/api/types/swarm"

	"github.com/expeca/ainur/pkg/errdefs"
	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/types"
)

// NodeSpec is the desired control-plane entry for a node: its role, labels
// and availability. Applied through a manager after every join.
type NodeSpec struct {
	Role         string
	Labels       map[string]string
	Availability string
}

func newNodeSpec(role string, labels map[string]string) NodeSpec {
	if labels == nil {
		labels = map[string]string{}
	}
	return NodeSpec{Role: role, Labels: labels, Availability: "active"}
}

func (s NodeSpec) apiSpec() swarmapi.NodeSpec {
	return swarmapi.NodeSpec{
		Annotations:  swarmapi.Annotations{Labels: s.Labels},
		Role:         swarmapi.NodeRole(s.Role),
		Availability: swarmapi.NodeAvailability(s.Availability),
	}
}

// SwarmNode is a node's membership record in the cluster control plane. A
// node that never joined never exists as a SwarmNode.
type SwarmNode interface {
	NodeID() string
	SwarmID() string
	Host() types.HostIdentity
	IsManager() bool

	// LeaveSwarm makes the node leave the cluster it belongs to. The record
	// is logically dead afterwards.
	LeaveSwarm(ctx context.Context, force bool) error

	// PullImage pulls a container image on the node
	PullImage(ctx context.Context, ref string) error
}

// nodeInfo carries the fields common to both node variants
type nodeInfo struct {
	nodeID     string
	swarmID    string
	host       types.HostIdentity
	daemonPort uint16
	dialer     Dialer
}

func (n nodeInfo) NodeID() string           { return n.nodeID }
func (n nodeInfo) SwarmID() string          { return n.swarmID }
func (n nodeInfo) Host() types.HostIdentity { return n.host }

// daemonAddr renders the node's own daemon endpoint on the management network
func (n nodeInfo) daemonAddr() string {
	return fmt.Sprintf("%s:%d", n.host.ManagementIP(), n.daemonPort)
}

func (n nodeInfo) dial() (DaemonClient, error) {
	return n.dialer(n.daemonAddr())
}

// PullImage pulls ref through the node's own daemon and drains the progress
// stream
func (n nodeInfo) PullImage(ctx context.Context, ref string) error {
	cli, err := n.dial()
	if err != nil {
		return errdefs.RemoteOperation("image.pull", n.host.ID, err)
	}
	defer cli.Close()

	rc, err := cli.ImagePull(ctx, ref, dockertypes.ImagePullOptions{})
	if err != nil {
		return errdefs.RemoteOperation("image.pull", n.host.ID, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errdefs.RemoteOperation("image.pull", n.host.ID, err)
	}
	return nil
}

// WorkerNode is a worker's membership record. It keeps the manager's host
// identity only to know where leave-related lookups should go; it holds no
// join tokens.
type WorkerNode struct {
	nodeInfo
	managerHost types.HostIdentity
}

// IsManager is part of SwarmNode
func (w *WorkerNode) IsManager() bool { return false }

// ManagerHost returns the manager this worker was attached through
func (w *WorkerNode) ManagerHost() types.HostIdentity { return w.managerHost }

// LeaveSwarm makes the worker leave the cluster through its own daemon
func (w *WorkerNode) LeaveSwarm(ctx context.Context, force bool) error {
	logger := log.WithHost(w.host.ID)
	logger.Info().Msg("worker is leaving the swarm")

	cli, err := w.dial()
	if err != nil {
		return errdefs.RemoteOperation("swarm.leave", w.host.ID, err)
	}
	defer cli.Close()

	if err := cli.SwarmLeave(ctx, force); err != nil {
		return errdefs.RemoteOperation("swarm.leave", w.host.ID, err)
	}
	logger.Info().Msg("worker has left the swarm")
	return nil
}

// ManagerNode is a manager's membership record. Managers hold the cluster
// join tokens: only a manager can mint new nodes.
type ManagerNode struct {
	nodeInfo
	managerToken string
	workerToken  string
}

// IsManager is part of SwarmNode
func (m *ManagerNode) IsManager() bool { return true }

// undoJoin forces a host back out of the swarm after a post-join step
// failed. The membership record was never handed to the caller, so nobody
// else can roll this node back; a failed leave is logged, the original
// failure propagates.
func undoJoin(ctx context.Context, cli DaemonClient, hostID string) {
	if err := cli.SwarmLeave(ctx, true); err != nil {
		logger := log.WithHost(hostID)
		logger.Error().Err(err).Msg("could not undo partial swarm join")
	}
}

// InitSwarm initializes a brand-new cluster on host and returns the first
// manager attached to it. Swarm management traffic listens on the management
// network; the data plane runs over the workload network.
func InitSwarm(ctx context.Context, dialer Dialer, host types.HostIdentity, labels map[string]string, daemonPort uint16) (*ManagerNode, error) {
	logger := log.WithHost(host.ID)

	info := nodeInfo{host: host, daemonPort: daemonPort, dialer: dialer}
	cli, err := info.dial()
	if err != nil {
		return nil, errdefs.RemoteOperation("swarm.init", host.ID, err)
	}
	defer cli.Close()

	logger.Info().Msg("initializing a swarm")
	req := swarmapi.InitRequest{
		ListenAddr:    host.ManagementIP().String(),
		AdvertiseAddr: host.ManagementIP().String(),
	}
	if dataAddr := host.WorkloadIP(); dataAddr != (netip.Addr{}) {
		req.DataPathAddr = dataAddr.String()
	}
	if _, err := cli.SwarmInit(ctx, req); err != nil {
		return nil, errdefs.RemoteOperation("swarm.init", host.ID, err)
	}

	daemonInfo, err := cli.Info(ctx)
	if err != nil {
		undoJoin(ctx, cli, host.ID)
		return nil, errdefs.RemoteOperation("swarm.info", host.ID, err)
	}
	info.nodeID = daemonInfo.Swarm.NodeID
	if daemonInfo.Swarm.Cluster != nil {
		info.swarmID = daemonInfo.Swarm.Cluster.ID
	}
	logger.Info().
		Str("swarm_id", info.swarmID).
		Str("node_id", info.nodeID).
		Msg("swarm initialized")

	inspect, err := cli.SwarmInspect(ctx)
	if err != nil {
		undoJoin(ctx, cli, host.ID)
		return nil, errdefs.RemoteOperation("swarm.inspect", host.ID, err)
	}
	logger.Debug().
		Str("worker_token", log.Redact(inspect.JoinTokens.Worker)).
		Str("manager_token", log.Redact(inspect.JoinTokens.Manager)).
		Msg("extracted join tokens")

	if err := applyNodeSpec(ctx, cli, info.nodeID, newNodeSpec("manager", labels)); err != nil {
		undoJoin(ctx, cli, host.ID)
		return nil, errdefs.RemoteOperation("node.update", host.ID, err)
	}
	logger.Info().Msg("node spec set")

	return &ManagerNode{
		nodeInfo:     info,
		managerToken: inspect.JoinTokens.Manager,
		workerToken:  inspect.JoinTokens.Worker,
	}, nil
}

// attachHost joins a new host to the swarm with the given token and applies
// the node spec through this manager
func (m *ManagerNode) attachHost(ctx context.Context, host types.HostIdentity, token string, spec NodeSpec) (string, error) {
	logger := log.WithHost(host.ID)
	logger.Info().Str("manager", m.host.ID).Msg("attaching host to swarm")

	info := nodeInfo{host: host, daemonPort: m.daemonPort, dialer: m.dialer}
	cli, err := info.dial()
	if err != nil {
		return "", errdefs.RemoteOperation("swarm.join", host.ID, err)
	}
	defer cli.Close()

	req := swarmapi.JoinRequest{
		RemoteAddrs:   []string{m.host.ManagementIP().String()},
		JoinToken:     token,
		ListenAddr:    host.ManagementIP().String(),
		AdvertiseAddr: host.ManagementIP().String(),
	}
	if dataAddr := host.WorkloadIP(); dataAddr != (netip.Addr{}) {
		req.DataPathAddr = dataAddr.String()
	}
	if err := cli.SwarmJoin(ctx, req); err != nil {
		return "", errdefs.RemoteOperation("swarm.join", host.ID, err)
	}

	daemonInfo, err := cli.Info(ctx)
	if err != nil {
		undoJoin(ctx, cli, host.ID)
		return "", errdefs.RemoteOperation("swarm.info", host.ID, err)
	}
	nodeID := daemonInfo.Swarm.NodeID
	logger.Info().Str("node_id", nodeID).Msg("host joined the swarm")

	// the node spec is set from the manager side
	mgrCli, err := m.dial()
	if err != nil {
		undoJoin(ctx, cli, host.ID)
		return "", errdefs.RemoteOperation("node.update", host.ID, err)
	}
	defer mgrCli.Close()

	if err := applyNodeSpec(ctx, mgrCli, nodeID, spec); err != nil {
		undoJoin(ctx, cli, host.ID)
		return "", errdefs.RemoteOperation("node.update", host.ID, err)
	}
	logger.Info().Msg("node spec set")
	return nodeID, nil
}

// AttachManager joins host to the swarm as a manager
func (m *ManagerNode) AttachManager(ctx context.Context, host types.HostIdentity, labels map[string]string) (*ManagerNode, error) {
	nodeID, err := m.attachHost(ctx, host, m.managerToken, newNodeSpec("manager", labels))
	if err != nil {
		return nil, err
	}
	return &ManagerNode{
		nodeInfo: nodeInfo{
			nodeID:     nodeID,
			swarmID:    m.swarmID,
			host:       host,
			daemonPort: m.daemonPort,
			dialer:     m.dialer,
		},
		managerToken: m.managerToken,
		workerToken:  m.workerToken,
	}, nil
}

// AttachWorker joins host to the swarm as a worker
func (m *ManagerNode) AttachWorker(ctx context.Context, host types.HostIdentity, labels map[string]string) (*WorkerNode, error) {
	nodeID, err := m.attachHost(ctx, host, m.workerToken, newNodeSpec("worker", labels))
	if err != nil {
		return nil, err
	}
	return &WorkerNode{
		nodeInfo: nodeInfo{
			nodeID:     nodeID,
			swarmID:    m.swarmID,
			host:       host,
			daemonPort: m.daemonPort,
			dialer:     m.dialer,
		},
		managerHost: m.host,
	}, nil
}

// LeaveSwarm makes the manager leave the cluster. Leaving as the last
// manager invalidates the swarm; this is only warned about, matching the
// behavior callers of ad-hoc removal rely on.
func (m *ManagerNode) LeaveSwarm(ctx context.Context, force bool) error {
	logger := log.WithHost(m.host.ID)
	logger.Info().Msg("manager is leaving the swarm")

	cli, err := m.dial()
	if err != nil {
		return errdefs.RemoteOperation("swarm.leave", m.host.ID, err)
	}
	defer cli.Close()

	lastManager := false
	if nodes, err := cli.NodeList(ctx, managerFilter()); err == nil {
		lastManager = len(nodes) == 1
	}

	if err := cli.SwarmLeave(ctx, force); err != nil {
		return errdefs.RemoteOperation("swarm.leave", m.host.ID, err)
	}

	logger.Info().Msg("manager has left the swarm")
	if lastManager {
		logger.Warn().
			Str("swarm_id", m.swarmID).
			Msg("last manager has left; swarm is now invalid")
	}
	return nil
}

// Client opens a daemon client bound to this manager, for issuing
// cluster-wide commands. The caller closes it.
func (m *ManagerNode) Client() (DaemonClient, error) {
	return m.dial()
}

func applyNodeSpec(ctx context.Context, cli DaemonClient, nodeID string, spec NodeSpec) error {
	node, err := cli.NodeInspect(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("inspecting node %s: %w", nodeID, err)
	}
	if err := cli.NodeUpdate(ctx, nodeID, node.Version, spec.apiSpec()); err != nil {
		return fmt.Errorf("updating node %s: %w", nodeID, err)
	}
	return nil
}
