package swarm

import (
	"context"
	"fmt"
	"io"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	swarmapi "github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
)

// DefaultDaemonPort is the port the testbed daemons listen on for
// management-plane API traffic
const DefaultDaemonPort uint16 = 2375

// DaemonClient is the per-host RPC endpoint of the cluster daemon. Only
// membership and metadata operations are exposed; the data plane is never
// touched directly.
type DaemonClient interface {
	SwarmInit(ctx context.Context, req swarmapi.InitRequest) (string, error)
	SwarmInspect(ctx context.Context) (swarmapi.Swarm, error)
	SwarmJoin(ctx context.Context, req swarmapi.JoinRequest) error
	SwarmLeave(ctx context.Context, force bool) error
	Info(ctx context.Context) (dockertypes.Info, error)
	NodeInspect(ctx context.Context, nodeID string) (swarmapi.Node, error)
	NodeUpdate(ctx context.Context, nodeID string, version swarmapi.Version, spec swarmapi.NodeSpec) error
	NodeList(ctx context.Context, opts dockertypes.NodeListOptions) ([]swarmapi.Node, error)
	ImagePull(ctx context.Context, ref string, opts dockertypes.ImagePullOptions) (io.ReadCloser, error)
	Close() error
}

// Dialer opens a daemon client for a management address ("ip:port").
// Tests substitute an in-memory implementation.
type Dialer func(addr string) (DaemonClient, error)

// DockerDialer connects to a real Docker daemon over TCP
func DockerDialer(addr string) (DaemonClient, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+addr),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", addr, err)
	}
	return &dockerDaemon{cli: cli}, nil
}

// dockerDaemon adapts the Docker SDK client to the DaemonClient interface
type dockerDaemon struct {
	cli *client.Client
}

func (d *dockerDaemon) SwarmInit(ctx context.Context, req swarmapi.InitRequest) (string, error) {
	return d.cli.SwarmInit(ctx, req)
}

func (d *dockerDaemon) SwarmInspect(ctx context.Context) (swarmapi.Swarm, error) {
	return d.cli.SwarmInspect(ctx)
}

func (d *dockerDaemon) SwarmJoin(ctx context.Context, req swarmapi.JoinRequest) error {
	return d.cli.SwarmJoin(ctx, req)
}

func (d *dockerDaemon) SwarmLeave(ctx context.Context, force bool) error {
	return d.cli.SwarmLeave(ctx, force)
}

func (d *dockerDaemon) Info(ctx context.Context) (dockertypes.Info, error) {
	return d.cli.Info(ctx)
}

func (d *dockerDaemon) NodeInspect(ctx context.Context, nodeID string) (swarmapi.Node, error) {
	node, _, err := d.cli.NodeInspectWithRaw(ctx, nodeID)
	return node, err
}

func (d *dockerDaemon) NodeUpdate(ctx context.Context, nodeID string, version swarmapi.Version, spec swarmapi.NodeSpec) error {
	return d.cli.NodeUpdate(ctx, nodeID, version, spec)
}

func (d *dockerDaemon) NodeList(ctx context.Context, opts dockertypes.NodeListOptions) ([]swarmapi.Node, error) {
	return d.cli.NodeList(ctx, opts)
}

func (d *dockerDaemon) ImagePull(ctx context.Context, ref string, opts dockertypes.ImagePullOptions) (io.ReadCloser, error) {
	return d.cli.ImagePull(ctx, ref, opts)
}

func (d *dockerDaemon) Close() error {
	return d.cli.Close()
}

// managerFilter lists only manager nodes
func managerFilter() dockertypes.NodeListOptions {
	return dockertypes.NodeListOptions{
		Filters: filters.NewArgs(filters.Arg("role", "manager")),
	}
}
