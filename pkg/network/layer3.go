package network

import (
	"context"

	"github.com/expeca/ainur/pkg/types"
)

// Layer3Network is a scoped set of mutually IP-reachable hosts. Entering a
// network brings its hosts into reachability (usually by invoking the
// playbook collaborator); tearing it down removes that reachability
// unconditionally, even when Enter never fully succeeded. TearDown must be
// safe to call after a failed Enter.
type Layer3Network interface {
	// Lookup resolves a host ID to its identity
	Lookup(id string) (types.HostIdentity, bool)

	// HostIDs lists the IDs of all reachable hosts, in a stable order
	HostIDs() []string

	// Len returns the number of reachable hosts
	Len() int

	// Enter brings the network up
	Enter(ctx context.Context) error

	// TearDown removes reachability and clears all membership state
	TearDown(ctx context.Context) error
}

// Hosts collects the full host set of a network in HostIDs order
func Hosts(net Layer3Network) []types.HostIdentity {
	ids := net.HostIDs()
	hosts := make([]types.HostIdentity, 0, len(ids))
	for _, id := range ids {
		if h, ok := net.Lookup(id); ok {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
