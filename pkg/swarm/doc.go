/*
Package swarm forms and dissolves Docker Swarm clusters over the hosts of an
already-deployed testbed network.

Formation is all-or-nothing: a brand-new swarm is initialized on the first
manager synchronously, every other node attaches concurrently with the join
tokens minted by that init, and any attach failure rolls every joined node
back out before the error reaches the caller. A DockerSwarm therefore never
exists in a partially-formed state.

Swarm management traffic is bound to each host's management-network address;
the data plane (DataPathAddr) runs over the workload network when the host
has one.

All daemon interaction goes through the DaemonClient interface so tests can
substitute an in-memory cluster for real Docker daemons.
*/
package swarm
