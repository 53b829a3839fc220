/*
Package vpn implements the full-mesh VPN overlay between a fixed local
gateway and a growing set of cloud hosts.

The mesh spans two independent planes with separate address spaces, ports
and pre-shared keys: a management plane for administrative traffic and a
workload plane for experiment data. Every connected host keeps an
accumulated peer-endpoint set per plane which always contains the gateway
and only grows while the host stays connected.

Peer derivation on Connect follows the reachability reality of cloud
deployments: hosts configured together in one batch can address each other
through provider-internal (VPC) addresses, while hosts from earlier batches,
configured before the new ones existed, are reached through public
endpoints.

The invariant enforced on every Connect is that no two connected hosts share
a management or workload plane address; violations fail the whole batch
before any remote host is touched.
*/
package vpn
