package types

import (
	"fmt"
	"net/netip"
	"strings"
)

// HostIdentity describes a machine under testbed control: how to reach it for
// administration and which addresses it exposes to workloads. Values are
// created by configuration loading and consumed read-only everywhere else.
type HostIdentity struct {
	ID             string
	ManagementAddr netip.Prefix   // address + prefix on the management network
	WorkloadAddrs  []netip.Prefix // addresses on workload networks, primary first
	AdminUser      string         // account used for remote administration
}

// ManagementIP returns the bare management address, without the prefix length
func (h HostIdentity) ManagementIP() netip.Addr {
	return h.ManagementAddr.Addr()
}

// WorkloadIP returns the primary workload address, or the zero Addr if the
// host has no workload addresses
func (h HostIdentity) WorkloadIP() netip.Addr {
	if len(h.WorkloadAddrs) == 0 {
		return netip.Addr{}
	}
	return h.WorkloadAddrs[0].Addr()
}

func (h HostIdentity) String() string {
	wkld := make([]string, len(h.WorkloadAddrs))
	for i, a := range h.WorkloadAddrs {
		wkld[i] = a.String()
	}
	return fmt.Sprintf("%s (management address %s; workload addresses [%s])",
		h.ID, h.ManagementAddr, strings.Join(wkld, ", "))
}

// CloudHost is an already-running cloud instance consumed by the VPN mesh.
// Instance lifecycle (spawn, terminate, security groups) is managed
// elsewhere; this layer only reads addresses and the SSH key path.
type CloudHost struct {
	InstanceID string
	PublicAddr netip.Addr // address reachable from outside the provider network
	VPCAddr    netip.Addr // address inside the provider network
	KeyFile    string     // path to the SSH private key for this instance
}

func (c CloudHost) String() string {
	return fmt.Sprintf("%s (public %s, vpc %s)", c.InstanceID, c.PublicAddr, c.VPCAddr)
}
