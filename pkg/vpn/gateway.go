package vpn

import (
	"fmt"
	"net/netip"
)

// MeshConfig describes one plane of the mesh at the gateway: the gateway's
// own address inside the plane, the pre-shared key peers authenticate with,
// the UDP port the plane runs on, and the local network reachable through
// the gateway.
type MeshConfig struct {
	Addr     netip.Prefix // gateway address inside the mesh plane
	PSK      string
	Port     uint16
	LocalNet netip.Prefix // network routed through the gateway
}

// Gateway is the fixed anchor point of the mesh: a public address plus two
// independent plane configurations, one for management traffic and one for
// workload traffic.
type Gateway struct {
	PublicAddr netip.Addr
	Mgmt       MeshConfig
	Wkld       MeshConfig
}

// MgmtPeerAddr renders the gateway's management-plane endpoint
func (g Gateway) MgmtPeerAddr() string {
	return fmt.Sprintf("%s:%d", g.PublicAddr, g.Mgmt.Port)
}

// WkldPeerAddr renders the gateway's workload-plane endpoint
func (g Gateway) WkldPeerAddr() string {
	return fmt.Sprintf("%s:%d", g.PublicAddr, g.Wkld.Port)
}

// PeerEndpoints renders the management and workload endpoints of an
// arbitrary peer address, using the gateway's plane ports
func (g Gateway) PeerEndpoints(peer netip.Addr) (mgmt, wkld string) {
	return fmt.Sprintf("%s:%d", peer, g.Mgmt.Port),
		fmt.Sprintf("%s:%d", peer, g.Wkld.Port)
}

// HostConfig assigns a connecting host its addresses inside the two mesh
// planes. Paired one-to-one with cloud hosts on Connect.
type HostConfig struct {
	ManagementAddr netip.Prefix // address in the management plane
	WorkloadAddr   netip.Prefix // address in the workload plane
	AdminUser      string
}
