package vpn

import (
	"net/netip"
	"sort"

	"github.com/expeca/ainur/pkg/ansible"
	"github.com/expeca/ainur/pkg/types"
)

const (
	mgmtDevName = "vpn_mgmt"
	wkldDevName = "vpn_wkld"
)

// peerState is the mutable per-host record of a connected mesh member. Peer
// sets only grow while the host is connected, and always contain the
// gateway's endpoint on the corresponding plane.
type peerState struct {
	cloudHost types.CloudHost
	config    HostConfig
	gateway   Gateway
	mgmtPeers map[string]struct{}
	wkldPeers map[string]struct{}
}

func newPeerState(host types.CloudHost, cfg HostConfig, gw Gateway) *peerState {
	p := &peerState{
		cloudHost: host,
		config:    cfg,
		gateway:   gw,
		mgmtPeers: make(map[string]struct{}),
		wkldPeers: make(map[string]struct{}),
	}
	p.mgmtPeers[gw.MgmtPeerAddr()] = struct{}{}
	p.wkldPeers[gw.WkldPeerAddr()] = struct{}{}
	return p
}

// addPeer registers another member's address on both planes
func (p *peerState) addPeer(peer netip.Addr) {
	mgmt, wkld := p.gateway.PeerEndpoints(peer)
	p.mgmtPeers[mgmt] = struct{}{}
	p.wkldPeers[wkld] = struct{}{}
}

func (p *peerState) peerList(peers map[string]struct{}) []string {
	list := make([]string, 0, len(peers))
	for addr := range peers {
		list = append(list, addr)
	}
	sort.Strings(list)
	return list
}

// hostIdentity exposes the connected peer as a regular testbed host
func (p *peerState) hostIdentity() types.HostIdentity {
	return types.HostIdentity{
		ID:             p.cloudHost.InstanceID,
		ManagementAddr: p.config.ManagementAddr,
		WorkloadAddrs:  []netip.Prefix{p.config.WorkloadAddr},
		AdminUser:      p.config.AdminUser,
	}
}

// inventoryVars renders the connection parameters and the two per-plane
// tunnel configurations the bring-up playbook consumes
func (p *peerState) inventoryVars() ansible.HostVars {
	return ansible.HostVars{
		"ansible_host":                 p.cloudHost.PublicAddr.String(),
		"ansible_user":                 p.config.AdminUser,
		"ansible_ssh_private_key_file": p.cloudHost.KeyFile,
		"vpn_configs": map[string]any{
			"management": map[string]any{
				"dev_name": mgmtDevName,
				"port":     int(p.gateway.Mgmt.Port),
				"peers":    p.peerList(p.mgmtPeers),
				"psk":      p.gateway.Mgmt.PSK,
				"ip":       p.config.ManagementAddr.String(),
				"gw_ip":    p.gateway.Mgmt.Addr.Addr().String(),
				"gw_net":   p.gateway.Mgmt.LocalNet.String(),
			},
			"workload": map[string]any{
				"dev_name": wkldDevName,
				"port":     int(p.gateway.Wkld.Port),
				"peers":    p.peerList(p.wkldPeers),
				"psk":      p.gateway.Wkld.PSK,
				"ip":       p.config.WorkloadAddr.String(),
				"gw_ip":    p.gateway.Wkld.Addr.Addr().String(),
				"gw_net":   p.gateway.Wkld.LocalNet.String(),
			},
		},
	}
}
