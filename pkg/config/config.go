package config

import (
	"net/netip"

	"github.com/expeca/ainur/pkg/errdefs"
	"github.com/expeca/ainur/pkg/swarm"
	"github.com/expeca/ainur/pkg/types"
	"github.com/expeca/ainur/pkg/vpn"
)

// Config is the raw testbed configuration as loaded from file and
// environment. Addresses stay strings here; the typed accessors below parse
// and validate them into domain values.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Ansible AnsibleConfig `mapstructure:"ansible"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	Hosts    []HostConfig    `mapstructure:"hosts"`
	Networks []NetworkConfig `mapstructure:"networks"`
	Cloud    CloudConfig     `mapstructure:"cloud"`
	Swarm    SwarmConfig     `mapstructure:"swarm"`
}

// AnsibleConfig locates the playbook collaborator's working directories
type AnsibleConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	SSHKey  string `mapstructure:"ssh_key"`
	Verbose bool   `mapstructure:"verbose"`
}

// StorageConfig locates the directory holding the fact and run-record
// database
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// HostConfig declares one local testbed host
type HostConfig struct {
	ID             string   `mapstructure:"id"`
	ManagementAddr string   `mapstructure:"management_addr"`
	WorkloadAddrs  []string `mapstructure:"workload_addrs"`
	AdminUser      string   `mapstructure:"admin_user"`
}

// NetworkConfig declares one LAN layer over a subset of the local hosts
type NetworkConfig struct {
	Name  string   `mapstructure:"name"`
	Hosts []string `mapstructure:"hosts"`
}

// CloudConfig declares the VPN gateway and the cloud instances to mesh in
type CloudConfig struct {
	Gateway GatewayConfig     `mapstructure:"gateway"`
	Hosts   []CloudHostConfig `mapstructure:"hosts"`
}

// GatewayConfig declares the fixed mesh anchor
type GatewayConfig struct {
	PublicAddr string      `mapstructure:"public_addr"`
	Management PlaneConfig `mapstructure:"management"`
	Workload   PlaneConfig `mapstructure:"workload"`
}

// PlaneConfig declares one mesh plane at the gateway
type PlaneConfig struct {
	Addr     string `mapstructure:"addr"`
	PSK      string `mapstructure:"psk"`
	Port     uint16 `mapstructure:"port"`
	LocalNet string `mapstructure:"local_net"`
}

// CloudHostConfig declares one cloud instance together with its addresses
// inside the two mesh planes
type CloudHostConfig struct {
	InstanceID     string `mapstructure:"instance_id"`
	PublicAddr     string `mapstructure:"public_addr"`
	VPCAddr        string `mapstructure:"vpc_addr"`
	KeyFile        string `mapstructure:"key_file"`
	ManagementAddr string `mapstructure:"management_addr"`
	WorkloadAddr   string `mapstructure:"workload_addr"`
	AdminUser      string `mapstructure:"admin_user"`
}

// SwarmConfig declares the cluster roster by host ID
type SwarmConfig struct {
	DaemonPort    uint16            `mapstructure:"daemon_port"`
	MaxParallel   int               `mapstructure:"max_parallel"`
	DefaultLabels map[string]string `mapstructure:"default_labels"`
	Managers      []NodeConfig      `mapstructure:"managers"`
	Workers       []NodeConfig      `mapstructure:"workers"`
}

// NodeConfig assigns a host to a cluster role with optional labels
type NodeConfig struct {
	Host   string            `mapstructure:"host"`
	Labels map[string]string `mapstructure:"labels"`
}

// HostIdentities parses the declared local hosts into domain identities,
// keyed by host ID
func (c *Config) HostIdentities() (map[string]types.HostIdentity, error) {
	hosts := make(map[string]types.HostIdentity, len(c.Hosts))
	for _, h := range c.Hosts {
		if _, dup := hosts[h.ID]; dup {
			return nil, errdefs.Configuration("host %s is declared twice", h.ID)
		}
		mgmt, err := netip.ParsePrefix(h.ManagementAddr)
		if err != nil {
			return nil, errdefs.WrapConfiguration(err,
				"host %s: invalid management address %q", h.ID, h.ManagementAddr)
		}
		var wkld []netip.Prefix
		for _, addr := range h.WorkloadAddrs {
			p, err := netip.ParsePrefix(addr)
			if err != nil {
				return nil, errdefs.WrapConfiguration(err,
					"host %s: invalid workload address %q", h.ID, addr)
			}
			wkld = append(wkld, p)
		}
		hosts[h.ID] = types.HostIdentity{
			ID:             h.ID,
			ManagementAddr: mgmt,
			WorkloadAddrs:  wkld,
			AdminUser:      h.AdminUser,
		}
	}
	return hosts, nil
}

// NetworkHosts resolves a declared LAN's host references against the parsed
// identities, preserving declaration order
func (c *Config) NetworkHosts(netCfg NetworkConfig, hosts map[string]types.HostIdentity) ([]types.HostIdentity, error) {
	members := make([]types.HostIdentity, 0, len(netCfg.Hosts))
	for _, id := range netCfg.Hosts {
		h, ok := hosts[id]
		if !ok {
			return nil, errdefs.Configuration(
				"network %s references undeclared host %s", netCfg.Name, id)
		}
		members = append(members, h)
	}
	return members, nil
}

// Gateway parses the mesh anchor declaration
func (c *Config) Gateway() (vpn.Gateway, error) {
	g := c.Cloud.Gateway
	pub, err := netip.ParseAddr(g.PublicAddr)
	if err != nil {
		return vpn.Gateway{}, errdefs.WrapConfiguration(err,
			"gateway: invalid public address %q", g.PublicAddr)
	}
	mgmt, err := parsePlane("management", g.Management)
	if err != nil {
		return vpn.Gateway{}, err
	}
	wkld, err := parsePlane("workload", g.Workload)
	if err != nil {
		return vpn.Gateway{}, err
	}
	return vpn.Gateway{PublicAddr: pub, Mgmt: mgmt, Wkld: wkld}, nil
}

func parsePlane(name string, p PlaneConfig) (vpn.MeshConfig, error) {
	addr, err := netip.ParsePrefix(p.Addr)
	if err != nil {
		return vpn.MeshConfig{}, errdefs.WrapConfiguration(err,
			"gateway %s plane: invalid address %q", name, p.Addr)
	}
	localNet, err := netip.ParsePrefix(p.LocalNet)
	if err != nil {
		return vpn.MeshConfig{}, errdefs.WrapConfiguration(err,
			"gateway %s plane: invalid local network %q", name, p.LocalNet)
	}
	if p.PSK == "" {
		return vpn.MeshConfig{}, errdefs.Configuration(
			"gateway %s plane: pre-shared key is required", name)
	}
	if p.Port == 0 {
		return vpn.MeshConfig{}, errdefs.Configuration(
			"gateway %s plane: port is required", name)
	}
	return vpn.MeshConfig{Addr: addr, PSK: p.PSK, Port: p.Port, LocalNet: localNet}, nil
}

// CloudBatch parses the declared cloud instances into the positional
// host/config pair CloudMesh.Connect consumes
func (c *Config) CloudBatch() ([]types.CloudHost, []vpn.HostConfig, error) {
	hosts := make([]types.CloudHost, 0, len(c.Cloud.Hosts))
	configs := make([]vpn.HostConfig, 0, len(c.Cloud.Hosts))
	for _, h := range c.Cloud.Hosts {
		pub, err := netip.ParseAddr(h.PublicAddr)
		if err != nil {
			return nil, nil, errdefs.WrapConfiguration(err,
				"instance %s: invalid public address %q", h.InstanceID, h.PublicAddr)
		}
		vpc, err := netip.ParseAddr(h.VPCAddr)
		if err != nil {
			return nil, nil, errdefs.WrapConfiguration(err,
				"instance %s: invalid VPC address %q", h.InstanceID, h.VPCAddr)
		}
		mgmt, err := netip.ParsePrefix(h.ManagementAddr)
		if err != nil {
			return nil, nil, errdefs.WrapConfiguration(err,
				"instance %s: invalid management address %q", h.InstanceID, h.ManagementAddr)
		}
		wkld, err := netip.ParsePrefix(h.WorkloadAddr)
		if err != nil {
			return nil, nil, errdefs.WrapConfiguration(err,
				"instance %s: invalid workload address %q", h.InstanceID, h.WorkloadAddr)
		}
		hosts = append(hosts, types.CloudHost{
			InstanceID: h.InstanceID,
			PublicAddr: pub,
			VPCAddr:    vpc,
			KeyFile:    h.KeyFile,
		})
		configs = append(configs, vpn.HostConfig{
			ManagementAddr: mgmt,
			WorkloadAddr:   wkld,
			AdminUser:      h.AdminUser,
		})
	}
	return hosts, configs, nil
}

// SwarmAssignments resolves the cluster roster against the live network
// membership. Hosts are looked up by ID; a roster entry naming a host the
// network cannot resolve is a configuration error.
func (c *Config) SwarmAssignments(lookup func(id string) (types.HostIdentity, bool)) (managers, workers []swarm.Assignment, err error) {
	resolve := func(nodes []NodeConfig, role string) ([]swarm.Assignment, error) {
		out := make([]swarm.Assignment, 0, len(nodes))
		for _, n := range nodes {
			h, ok := lookup(n.Host)
			if !ok {
				return nil, errdefs.Configuration(
					"swarm %s %s is not part of any deployed network", role, n.Host)
			}
			out = append(out, swarm.Assignment{Host: h, Labels: n.Labels})
		}
		return out, nil
	}

	if managers, err = resolve(c.Swarm.Managers, "manager"); err != nil {
		return nil, nil, err
	}
	if workers, err = resolve(c.Swarm.Workers, "worker"); err != nil {
		return nil, nil, err
	}
	return managers, workers, nil
}
