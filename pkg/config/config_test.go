package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expeca/ainur/pkg/errdefs"
	"github.com/expeca/ainur/pkg/types"
)

const testbedYAML = `
log_level: debug
log_format: console

ansible:
  base_dir: /opt/ainur/ansible
  ssh_key: /keys/expeca_ed25519

hosts:
  - id: elrond
    management_addr: 10.0.0.1/24
    workload_addrs: [10.1.0.1/24]
    admin_user: expeca
  - id: workhorse-01
    management_addr: 10.0.0.2/24
    workload_addrs: [10.1.0.2/24]
    admin_user: expeca

networks:
  - name: edge
    hosts: [elrond, workhorse-01]

cloud:
  gateway:
    public_addr: 130.237.53.70
    management:
      addr: 10.4.0.1/16
      psk: mgmt-secret
      port: 3210
      local_net: 10.0.0.0/24
    workload:
      addr: 10.5.0.1/16
      psk: wkld-secret
      port: 3211
      local_net: 10.1.0.0/24
  hosts:
    - instance_id: i-0001
      public_addr: 18.184.0.1
      vpc_addr: 172.31.0.1
      key_file: /keys/expeca.pem
      management_addr: 10.4.1.1/16
      workload_addr: 10.5.1.1/16
      admin_user: ubuntu

swarm:
  default_labels:
    testbed: expeca
  managers:
    - host: elrond
      labels:
        role: backend
  workers:
    - host: workhorse-01
    - host: i-0001
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ainur.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeConfig(t, testbedYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/opt/ainur/ansible", cfg.Ansible.BaseDir)
	assert.Equal(t, uint16(2375), cfg.Swarm.DaemonPort)
	assert.Equal(t, 8, cfg.Swarm.MaxParallel)
	assert.Equal(t, ".", cfg.Storage.DataDir)

	hosts, err := cfg.HostIdentities()
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "10.0.0.1", hosts["elrond"].ManagementIP().String())
	assert.Equal(t, "10.1.0.2", hosts["workhorse-01"].WorkloadIP().String())

	require.Len(t, cfg.Networks, 1)
	members, err := cfg.NetworkHosts(cfg.Networks[0], hosts)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "elrond", members[0].ID)

	gw, err := cfg.Gateway()
	require.NoError(t, err)
	assert.Equal(t, "130.237.53.70:3210", gw.MgmtPeerAddr())
	assert.Equal(t, "wkld-secret", gw.Wkld.PSK)

	cloudHosts, cloudConfigs, err := cfg.CloudBatch()
	require.NoError(t, err)
	require.Len(t, cloudHosts, 1)
	require.Len(t, cloudConfigs, 1)
	assert.Equal(t, "i-0001", cloudHosts[0].InstanceID)
	assert.Equal(t, "10.4.1.1/16", cloudConfigs[0].ManagementAddr.String())
}

func TestSwarmAssignments(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeConfig(t, testbedYAML))
	require.NoError(t, err)

	members := map[string]types.HostIdentity{
		"elrond":       {ID: "elrond"},
		"workhorse-01": {ID: "workhorse-01"},
		"i-0001":       {ID: "i-0001"},
	}
	lookup := func(id string) (types.HostIdentity, bool) {
		h, ok := members[id]
		return h, ok
	}

	managers, workers, err := cfg.SwarmAssignments(lookup)
	require.NoError(t, err)
	require.Len(t, managers, 1)
	assert.Equal(t, "elrond", managers[0].Host.ID)
	assert.Equal(t, "backend", managers[0].Labels["role"])
	assert.Len(t, workers, 2)

	// a roster entry outside the deployed networks is fatal
	delete(members, "i-0001")
	_, _, err = cfg.SwarmAssignments(lookup)
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestLoadFileRejectsUnknownNetworkHost(t *testing.T) {
	content := `
hosts:
  - id: elrond
    management_addr: 10.0.0.1/24
networks:
  - name: edge
    hosts: [elrond, sauron]
`
	_, err := NewLoader().LoadFile(writeConfig(t, content))
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestLoadFileRejectsBadLogLevel(t *testing.T) {
	_, err := NewLoader().LoadFile(writeConfig(t, "log_level: loud\n"))
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestHostIdentitiesRejectsBadAddress(t *testing.T) {
	content := `
hosts:
  - id: elrond
    management_addr: not-an-address
`
	cfg, err := NewLoader().LoadFile(writeConfig(t, content))
	require.NoError(t, err)

	_, err = cfg.HostIdentities()
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AINUR_LOG_LEVEL", "error")

	cfg, err := NewLoader().LoadFile(writeConfig(t, testbedYAML))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}
