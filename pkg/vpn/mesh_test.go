package vpn

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expeca/ainur/pkg/ansible"
	"github.com/expeca/ainur/pkg/errdefs"
	"github.com/expeca/ainur/pkg/types"
)

type runCall struct {
	playbook string
	hosts    []string
}

type fakeRunner struct {
	calls  []runCall
	failOn map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failOn: make(map[string]bool)}
}

func (r *fakeRunner) Run(ctx context.Context, inv ansible.Inventory, playbook string) (*ansible.Result, error) {
	ids := inv.HostIDs()
	sort.Strings(ids)
	r.calls = append(r.calls, runCall{playbook: playbook, hosts: ids})
	if r.failOn[playbook] {
		return &ansible.Result{Status: ansible.StatusFailed}, nil
	}
	return &ansible.Result{Status: ansible.StatusOK}, nil
}

func testGateway() Gateway {
	return Gateway{
		PublicAddr: netip.MustParseAddr("130.237.53.70"),
		Mgmt: MeshConfig{
			Addr:     netip.MustParsePrefix("10.4.0.1/16"),
			PSK:      "mgmt-secret",
			Port:     3210,
			LocalNet: netip.MustParsePrefix("10.0.0.0/24"),
		},
		Wkld: MeshConfig{
			Addr:     netip.MustParsePrefix("10.5.0.1/16"),
			PSK:      "wkld-secret",
			Port:     3211,
			LocalNet: netip.MustParsePrefix("10.1.0.0/24"),
		},
	}
}

func cloudHost(i int) types.CloudHost {
	return types.CloudHost{
		InstanceID: fmt.Sprintf("i-%04d", i),
		PublicAddr: netip.MustParseAddr(fmt.Sprintf("18.184.0.%d", i)),
		VPCAddr:    netip.MustParseAddr(fmt.Sprintf("172.31.0.%d", i)),
		KeyFile:    "/keys/expeca.pem",
	}
}

func hostConfig(i int) HostConfig {
	return HostConfig{
		ManagementAddr: netip.MustParsePrefix(fmt.Sprintf("10.4.1.%d/16", i)),
		WorkloadAddr:   netip.MustParsePrefix(fmt.Sprintf("10.5.1.%d/16", i)),
		AdminUser:      "ubuntu",
	}
}

func TestConnectSingleBatch(t *testing.T) {
	runner := newFakeRunner()
	mesh := NewCloudMesh(testGateway(), runner)

	hosts := []types.CloudHost{cloudHost(1), cloudHost(2)}
	configs := []HostConfig{hostConfig(1), hostConfig(2)}
	require.NoError(t, mesh.Connect(context.Background(), hosts, configs))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "vpncloud_up.yml", runner.calls[0].playbook)
	assert.Equal(t, []string{"i-0001", "i-0002"}, runner.calls[0].hosts)

	assert.Equal(t, 2, mesh.Len())
	assert.Equal(t, []string{"i-0001", "i-0002"}, mesh.HostIDs())

	h, ok := mesh.Lookup("i-0001")
	require.True(t, ok)
	assert.Equal(t, "10.4.1.1", h.ManagementIP().String())
	assert.Equal(t, "10.5.1.1", h.WorkloadIP().String())

	// batch-local peers connect through VPC addresses, plus the gateway
	peers, ok := mesh.PeerAddrs("i-0001", "management")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"130.237.53.70:3210", "172.31.0.2:3210"}, peers)

	peers, ok = mesh.PeerAddrs("i-0002", "workload")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"130.237.53.70:3211", "172.31.0.1:3211"}, peers)
}

// every connected host must end up with the gateway plus all n-1 other
// members in its peer set, regardless of how the hosts were partitioned
// into Connect batches
func TestConnectFullMeshAcrossBatches(t *testing.T) {
	runner := newFakeRunner()
	mesh := NewCloudMesh(testGateway(), runner)

	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1)}, []HostConfig{hostConfig(1)}))
	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(2), cloudHost(3)},
		[]HostConfig{hostConfig(2), hostConfig(3)}))
	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(4)}, []HostConfig{hostConfig(4)}))

	require.Equal(t, 4, mesh.Len())
	for _, id := range mesh.HostIDs() {
		for _, plane := range []string{"management", "workload"} {
			peers, ok := mesh.PeerAddrs(id, plane)
			require.True(t, ok)
			assert.Len(t, peers, 4, "%s %s peers: gateway plus the 3 others", id, plane)
		}
	}

	// hosts from earlier batches are reached through public endpoints
	peers, _ := mesh.PeerAddrs("i-0002", "management")
	assert.Contains(t, peers, "18.184.0.1:3210") // earlier batch: public
	assert.Contains(t, peers, "172.31.0.3:3210") // same batch: VPC
	assert.Contains(t, peers, "18.184.0.4:3210") // later batch: public

	// the earliest host learned the later arrivals' public endpoints
	peers, _ = mesh.PeerAddrs("i-0001", "workload")
	assert.ElementsMatch(t, []string{
		"130.237.53.70:3211", "18.184.0.2:3211", "18.184.0.3:3211", "18.184.0.4:3211",
	}, peers)
}

func TestConnectRejectsMismatchedConfigCount(t *testing.T) {
	mesh := NewCloudMesh(testGateway(), newFakeRunner())

	err := mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1), cloudHost(2)}, []HostConfig{hostConfig(1)})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestConnectRejectsIPCollisions(t *testing.T) {
	runner := newFakeRunner()
	mesh := NewCloudMesh(testGateway(), runner)

	// collision inside the batch
	clash := hostConfig(2)
	clash.ManagementAddr = hostConfig(1).ManagementAddr
	err := mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1), cloudHost(2)},
		[]HostConfig{hostConfig(1), clash})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))

	// nothing was pushed and nothing is connected
	assert.Empty(t, runner.calls)
	assert.Zero(t, mesh.Len())

	// collision against an already-connected peer
	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1)}, []HostConfig{hostConfig(1)}))
	err = mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(2)}, []HostConfig{hostConfig(1)})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
	assert.Equal(t, 1, mesh.Len())
}

func TestConnectRejectsDuplicateInstances(t *testing.T) {
	runner := newFakeRunner()
	mesh := NewCloudMesh(testGateway(), runner)

	err := mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1), cloudHost(1)},
		[]HostConfig{hostConfig(1), hostConfig(2)})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))

	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1)}, []HostConfig{hostConfig(1)}))
	err = mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1)}, []HostConfig{hostConfig(2)})
	require.Error(t, err)
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestConnectRollsBackFailedBatch(t *testing.T) {
	runner := newFakeRunner()
	mesh := NewCloudMesh(testGateway(), runner)

	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1)}, []HostConfig{hostConfig(1)}))

	runner.failOn["vpncloud_up.yml"] = true
	err := mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(2), cloudHost(3)},
		[]HostConfig{hostConfig(2), hostConfig(3)})
	require.Error(t, err)
	assert.True(t, errdefs.IsRemoteOperation(err))

	// cleanup touched exactly the failed batch
	require.Len(t, runner.calls, 3)
	assert.Equal(t, "vpncloud_down.yml", runner.calls[2].playbook)
	assert.Equal(t, []string{"i-0002", "i-0003"}, runner.calls[2].hosts)

	// the earlier peer is untouched: still connected, peer set unchanged
	assert.Equal(t, 1, mesh.Len())
	peers, ok := mesh.PeerAddrs("i-0001", "management")
	require.True(t, ok)
	assert.Equal(t, []string{"130.237.53.70:3210"}, peers)
}

func TestTearDown(t *testing.T) {
	runner := newFakeRunner()
	mesh := NewCloudMesh(testGateway(), runner)

	require.NoError(t, mesh.Connect(context.Background(),
		[]types.CloudHost{cloudHost(1), cloudHost(2)},
		[]HostConfig{hostConfig(1), hostConfig(2)}))

	require.NoError(t, mesh.TearDown(context.Background()))
	assert.Zero(t, mesh.Len())
	assert.Empty(t, mesh.HostIDs())
	_, ok := mesh.Lookup("i-0001")
	assert.False(t, ok)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "vpncloud_down.yml", runner.calls[1].playbook)
	assert.Equal(t, []string{"i-0001", "i-0002"}, runner.calls[1].hosts)

	// a second teardown runs no playbook
	require.NoError(t, mesh.TearDown(context.Background()))
	assert.Len(t, runner.calls, 2)
}

func TestSSHTeardownScriptsCoverTeardownPlaybook(t *testing.T) {
	scripts := SSHTeardownScripts()

	commands, ok := scripts[meshDownPlaybook]
	require.True(t, ok)
	require.NotEmpty(t, commands)

	// both plane devices get removed
	joined := strings.Join(commands, "\n")
	assert.Contains(t, joined, mgmtDevName)
	assert.Contains(t, joined, wkldDevName)
}

func TestInventoryVarsRenderBothPlanes(t *testing.T) {
	peer := newPeerState(cloudHost(1), hostConfig(1), testGateway())
	peer.addPeer(cloudHost(2).VPCAddr)

	vars := peer.inventoryVars()
	assert.Equal(t, "18.184.0.1", vars["ansible_host"])
	assert.Equal(t, "ubuntu", vars["ansible_user"])
	assert.Equal(t, "/keys/expeca.pem", vars["ansible_ssh_private_key_file"])

	cfgs, ok := vars["vpn_configs"].(map[string]any)
	require.True(t, ok)
	mgmt := cfgs["management"].(map[string]any)
	assert.Equal(t, "vpn_mgmt", mgmt["dev_name"])
	assert.Equal(t, 3210, mgmt["port"])
	assert.Equal(t, "10.4.1.1/16", mgmt["ip"])
	assert.Equal(t, "10.4.0.1", mgmt["gw_ip"])
	assert.ElementsMatch(t, []string{"130.237.53.70:3210", "172.31.0.2:3210"}, mgmt["peers"])

	wkld := cfgs["workload"].(map[string]any)
	assert.Equal(t, "vpn_wkld", wkld["dev_name"])
	assert.Equal(t, "wkld-secret", wkld["psk"])
}
