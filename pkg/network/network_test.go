package network

import (
	"context"
	"errors"
	"net/netip"
	"sort"
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

// fakeRunner records playbook runs and can be told to fail or error on a
// given playbook name
type fakeRunner struct {
	calls  []runCall
	failOn map[string]bool
	errOn  map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		failOn: make(map[string]bool),
		errOn:  make(map[string]error),
	}
}

func (r *fakeRunner) Run(ctx context.Context, inv ansible.Inventory, playbook string) (*ansible.Result, error) {
	ids := inv.HostIDs()
	sort.Strings(ids)
	r.calls = append(r.calls, runCall{playbook: playbook, hosts: ids})

	if err := r.errOn[playbook]; err != nil {
		return nil, err
	}
	if r.failOn[playbook] {
		return &ansible.Result{Status: ansible.StatusFailed}, nil
	}
	return &ansible.Result{Status: ansible.StatusOK}, nil
}

func lanHost(id, mgmtIP string) types.HostIdentity {
	return types.HostIdentity{
		ID:             id,
		ManagementAddr: netip.MustParsePrefix(mgmtIP + "/24"),
		AdminUser:      "expeca",
	}
}

func TestLANEnter(t *testing.T) {
	runner := newFakeRunner()
	lan := NewLANLayer("edge", runner,
		[]types.HostIdentity{lanHost("elrond", "10.0.0.1"), lanHost("workhorse-01", "10.0.0.2")})

	require.NoError(t, lan.Enter(context.Background()))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "net_up.yml", runner.calls[0].playbook)
	assert.Equal(t, []string{"elrond", "workhorse-01"}, runner.calls[0].hosts)

	assert.Equal(t, 2, lan.Len())
	assert.Equal(t, []string{"elrond", "workhorse-01"}, lan.HostIDs())

	h, ok := lan.Lookup("elrond")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", h.ManagementIP().String())

	_, ok = lan.Lookup("sauron")
	assert.False(t, ok)
}

func TestLANAddHostsFailureLeavesExistingMembership(t *testing.T) {
	runner := newFakeRunner()
	lan := NewLANLayer("edge", runner, []types.HostIdentity{lanHost("elrond", "10.0.0.1")})
	require.NoError(t, lan.Enter(context.Background()))

	runner.failOn["net_up.yml"] = true
	err := lan.AddHosts(context.Background(), lanHost("workhorse-01", "10.0.0.2"))
	require.Error(t, err)
	assert.True(t, errdefs.IsRemoteOperation(err))

	// the failed batch was cleaned up, touching only its own hosts
	require.Len(t, runner.calls, 3)
	assert.Equal(t, "net_down.yml", runner.calls[2].playbook)
	assert.Equal(t, []string{"workhorse-01"}, runner.calls[2].hosts)

	// hosts from before the failed batch stay connected
	assert.Equal(t, 1, lan.Len())
	_, ok := lan.Lookup("elrond")
	assert.True(t, ok)
	_, ok = lan.Lookup("workhorse-01")
	assert.False(t, ok)
}

func TestLANTearDown(t *testing.T) {
	runner := newFakeRunner()
	lan := NewLANLayer("edge", runner,
		[]types.HostIdentity{lanHost("elrond", "10.0.0.1"), lanHost("workhorse-01", "10.0.0.2")})
	require.NoError(t, lan.Enter(context.Background()))

	require.NoError(t, lan.TearDown(context.Background()))
	assert.Zero(t, lan.Len())
	assert.Empty(t, lan.HostIDs())

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "net_down.yml", runner.calls[1].playbook)
	assert.Equal(t, []string{"elrond", "workhorse-01"}, runner.calls[1].hosts)

	// a second teardown runs no playbook at all
	require.NoError(t, lan.TearDown(context.Background()))
	assert.Len(t, runner.calls, 2)
}

func TestLANTearDownClearsMembershipOnFailure(t *testing.T) {
	runner := newFakeRunner()
	lan := NewLANLayer("edge", runner, []types.HostIdentity{lanHost("elrond", "10.0.0.1")})
	require.NoError(t, lan.Enter(context.Background()))

	runner.failOn["net_down.yml"] = true
	err := lan.TearDown(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsRemoteOperation(err))

	// reachability is never assumed after a teardown attempt
	assert.Zero(t, lan.Len())
}

// stubNet is a scripted Layer3Network that records lifecycle calls
type stubNet struct {
	name     string
	hosts    []types.HostIdentity
	enterErr error
	trace    *[]string
}

func (s *stubNet) Enter(ctx context.Context) error {
	*s.trace = append(*s.trace, "enter:"+s.name)
	return s.enterErr
}

func (s *stubNet) TearDown(ctx context.Context) error {
	*s.trace = append(*s.trace, "down:"+s.name)
	return nil
}

func (s *stubNet) Lookup(id string) (types.HostIdentity, bool) {
	for _, h := range s.hosts {
		if h.ID == id {
			return h, true
		}
	}
	return types.HostIdentity{}, false
}

func (s *stubNet) HostIDs() []string {
	ids := make([]string, 0, len(s.hosts))
	for _, h := range s.hosts {
		ids = append(ids, h.ID)
	}
	return ids
}

func (s *stubNet) Len() int { return len(s.hosts) }

func TestCompositeMembershipUnion(t *testing.T) {
	var trace []string
	lan := &stubNet{
		name:  "lan",
		hosts: []types.HostIdentity{lanHost("elrond", "10.0.0.1"), lanHost("workhorse-01", "10.0.0.2")},
		trace: &trace,
	}
	cloud := &stubNet{
		name:  "cloud",
		hosts: []types.HostIdentity{lanHost("i-0abc123", "10.4.0.1")},
		trace: &trace,
	}

	c := NewComposite()
	c.Add(lan)
	c.Add(cloud)
	require.NoError(t, c.Enter(context.Background()))

	assert.Equal(t, []string{"enter:lan", "enter:cloud"}, trace)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"elrond", "workhorse-01", "i-0abc123"}, c.HostIDs())

	for _, id := range []string{"elrond", "workhorse-01", "i-0abc123"} {
		h, ok := c.Lookup(id)
		require.True(t, ok, id)
		assert.Equal(t, id, h.ID)
	}
	_, ok := c.Lookup("sauron")
	assert.False(t, ok)
}

func TestCompositeUnwindsOnEnterFailure(t *testing.T) {
	var trace []string
	a := &stubNet{name: "a", trace: &trace}
	b := &stubNet{name: "b", trace: &trace}
	c := &stubNet{name: "c", trace: &trace, enterErr: errors.New("switch misconfigured")}
	d := &stubNet{name: "d", trace: &trace}

	comp := NewComposite()
	comp.Add(a)
	comp.Add(b)
	comp.Add(c)
	comp.Add(d)

	err := comp.Enter(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "switch misconfigured")

	// entered constituents unwind in reverse order; d is never touched
	assert.Equal(t, []string{"enter:a", "enter:b", "enter:c", "down:b", "down:a"}, trace)
}

func TestCompositeTearDownReverseOrder(t *testing.T) {
	var trace []string
	a := &stubNet{name: "a", trace: &trace}
	b := &stubNet{name: "b", trace: &trace}

	comp := NewComposite()
	comp.Add(a)
	comp.Add(b)
	require.NoError(t, comp.Enter(context.Background()))

	require.NoError(t, comp.TearDown(context.Background()))
	assert.Equal(t, []string{"enter:a", "enter:b", "down:b", "down:a"}, trace)
	assert.Zero(t, comp.Len())
}
