package ansible

import (
	"context"

	"github.com/expeca/ainur/pkg/types"
)

// Status is the outcome of a playbook run
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// HostVars holds the connection parameters and host variables for a single
// inventory host
type HostVars map[string]any

// Inventory maps host IDs to their connection parameters. It serializes to
// the standard all.hosts YAML document.
type Inventory map[string]HostVars

// Document returns the inventory in the nested form expected by the runner
func (inv Inventory) Document() map[string]any {
	hosts := make(map[string]any, len(inv))
	for id, vars := range inv {
		hosts[id] = map[string]any(vars)
	}
	return map[string]any{
		"all": map[string]any{
			"hosts": hosts,
		},
	}
}

// HostIDs returns the IDs of all hosts in the inventory
func (inv Inventory) HostIDs() []string {
	ids := make([]string, 0, len(inv))
	for id := range inv {
		ids = append(ids, id)
	}
	return ids
}

// InventoryFromHosts builds a plain connection inventory from host identities
func InventoryFromHosts(hosts ...types.HostIdentity) Inventory {
	inv := make(Inventory, len(hosts))
	for _, h := range hosts {
		inv[h.ID] = HostVars{
			"ansible_host": h.ManagementIP().String(),
			"ansible_user": h.AdminUser,
		}
	}
	return inv
}

// Result carries the outcome of a playbook run: an overall status and the
// structured fact cache keyed by host
type Result struct {
	RunID  string
	Status Status
	Facts  map[string]map[string]any
}

// Runner executes a named playbook against every host in an inventory.
// Implementations block until the run completes; the testbed layers fail
// their own operation whenever Status is StatusFailed.
type Runner interface {
	Run(ctx context.Context, inv Inventory, playbook string) (*Result, error)
}
