package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/expeca/ainur/pkg/log"
	"github.com/expeca/ainur/pkg/types"
)

// Composite unions an arbitrary number of Layer3Networks into one logical
// membership space and manages their combined lifetime as a single scoped
// resource. Constituents are entered in registration order; lookups scan
// constituents in the same order and return the first match.
//
// Host IDs must be unique across constituents: a host may appear once, in
// exactly one constituent. The composite is only mutated by the single
// goroutine driving setup and teardown, so no locking is needed.
type Composite struct {
	networks []Layer3Network
	entered  []Layer3Network // acquisition stack, unwound in reverse
}

// NewComposite creates an empty composite network
func NewComposite() *Composite {
	return &Composite{}
}

// Add registers a constituent network. Networks added after Enter are not
// entered retroactively.
func (c *Composite) Add(net Layer3Network) {
	c.networks = append(c.networks, net)
}

// Enter enters every registered constituent in registration order. If
// constituent k fails, constituents 1..k-1 are torn down in reverse order
// before the error propagates.
func (c *Composite) Enter(ctx context.Context) error {
	logger := log.WithComponent("composite-net")

	for _, net := range c.networks {
		if err := net.Enter(ctx); err != nil {
			logger.Error().Err(err).Msg("constituent network failed to come up, unwinding")
			c.unwind(ctx)
			return fmt.Errorf("entering composite network: %w", err)
		}
		c.entered = append(c.entered, net)
	}

	logger.Info().
		Int("networks", len(c.networks)).
		Int("hosts", c.Len()).
		Msg("composite network up")
	return nil
}

// unwind tears down the acquired constituents in reverse acquisition order.
// Teardown failures are logged, never raised: the original error (or the
// teardown request itself) takes precedence.
func (c *Composite) unwind(ctx context.Context) error {
	logger := log.WithComponent("composite-net")

	var errs []error
	for i := len(c.entered) - 1; i >= 0; i-- {
		if err := c.entered[i].TearDown(ctx); err != nil {
			logger.Error().Err(err).Msg("constituent network failed to tear down")
			errs = append(errs, err)
		}
	}
	c.entered = nil
	return errors.Join(errs...)
}

// TearDown tears down all entered constituents in reverse order and clears
// the constituent list. Safe to call after a failed Enter.
func (c *Composite) TearDown(ctx context.Context) error {
	err := c.unwind(ctx)
	c.networks = nil
	if err != nil {
		return fmt.Errorf("tearing down composite network: %w", err)
	}
	return nil
}

// Lookup scans constituents in registration order and returns the first match
func (c *Composite) Lookup(id string) (types.HostIdentity, bool) {
	for _, net := range c.networks {
		if host, ok := net.Lookup(id); ok {
			return host, true
		}
	}
	return types.HostIdentity{}, false
}

// HostIDs returns all constituent host IDs in registration order
func (c *Composite) HostIDs() []string {
	var ids []string
	for _, net := range c.networks {
		ids = append(ids, net.HostIDs()...)
	}
	return ids
}

// Len returns the sum of all constituent sizes
func (c *Composite) Len() int {
	total := 0
	for _, net := range c.networks {
		total += net.Len()
	}
	return total
}
