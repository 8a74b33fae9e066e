package escrow

import (
	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// SetFeeRates replaces both fee rates. Admin only; each rate is checked
// against its hard cap.
func (c *Coordinator) SetFeeRates(tx *chain.Tx, governanceBps, affiliateBps uint64) error {
	if err := c.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	rates := domain.FeeRates{GovernanceBps: governanceBps, AffiliateBps: affiliateBps}
	if err := rates.Validate(); err != nil {
		return err
	}
	c.fees = rates
	tx.Emit(domain.FeeRatesUpdated{GovernanceBps: governanceBps, AffiliateBps: affiliateBps})
	return nil
}
