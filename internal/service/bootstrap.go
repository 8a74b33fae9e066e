package service

import (
	"context"
	"math/big"
	"slices"

	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/ethereum/go-ethereum/common"
)

// Genesis is state seeded from configuration before the journal is applied.
type Genesis struct {
	Balances      map[common.Address]*big.Int
	Adjudicators  []common.Address
	VotingPeriod  uint64
	RequiredVotes uint64
}

// Bootstrap applies g as the admin at sequence zero. It is not journaled, so
// it must be run with the same configuration before every replay.
func Bootstrap(ctx context.Context, sys *System, g Genesis) error {
	return sys.Host.Genesis(ctx, sys.Admin, func(tx *chain.Tx) error {
		holders := make([]common.Address, 0, len(g.Balances))
		for a := range g.Balances {
			holders = append(holders, a)
		}
		slices.SortFunc(holders, func(a, b common.Address) int { return a.Cmp(b) })
		for _, a := range holders {
			if err := sys.Token.Mint(tx, a, g.Balances[a]); err != nil {
				return err
			}
		}
		for _, a := range g.Adjudicators {
			if err := sys.Governance.GrantAdjudicator(tx, a); err != nil {
				return err
			}
		}
		if g.VotingPeriod != 0 {
			if err := sys.Governance.SetVotingPeriod(tx, g.VotingPeriod); err != nil {
				return err
			}
		}
		if g.RequiredVotes != 0 {
			if err := sys.Governance.SetRequiredVotes(tx, g.RequiredVotes); err != nil {
				return err
			}
		}
		return nil
	})
}
