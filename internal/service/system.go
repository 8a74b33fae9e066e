// Package service exposes the escrow modules as a command-driven system:
// decoding commands, running them in host transactions, journaling, replay
// and event fan-out.
package service

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/certificate"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/escrow"
	"github.com/alanyoungcy/bondescrow/internal/governance"
	"github.com/alanyoungcy/bondescrow/internal/staking"
	"github.com/alanyoungcy/bondescrow/internal/token"
	"github.com/ethereum/go-ethereum/common"
)

// SystemConfig fixes the identities and construction-time parameters of a
// System. Everything else is derived from transactions.
type SystemConfig struct {
	Admin         common.Address
	Escrow        common.Address
	Treasury      common.Address
	RewardRateBps uint64
	Fees          domain.FeeRates
}

// System is the full set of modules registered on one host.
type System struct {
	Host         *chain.Host
	Clock        chain.Clock
	Admin        common.Address
	ACL          *access.Set
	Token        *token.Ledger
	Certificates *certificate.Registry
	Staking      *staking.Ledger
	Governance   *governance.Registry
	Escrow       *escrow.Coordinator
}

// NewSystem builds every module and registers them with a new host.
func NewSystem(cfg SystemConfig, clock chain.Clock, logger *slog.Logger, opts ...chain.Option) (*System, error) {
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("service: %w", domain.ErrInvalidParam.With("admin address is zero"))
	}
	acl := access.New(cfg.Admin)
	acl.Grant(cfg.Escrow, access.Minter)

	tok := token.NewLedger(acl)
	certs := certificate.NewRegistry(acl)
	stake := staking.NewLedger(acl, cfg.Escrow, cfg.RewardRateBps)
	gov := governance.NewRegistry(acl, cfg.Escrow)

	coord, err := escrow.NewCoordinator(escrow.Config{
		Address:  cfg.Escrow,
		Treasury: cfg.Treasury,
		Fees:     cfg.Fees,
	}, acl, tok, certs, stake, gov)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}

	host := chain.NewHost(clock, append([]chain.Option{chain.WithLogger(logger)}, opts...)...)
	host.Register(acl, tok, certs, stake, gov, coord)

	return &System{
		Host:         host,
		Clock:        clock,
		Admin:        cfg.Admin,
		ACL:          acl,
		Token:        tok,
		Certificates: certs,
		Staking:      stake,
		Governance:   gov,
		Escrow:       coord,
	}, nil
}
