package service

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Outcome is the result of a committed command.
type Outcome struct {
	chain.Receipt
	CreatedID uint64 `json:"created_id,omitempty"`
}

// EscrowService is the single entry point for state-changing commands.
type EscrowService struct {
	sys    *System
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewEscrowService creates an EscrowService. audit may be nil.
func NewEscrowService(sys *System, audit domain.AuditStore, logger *slog.Logger) *EscrowService {
	return &EscrowService{
		sys:    sys,
		audit:  audit,
		logger: logger.With(slog.String("component", "escrow_service")),
	}
}

// System returns the underlying module set.
func (s *EscrowService) System() *System { return s.sys }

// Submit decodes cmd and runs it as one transaction on behalf of caller.
// Failed commands leave no state behind and are recorded in the audit log.
func (s *EscrowService) Submit(ctx context.Context, caller common.Address, cmd Command) (Outcome, error) {
	args, err := CanonicalArgs(cmd.Args)
	if err != nil {
		s.reject(ctx, caller, cmd.Op, err)
		return Outcome{}, err
	}
	cmd.Args = args

	run, err := Bind(s.sys, cmd)
	if err != nil {
		s.reject(ctx, caller, cmd.Op, err)
		return Outcome{}, err
	}

	var created uint64
	rcpt, err := s.sys.Host.Execute(ctx, caller, cmd.Op, args, func(tx *chain.Tx) error {
		id, err := run(tx)
		created = id
		return err
	})
	if err != nil {
		s.reject(ctx, caller, cmd.Op, err)
		return Outcome{}, err
	}

	s.logger.InfoContext(ctx, "transaction committed",
		slog.Uint64("seq", rcpt.Seq),
		slog.String("op", rcpt.Op),
		slog.String("caller", caller.Hex()),
		slog.String("hash", rcpt.Hash.Hex()),
		slog.Int("events", len(rcpt.Events)),
	)
	return Outcome{Receipt: rcpt, CreatedID: created}, nil
}

func (s *EscrowService) reject(ctx context.Context, caller common.Address, op string, err error) {
	kind := domain.KindOf(err)
	level := slog.LevelWarn
	if kind == domain.KindInfrastructure {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "transaction rejected",
		slog.String("op", op),
		slog.String("caller", caller.Hex()),
		slog.String("kind", string(kind)),
		slog.String("code", domain.CodeOf(err)),
		slog.String("error", err.Error()),
	)

	if s.audit == nil {
		return
	}
	if auditErr := s.audit.Log(ctx, "tx_rejected", map[string]any{
		"op":     op,
		"caller": caller.Hex(),
		"kind":   string(kind),
		"code":   domain.CodeOf(err),
		"error":  err.Error(),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("op", op),
			slog.String("error", auditErr.Error()),
		)
	}
}
