// Package token implements the in-memory payment token ledger.
package token

import (
	"math/big"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Ledger is a fungible balance table with ERC-20 style allowances.
type Ledger struct {
	acl *access.Set

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

type ledgerState struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

// NewLedger creates an empty ledger. Minting is restricted to admins in acl.
func NewLedger(acl *access.Set) *Ledger {
	return &Ledger{
		acl:        acl,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     new(big.Int),
	}
}

// BalanceOf returns a copy of owner's balance.
func (l *Ledger) BalanceOf(owner common.Address) *big.Int {
	if b, ok := l.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() *big.Int {
	return new(big.Int).Set(l.supply)
}

// Mint credits to with amount. Only admins may mint.
func (l *Ledger) Mint(tx *chain.Tx, to common.Address, amount *big.Int) error {
	if err := l.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	tx.Emit(domain.Transfer{From: common.Address{}, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve sets the caller's allowance for spender to amount.
func (l *Ledger) Approve(tx *chain.Tx, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	owner := tx.Caller
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	tx.Emit(domain.Approval{Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount from from to to. The caller must be from.
func (l *Ledger) Transfer(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if tx.Caller != from {
		return domain.ErrUnauthorized.With("%s cannot move funds of %s", tx.Caller.Hex(), from.Hex())
	}
	return l.move(tx, from, to, amount)
}

// TransferFrom moves amount from from to to using spender's allowance. The
// caller must be spender.
func (l *Ledger) TransferFrom(tx *chain.Tx, spender, from, to common.Address, amount *big.Int) error {
	if tx.Caller != spender {
		return domain.ErrUnauthorized.With("%s is not spender %s", tx.Caller.Hex(), spender.Hex())
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowed := l.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance.With("allowance %s < %s", allowed, amount)
	}
	if err := l.move(tx, from, to, amount); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		l.allowances[from][spender] = allowed.Sub(allowed, amount)
	}
	return nil
}

func (l *Ledger) move(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds.With("%s holds %s, needs %s", from.Hex(), bal, amount)
	}
	l.balances[from] = bal.Sub(bal, amount)
	l.credit(to, amount)
	tx.Emit(domain.Transfer{From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) credit(to common.Address, amount *big.Int) {
	b, ok := l.balances[to]
	if !ok {
		b = new(big.Int)
		l.balances[to] = b
	}
	b.Add(b, amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrInvalidAmount.With("amount must be non-negative")
	}
	return nil
}

// Snapshot implements chain.Journaled.
func (l *Ledger) Snapshot() any {
	st := ledgerState{
		balances:   make(map[common.Address]*big.Int, len(l.balances)),
		allowances: make(map[common.Address]map[common.Address]*big.Int, len(l.allowances)),
		supply:     new(big.Int).Set(l.supply),
	}
	for k, v := range l.balances {
		st.balances[k] = new(big.Int).Set(v)
	}
	for owner, m := range l.allowances {
		cp := make(map[common.Address]*big.Int, len(m))
		for spender, v := range m {
			cp[spender] = new(big.Int).Set(v)
		}
		st.allowances[owner] = cp
	}
	return st
}

// Restore implements chain.Journaled.
func (l *Ledger) Restore(snap any) {
	st := snap.(ledgerState)
	l.balances = st.balances
	l.allowances = st.allowances
	l.supply = st.supply
}
