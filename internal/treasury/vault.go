package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// Vault is the in-memory treasury backend used by dev mode and tests. It
// keeps a spendable balance per party plus the settlement account that
// holds collected stakes until release; a release applies all of its legs
// or none under a single mutex.
type Vault struct {
	mu       sync.Mutex
	balances map[domain.Party]uint64
	held     uint64
}

var _ domain.Treasury = (*Vault)(nil)

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{balances: make(map[domain.Party]uint64)}
}

// Credit adds funds to a party's spendable balance.
func (v *Vault) Credit(p domain.Party, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[p] += amount
}

// Collect pulls amount from the party's spendable balance into the
// settlement account. Insufficient balance fails with ErrTransferFailed
// and moves nothing.
func (v *Vault) Collect(_ context.Context, from domain.Party, amount uint64, memo string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balances[from]
	if bal < amount {
		return fmt.Errorf("vault: collect %d from %s (%s): %w: balance %d",
			amount, from.Hex(), memo, domain.ErrTransferFailed, bal)
	}
	v.balances[from] = bal - amount
	v.held += amount
	return nil
}

// Release pays every leg out of the settlement account, all or nothing.
// Zero-amount legs are skipped.
func (v *Vault) Release(_ context.Context, legs []domain.PayoutLeg, memo string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var total uint64
	for _, leg := range legs {
		next := total + leg.Amount
		if next < total {
			return fmt.Errorf("vault: release (%s): %w: leg total overflows", memo, domain.ErrTransferFailed)
		}
		total = next
	}
	if total > v.held {
		return fmt.Errorf("vault: release %d (%s): %w: settlement account holds %d",
			total, memo, domain.ErrTransferFailed, v.held)
	}

	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		v.balances[leg.To] += leg.Amount
	}
	v.held -= total
	return nil
}

// Balance returns p's spendable balance.
func (v *Vault) Balance(p domain.Party) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[p]
}

// Held returns the settlement account balance. After all payouts have been
// released this is exactly the rounding dust retained by settlement.
func (v *Vault) Held() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}
