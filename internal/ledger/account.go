package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/buffer"
	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

const auditRingCapacity = 256

// Account is a single tenant's funds and positions. Every mutating method is
// serialized by its own lock, so distinct accounts never block each other —
// only the single account under mutation pays for the lock.
type Account struct {
	mu        sync.RWMutex
	accountID string
	available decimal.Decimal
	frozen    decimal.Decimal
	positions map[string]*domain.Position
	audit     *buffer.Ring[domain.AuditEntry]
	auditSink func(domain.AuditEntry)
}

func newAccount(accountID string, initial decimal.Decimal, sink func(domain.AuditEntry)) *Account {
	return &Account{
		accountID: accountID,
		available: initial,
		positions: make(map[string]*domain.Position),
		audit:     buffer.New[domain.AuditEntry](auditRingCapacity),
		auditSink: sink,
	}
}

func (a *Account) record(op string, amount decimal.Decimal, note string) {
	entry := domain.AuditEntry{
		AccountID:   a.accountID,
		Op:          op,
		Amount:      amount,
		TimestampMs: time.Now().UnixMilli(),
		Note:        note,
	}
	a.audit.Push(entry)
	if a.auditSink != nil {
		a.auditSink(entry)
	}
}

// Freeze moves amount from available to frozen, failing if funds are short.
func (a *Account) Freeze(amount decimal.Decimal) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.available.LessThan(amount) {
		return &domain.InsufficientFundsError{Required: amount, Actual: a.available}
	}
	a.available = a.available.Sub(amount)
	a.frozen = a.frozen.Add(amount)
	a.record("freeze", amount, "")
	return nil
}

// Unfreeze moves amount from frozen back to available, clamping to the
// current frozen balance and logging a warning when clamped.
func (a *Account) Unfreeze(amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	actual := amount
	if actual.GreaterThan(a.frozen) {
		slog.Warn("unfreeze amount exceeds frozen balance, clamping",
			"account_id", a.accountID, "requested", amount, "frozen", a.frozen)
		actual = a.frozen
	}
	a.frozen = a.frozen.Sub(actual)
	a.available = a.available.Add(actual)
	a.record("unfreeze", actual, "")
}

// ProcessTrade atomically settles a fill against the account: deducting or
// crediting cash, releasing any over-frozen estimate, and updating the
// affected position.
func (a *Account) ProcessTrade(trade domain.Trade, estReqFunds decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if trade.Direction == domain.Buy {
		actualCost := trade.Price.Mul(trade.Volume).Add(trade.Commission)
		a.deductLocked(actualCost)
		overFrozen := estReqFunds.Sub(actualCost)
		if overFrozen.IsPositive() {
			a.unfreezeLocked(overFrozen)
		}
	} else {
		gain := trade.Price.Mul(trade.Volume).Sub(trade.Commission)
		a.available = a.available.Add(gain)
		a.record("sell_proceeds", gain, trade.OrderID)
	}

	delta := trade.Volume
	if trade.Direction == domain.Sell {
		delta = delta.Neg()
	}
	a.updatePositionLocked(trade.Symbol, delta, trade.Price)
}

// deductLocked spends target from frozen first, spilling into available on
// overflow (handles slippage beyond the pre-freeze estimate). Caller holds mu.
func (a *Account) deductLocked(target decimal.Decimal) {
	if a.frozen.GreaterThanOrEqual(target) {
		a.frozen = a.frozen.Sub(target)
	} else {
		remain := target.Sub(a.frozen)
		a.frozen = decimal.Zero
		a.available = a.available.Sub(remain)
	}
	a.record("deduct", target, "")
}

func (a *Account) unfreezeLocked(amount decimal.Decimal) {
	actual := amount
	if actual.GreaterThan(a.frozen) {
		actual = a.frozen
	}
	a.frozen = a.frozen.Sub(actual)
	a.available = a.available.Add(actual)
	a.record("unfreeze", actual, "")
}

// updatePositionLocked applies a signed volume delta at trade price. Caller
// holds mu.
func (a *Account) updatePositionLocked(symbol string, delta decimal.Decimal, tradePrice decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	pos, ok := a.positions[symbol]
	if !ok {
		pos = &domain.Position{AccountID: a.accountID, Symbol: symbol}
		a.positions[symbol] = pos
	}

	sameDirection := pos.Volume.IsZero() ||
		(pos.Volume.IsPositive() && delta.IsPositive()) ||
		(pos.Volume.IsNegative() && delta.IsNegative())

	if sameDirection {
		oldCost := pos.Volume.Abs().Mul(pos.AveragePrice)
		addedCost := delta.Abs().Mul(tradePrice)
		pos.Volume = pos.Volume.Add(delta)
		if !pos.Volume.IsZero() {
			pos.AveragePrice = oldCost.Add(addedCost).Div(pos.Volume.Abs())
		}
		return
	}

	// Opposing delta: reduces size without moving the average price, unless
	// it flips sign or reaches zero.
	wasPositive := pos.Volume.IsPositive()
	pos.Volume = pos.Volume.Add(delta)
	switch {
	case pos.Volume.IsZero():
		pos.AveragePrice = decimal.Zero
	case wasPositive != pos.Volume.IsPositive():
		pos.AveragePrice = tradePrice
	}
}

// Deposit is a privileged cash injection used by tests and administrators.
func (a *Account) Deposit(amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = a.available.Add(amount)
	a.record("deposit", amount, "")
}

// Snapshot returns an immutable read of the account's current state.
// Unrealised P&L is not included in TotalEquity (explicit simplification).
func (a *Account) Snapshot() domain.AccountSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	positions := make([]domain.Position, 0, len(a.positions))
	for _, p := range a.positions {
		if !p.Volume.IsZero() {
			positions = append(positions, *p)
		}
	}
	return domain.AccountSnapshot{
		AccountID:   a.accountID,
		Available:   a.available,
		Frozen:      a.frozen,
		TotalEquity: a.available.Add(a.frozen),
		Positions:   positions,
	}
}

// AuditLog returns the account's recent audit entries, oldest first.
func (a *Account) AuditLog() []domain.AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.audit.ToSlice()
}

// Manager owns every active account. Distinct accounts never block each
// other: the manager's lock only guards the top-level map lookup, never a
// mutation — mutations happen inside the per-account lock returned here.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	auditLog ports.AccountAuditStore // optional durable sink, may be nil
}

// NewManager constructs an empty account manager. auditLog may be nil, in
// which case only the in-memory ring per account is kept.
func NewManager(auditLog ports.AccountAuditStore) *Manager {
	return &Manager{
		accounts: make(map[string]*Account),
		auditLog: auditLog,
	}
}

// EnsureAccount creates the account with the given initial balance if it
// does not already exist; otherwise it is a no-op.
func (m *Manager) EnsureAccount(accountID string, initial decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		sink := func(entry domain.AuditEntry) { m.appendAudit(context.Background(), entry) }
		m.accounts[accountID] = newAccount(accountID, initial, sink)
	}
}

// Get returns the account, or domain.ErrAccountNotFound.
func (m *Manager) Get(accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acct, nil
}

// Snapshot is a convenience read-through to Get(id).Snapshot().
func (m *Manager) Snapshot(accountID string) (domain.AccountSnapshot, error) {
	acct, err := m.Get(accountID)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	return acct.Snapshot(), nil
}

// appendAudit persists entries to the durable sink when configured. Best
// effort: a store failure is logged, not propagated, since the in-memory
// ring is always authoritative for the running process.
func (m *Manager) appendAudit(ctx context.Context, entry domain.AuditEntry) {
	if m.auditLog == nil {
		return
	}
	if err := m.auditLog.Append(ctx, entry); err != nil {
		slog.Warn("failed to persist audit entry", "account_id", entry.AccountID, "err", err)
	}
}
