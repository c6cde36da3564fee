package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/matching"
)

func TestFreeze_InsufficientFunds(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.NewFromInt(10))
	acct, err := mgr.Get("acc1")
	require.NoError(t, err)

	err = acct.Freeze(decimal.NewFromInt(150))
	require.Error(t, err)
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(decimal.NewFromInt(150)))
	assert.True(t, insufficient.Actual.Equal(decimal.NewFromInt(10)))

	snap := acct.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(10)))
	assert.True(t, snap.Frozen.IsZero())
}

func TestCancelAfterFreeze_RefundsFully(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.NewFromInt(10000))
	acct, _ := mgr.Get("acc1")

	require.NoError(t, acct.Freeze(decimal.NewFromInt(1000)))
	snap := acct.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(9000)))
	assert.True(t, snap.Frozen.Equal(decimal.NewFromInt(1000)))

	acct.Unfreeze(decimal.NewFromInt(1000))
	snap = acct.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(10000)))
	assert.True(t, snap.Frozen.IsZero())
}

func TestUnfreeze_ClampsToFrozenBalance(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.NewFromInt(100))
	acct, _ := mgr.Get("acc1")
	require.NoError(t, acct.Freeze(decimal.NewFromInt(50)))

	acct.Unfreeze(decimal.NewFromInt(999))
	snap := acct.Snapshot()
	assert.True(t, snap.Frozen.IsZero())
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(100)))
}

func TestProcessTrade_BuyUpdatesPositionAndReleasesOverFreeze(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.NewFromInt(10000))
	acct, _ := mgr.Get("acc1")

	est := decimal.NewFromInt(1050) // 10 * 105
	require.NoError(t, acct.Freeze(est))

	trade := domain.Trade{
		AccountID:  "acc1",
		Symbol:     "VOO",
		Direction:  domain.Buy,
		Price:      decimal.NewFromInt(100),
		Volume:     decimal.NewFromInt(10),
		Commission: decimal.Zero,
	}
	acct.ProcessTrade(trade, est)

	snap := acct.Snapshot()
	// actual cost 1000 < est 1050, overfrozen 50 released back to available
	assert.True(t, snap.Frozen.IsZero(), "frozen: %s", snap.Frozen)
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(9000)), "available: %s", snap.Available)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].Volume.Equal(decimal.NewFromInt(10)))
	assert.True(t, snap.Positions[0].AveragePrice.Equal(decimal.NewFromInt(100)))
}

func TestProcessTrade_SellAddsProceedsWithoutFreeze(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.NewFromInt(0))
	acct, _ := mgr.Get("acc1")

	trade := domain.Trade{
		AccountID:  "acc1",
		Symbol:     "VOO",
		Direction:  domain.Sell,
		Price:      decimal.NewFromInt(100),
		Volume:     decimal.NewFromInt(5),
		Commission: decimal.NewFromFloat(0.5),
	}
	acct.ProcessTrade(trade, decimal.Zero)

	snap := acct.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromFloat(499.5)))
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].Volume.Equal(decimal.NewFromInt(-5)))
}

// TestConcurrentBuySell exercises the exact literal scenario from the
// engine's testable properties: 100 concurrent Buy market orders of 10
// units and 50 concurrent Sell market orders of 10 units against an account
// pre-funded with 1,000,000 at reference price 150 and commission 0.0001.
func TestConcurrentBuySell_EndsAtExpectedState(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.NewFromInt(1_000_000))
	acct, _ := mgr.Get("acc1")

	matcher := matching.New(decimal.NewFromFloat(0.0001))
	refPrice := decimal.NewFromInt(150)
	volumePerOrder := decimal.NewFromInt(10)

	var wg sync.WaitGroup
	submit := func(direction domain.OrderDirection) {
		defer wg.Done()
		order := &domain.Order{
			AccountID: "acc1",
			Symbol:    "VOO",
			Direction: direction,
			Volume:    volumePerOrder,
			Status:    domain.OrderSubmitted,
		}
		estReq := refPrice.Mul(volumePerOrder)
		if direction == domain.Buy {
			require.NoError(t, acct.Freeze(estReq))
		}
		trade := matcher.Execute(order, refPrice, 0)
		require.NotNil(t, trade)
		acct.ProcessTrade(*trade, estReq)
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go submit(domain.Buy)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go submit(domain.Sell)
	}
	wg.Wait()

	snap := acct.Snapshot()
	assert.True(t, snap.Frozen.IsZero(), "frozen should be zero, got %s", snap.Frozen)

	buyCost := refPrice.Mul(decimal.NewFromInt(100)).Mul(volumePerOrder).Mul(decimal.NewFromFloat(1.0001))
	sellProceeds := refPrice.Mul(decimal.NewFromInt(50)).Mul(volumePerOrder).Mul(decimal.NewFromFloat(0.9999))
	expectedAvailable := decimal.NewFromInt(1_000_000).Sub(buyCost).Add(sellProceeds)
	assert.True(t, snap.Available.Sub(expectedAvailable).Abs().LessThan(decimal.NewFromFloat(0.01)),
		"available: got %s want %s", snap.Available, expectedAvailable)

	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].Volume.Equal(decimal.NewFromInt(500)))
	assert.True(t, snap.Positions[0].AveragePrice.Equal(refPrice))
}

func TestDeposit_AppendsAuditEntry(t *testing.T) {
	mgr := NewManager(nil)
	mgr.EnsureAccount("acc1", decimal.Zero)
	acct, _ := mgr.Get("acc1")
	acct.Deposit(decimal.NewFromInt(500))

	snap := acct.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(500)))

	log := acct.AuditLog()
	require.Len(t, log, 1)
	assert.Equal(t, "deposit", log[0].Op)
}

func TestManager_GetUnknownAccount(t *testing.T) {
	mgr := NewManager(nil)
	_, err := mgr.Get("nope")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
