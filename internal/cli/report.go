// Package cli holds the operator-facing presentation layer: static report
// tables rendered with olekukonko/tablewriter, and a live console built on
// bubbletea/bubbles/lipgloss.
package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// PrintStrategyReport renders one row per strategy instance: id, symbol,
// engine kind, timeframe, and current status.
func PrintStrategyReport(w io.Writer, instances []*domain.StrategyInstance) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Symbol", "Engine", "Timeframe", "Status")

	for _, in := range instances {
		status := in.Status.State
		if in.Status.State == domain.StrategyFailed && in.Status.Message != "" {
			status = status + ": " + in.Status.Message
		}
		table.Append(in.ID, in.Symbol, string(in.EngineKind), string(in.TimeFrame), status)
	}
	table.Render()
}

// PrintAccountReport renders one row per account snapshot: id, available,
// frozen, total equity, and open position count.
func PrintAccountReport(w io.Writer, snapshots []domain.AccountSnapshot) {
	table := tablewriter.NewWriter(w)
	table.Header("Account", "Available", "Frozen", "Equity", "Positions")

	for _, s := range snapshots {
		table.Append(s.AccountID, s.Available.String(), s.Frozen.String(), s.TotalEquity.String(), fmt.Sprintf("%d", len(s.Positions)))
	}
	table.Render()
}

// PrintOrderReport renders one row per order: id, symbol, direction, price,
// volume, filled volume, and status.
func PrintOrderReport(w io.Writer, orders []*domain.Order) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Symbol", "Dir", "Price", "Volume", "Filled", "Status")

	for _, o := range orders {
		price := "market"
		if o.Price != nil {
			price = o.Price.String()
		}
		table.Append(o.ID, o.Symbol, string(o.Direction), price, o.Volume.String(), o.FilledVolume.String(), string(o.Status))
	}
	table.Render()
}
