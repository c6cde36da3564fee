package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

var consoleBorderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder())

// Snapshot is one poll of the engine's live state, handed to the console by
// the caller's RefreshFunc.
type Snapshot struct {
	Strategies []*domain.StrategyInstance
	Accounts   []domain.AccountSnapshot
}

// RefreshFunc polls the running engine for its current state. The console
// calls it on every tick; a returned error is shown but does not stop the
// console.
type RefreshFunc func(ctx context.Context) (Snapshot, error)

type tickMsg time.Time

// ConsoleModel is a bubbletea Model presenting a live table of strategy
// instances and account balances, refreshed on an interval.
type ConsoleModel struct {
	ctx      context.Context
	refresh  RefreshFunc
	interval time.Duration

	strategies table.Model
	accounts   table.Model
	lastErr    error
	width      int
	height     int
}

// NewConsoleModel constructs a console polling refresh every interval.
func NewConsoleModel(ctx context.Context, refresh RefreshFunc, interval time.Duration) ConsoleModel {
	strategyCols := []table.Column{
		{Title: "ID", Width: 24}, {Title: "Symbol", Width: 8},
		{Title: "Engine", Width: 10}, {Title: "Timeframe", Width: 10}, {Title: "Status", Width: 20},
	}
	accountCols := []table.Column{
		{Title: "Account", Width: 16}, {Title: "Available", Width: 14},
		{Title: "Frozen", Width: 14}, {Title: "Equity", Width: 14},
	}
	return ConsoleModel{
		ctx:        ctx,
		refresh:    refresh,
		interval:   interval,
		strategies: table.New(table.WithColumns(strategyCols), table.WithFocused(true)),
		accounts:   table.New(table.WithColumns(accountCols)),
	}
}

// Init starts the refresh polling loop.
func (m ConsoleModel) Init() tea.Cmd {
	return tea.Batch(m.pollOnce(), m.tickAfter())
}

func (m ConsoleModel) tickAfter() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m ConsoleModel) pollOnce() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.refresh(m.ctx)
		if err != nil {
			return snapshotErrMsg{err}
		}
		return snapshotMsg{snap}
	}
}

type snapshotMsg struct{ snap Snapshot }
type snapshotErrMsg struct{ err error }

// Update handles bubbletea messages: a tick re-polls the engine, a
// snapshot rebuilds both tables, and 'q'/ctrl+c quits the console.
func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.strategies, cmd = m.strategies.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.pollOnce(), m.tickAfter())

	case snapshotErrMsg:
		m.lastErr = msg.err
		return m, nil

	case snapshotMsg:
		m.lastErr = nil
		m.strategies.SetRows(strategyRows(msg.snap.Strategies))
		m.accounts.SetRows(accountRows(msg.snap.Accounts))
		return m, nil
	}
	return m, nil
}

// View renders both tables and, if the last poll failed, the error.
func (m ConsoleModel) View() string {
	view := consoleBorderStyle.Render(m.strategies.View()) + "\n" + consoleBorderStyle.Render(m.accounts.View())
	if m.lastErr != nil {
		view += fmt.Sprintf("\nrefresh error: %v", m.lastErr)
	}
	view += "\nq: quit"
	return view
}

func strategyRows(instances []*domain.StrategyInstance) []table.Row {
	rows := make([]table.Row, 0, len(instances))
	for _, in := range instances {
		status := in.Status.State
		if in.Status.State == domain.StrategyFailed && in.Status.Message != "" {
			status += ": " + in.Status.Message
		}
		rows = append(rows, table.Row{in.ID, in.Symbol, string(in.EngineKind), string(in.TimeFrame), status})
	}
	return rows
}

func accountRows(snapshots []domain.AccountSnapshot) []table.Row {
	rows := make([]table.Row, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, table.Row{s.AccountID, s.Available.String(), s.Frozen.String(), s.TotalEquity.String()})
	}
	return rows
}

// RunConsole blocks running the live console until the user quits or ctx is
// canceled.
func RunConsole(ctx context.Context, refresh RefreshFunc, interval time.Duration) error {
	p := tea.NewProgram(NewConsoleModel(ctx, refresh, interval))
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
