package domain

import "time"

// EngineKind selects which sandbox variant runs a strategy's source.
type EngineKind string

const (
	EngineScript   EngineKind = "script"
	EngineBytecode EngineKind = "bytecode"
)

// StrategyStatus is the externally observable lifecycle state of a strategy
// instance. Status never moves backward: a Failed instance requires a fresh
// start, never a silent transition back to Running.
type StrategyStatus struct {
	State   string // "pending" | "running" | "stopped" | "failed"
	Message string // populated only when State == "failed"
}

const (
	StrategyPending = "pending"
	StrategyRunning = "running"
	StrategyStopped = "stopped"
	StrategyFailed  = "failed"
)

func Pending() StrategyStatus { return StrategyStatus{State: StrategyPending} }
func Running() StrategyStatus { return StrategyStatus{State: StrategyRunning} }
func Stopped() StrategyStatus { return StrategyStatus{State: StrategyStopped} }
func Failed(msg string) StrategyStatus {
	return StrategyStatus{State: StrategyFailed, Message: msg}
}

// StrategyInstance is a persisted, user-scoped strategy instantiation.
type StrategyInstance struct {
	ID         string
	UserID     string
	Symbol     string
	AccountID  string
	TimeFrame  TimeFrame
	EngineKind EngineKind
	Source     []byte
	Status     StrategyStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SignalKind enumerates the intents a strategy may emit.
type SignalKind string

const (
	LongEntry  SignalKind = "LongEntry"
	ShortEntry SignalKind = "ShortEntry"
	LongExit   SignalKind = "LongExit"
	ShortExit  SignalKind = "ShortExit"
	Alert      SignalKind = "Alert"
	Info       SignalKind = "Info"
)

// Signal is a typed event emitted by a strategy and dispatched to handlers.
type Signal struct {
	ID         string
	Symbol     string
	Timestamp  time.Time
	Kind       SignalKind
	StrategyID string
	Metadata   map[string]string
}
