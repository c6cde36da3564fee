package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimeFrame is a closed enumeration of candle bucket widths.
type TimeFrame string

const (
	M1 TimeFrame = "1m"
	M5 TimeFrame = "5m"
	H1 TimeFrame = "1h"
	D1 TimeFrame = "1d"
)

// AllTimeFrames lists every valid TimeFrame, oldest-granularity first.
var AllTimeFrames = []TimeFrame{M1, M5, H1, D1}

// ParseTimeFrame maps a canonical short string to a TimeFrame.
func ParseTimeFrame(s string) (TimeFrame, error) {
	switch TimeFrame(s) {
	case M1, M5, H1, D1:
		return TimeFrame(s), nil
	default:
		return "", fmt.Errorf("%w: unknown timeframe %q", ErrBadRequest, s)
	}
}

// Duration returns the wall-clock span one bar of this TimeFrame covers.
func (tf TimeFrame) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case H1:
		return time.Hour
	case D1:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Candle is a time-bucketed OHLCV quote.
//
// Invariant: Low <= min(Open,Close) <= max(Open,Close) <= High.
type Candle struct {
	Time     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose *decimal.Decimal
	Volume   decimal.Decimal
	IsFinal  bool
}

// Valid reports whether the candle satisfies the OHLC ordering invariant.
func (c Candle) Valid() bool {
	hi := decimal.Max(c.Open, c.Close)
	lo := decimal.Min(c.Open, c.Close)
	return c.Low.LessThanOrEqual(lo) && lo.LessThanOrEqual(hi) && hi.LessThanOrEqual(c.High)
}

// AggregateStatus is the coarse lifecycle state of a market aggregate.
type AggregateStatus string

const (
	StatusInitializing AggregateStatus = "initializing"
	StatusOnline        AggregateStatus = "online"
	StatusOffline       AggregateStatus = "offline"
	StatusFaulted       AggregateStatus = "faulted"
)
