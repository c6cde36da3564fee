package cli

import (
	"fmt"
	"time"

	"github.com/neomantra/ymdflag"
)

// YMDFlag is a pflag.Value wrapping a YYYYMMDD date, for
// `cmd/engine backtest --start/--end`. Parsing accepts the bare 8-digit
// form; display formats through ymdflag's canonical YYYYMMDD conversion.
type YMDFlag struct {
	t time.Time
}

// NewYMDFlag constructs a YMDFlag pinned to t (zero value until Set).
func NewYMDFlag(t time.Time) YMDFlag { return YMDFlag{t: t} }

// Time returns the parsed date, UTC midnight.
func (f *YMDFlag) Time() time.Time { return f.t }

func (f *YMDFlag) String() string {
	if f.t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", ymdflag.TimeToYMD(f.t))
}

func (f *YMDFlag) Set(s string) error {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return fmt.Errorf("invalid YYYYMMDD date %q: %w", s, err)
	}
	f.t = t
	return nil
}

func (f *YMDFlag) Type() string { return "yyyymmdd" }
