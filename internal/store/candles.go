package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	segjson "github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

const candleSchema = `
CREATE TABLE IF NOT EXISTS candles (
    symbol    VARCHAR NOT NULL,
    exchange  VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    time      TIMESTAMP NOT NULL,
    payload   BLOB NOT NULL,
    PRIMARY KEY (symbol, exchange, timeframe, time)
);
`

// wireCandle is the JSON shape persisted (zstd-compressed) per row: decimals
// marshal as strings so no precision is lost round-tripping through duckdb.
type wireCandle struct {
	Open     string  `json:"open"`
	High     string  `json:"high"`
	Low      string  `json:"low"`
	Close    string  `json:"close"`
	AdjClose *string `json:"adj_close,omitempty"`
	Volume   string  `json:"volume"`
	IsFinal  bool    `json:"is_final"`
}

// CandleStore implements ports.CandleStore over duckdb: the per-(symbol,
// exchange) historical-candle OLAP namespace, keyed by (timeframe, time).
// This is a separate database/namespace from the sqlite-backed OLTP store
// used for strategies and the account audit log.
type CandleStore struct {
	db       *sql.DB
	exchange string
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCandleStore opens (or creates) the duckdb database at path and applies
// the schema. Every row belongs to exchange (the store's namespace prefix).
func NewCandleStore(path, exchange string) (*CandleStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, &domain.StoreError{Kind: domain.StoreErrorInit, Msg: fmt.Sprintf("open %q", path), Err: err}
	}
	if _, err := db.Exec(candleSchema); err != nil {
		db.Close()
		return nil, &domain.StoreError{Kind: domain.StoreErrorInit, Msg: "apply candle schema", Err: err}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, &domain.StoreError{Kind: domain.StoreErrorInit, Msg: "init zstd encoder", Err: err}
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, &domain.StoreError{Kind: domain.StoreErrorInit, Msg: "init zstd decoder", Err: err}
	}
	return &CandleStore{db: db, exchange: exchange, enc: enc, dec: dec}, nil
}

// Close releases the duckdb handle and zstd resources.
func (s *CandleStore) Close() error {
	s.dec.Close()
	return s.db.Close()
}

// Put compresses and upserts one candle row.
func (s *CandleStore) Put(ctx context.Context, symbol string, tf domain.TimeFrame, candle domain.Candle) error {
	payload, err := s.encode(candle)
	if err != nil {
		return &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "encode candle", Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, exchange, timeframe, time, payload)
		VALUES (?,?,?,?,?)`,
		symbol, s.exchange, string(tf), candle.Time.UTC(), payload,
	)
	if err != nil {
		return &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "put candle", Err: err}
	}
	return nil
}

// Get returns every candle for (symbol, timeframe) with time in [start,end],
// ascending by time, decompressed and decoded back to domain.Candle.
func (s *CandleStore) Get(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, payload FROM candles
		WHERE symbol=? AND exchange=? AND timeframe=? AND time BETWEEN ? AND ?
		ORDER BY time ASC`,
		symbol, s.exchange, string(tf), start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "query candles", Err: err}
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var t time.Time
		var payload []byte
		if err := rows.Scan(&t, &payload); err != nil {
			return nil, &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "scan candle row", Err: err}
		}
		candle, err := s.decode(t, payload)
		if err != nil {
			return nil, &domain.StoreError{Kind: domain.StoreErrorDatabase, Msg: "decode candle", Err: err}
		}
		out = append(out, candle)
	}
	return out, rows.Err()
}

func (s *CandleStore) encode(c domain.Candle) ([]byte, error) {
	w := wireCandle{
		Open: c.Open.String(), High: c.High.String(), Low: c.Low.String(), Close: c.Close.String(),
		Volume: c.Volume.String(), IsFinal: c.IsFinal,
	}
	if c.AdjClose != nil {
		s := c.AdjClose.String()
		w.AdjClose = &s
	}
	raw, err := segjson.Marshal(w)
	if err != nil {
		return nil, err
	}
	return s.enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func (s *CandleStore) decode(t time.Time, payload []byte) (domain.Candle, error) {
	raw, err := s.dec.DecodeAll(payload, nil)
	if err != nil {
		return domain.Candle{}, err
	}
	var w wireCandle
	if err := segjson.Unmarshal(raw, &w); err != nil {
		return domain.Candle{}, err
	}
	candle := domain.Candle{Time: t, IsFinal: w.IsFinal}
	candle.Open, err = decimal.NewFromString(w.Open)
	if err != nil {
		return domain.Candle{}, err
	}
	candle.High, err = decimal.NewFromString(w.High)
	if err != nil {
		return domain.Candle{}, err
	}
	candle.Low, err = decimal.NewFromString(w.Low)
	if err != nil {
		return domain.Candle{}, err
	}
	candle.Close, err = decimal.NewFromString(w.Close)
	if err != nil {
		return domain.Candle{}, err
	}
	candle.Volume, err = decimal.NewFromString(w.Volume)
	if err != nil {
		return domain.Candle{}, err
	}
	if w.AdjClose != nil {
		adj, err := decimal.NewFromString(*w.AdjClose)
		if err != nil {
			return domain.Candle{}, err
		}
		candle.AdjClose = &adj
	}
	return candle, nil
}

