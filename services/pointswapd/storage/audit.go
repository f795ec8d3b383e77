package storage

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"pointswap/native/exchange"
)

// Audit wraps the pointswapd persistence layer for settlement receipts, oracle
// history, and the asset payout queue.
type Audit struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Audit, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Audit{db: db}, nil
}

// Close releases database resources.
func (a *Audit) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// RecordReceipt persists a settlement receipt.
func (a *Audit) RecordReceipt(ctx context.Context, rec *exchange.Receipt) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("audit storage not configured")
	}
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("receipt incomplete")
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO receipts(id, owner, relayer, symbol, point_amount, gross_asset, net_asset,
            exchange_fee, operational_fee, point_rate, asset_rate, point_source, asset_source,
            delegated, created_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, rec.ID, hexAddr(rec.Owner), hexAddr(rec.Relayer), rec.Symbol,
		bigText(rec.PointAmount), bigText(rec.GrossAsset), bigText(rec.NetAsset),
		bigText(rec.ExchangeFee), bigText(rec.OperationalFee),
		bigText(rec.PointRate), bigText(rec.AssetRate),
		rec.PointSource.String(), rec.AssetSource.String(),
		rec.Delegated, rec.CreatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ReceiptRow is the stored form of a settlement receipt.
type ReceiptRow struct {
	ID             string
	Owner          string
	Relayer        string
	Symbol         string
	PointAmount    string
	GrossAsset     string
	NetAsset       string
	ExchangeFee    string
	OperationalFee string
	PointRate      string
	AssetRate      string
	PointSource    string
	AssetSource    string
	Delegated      bool
	CreatedAt      int64
}

// ListReceipts returns receipts newest first. A zero limit defaults to 100.
func (a *Audit) ListReceipts(ctx context.Context, symbol string, limit, offset int) ([]ReceiptRow, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("audit storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
        SELECT id, owner, relayer, symbol, point_amount, gross_asset, net_asset,
            exchange_fee, operational_fee, point_rate, asset_rate, point_source,
            asset_source, delegated, created_at
        FROM receipts`
	args := []interface{}{}
	if trimmed := strings.TrimSpace(symbol); trimmed != "" {
		query += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(trimmed))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	out := []ReceiptRow{}
	for rows.Next() {
		var row ReceiptRow
		if err := rows.Scan(&row.ID, &row.Owner, &row.Relayer, &row.Symbol,
			&row.PointAmount, &row.GrossAsset, &row.NetAsset,
			&row.ExchangeFee, &row.OperationalFee, &row.PointRate, &row.AssetRate,
			&row.PointSource, &row.AssetSource, &row.Delegated, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

// ExportReceiptsCSV streams every stored receipt to w in CSV form, oldest
// first, for offline reconciliation.
func (a *Audit) ExportReceiptsCSV(ctx context.Context, w io.Writer) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("audit storage not configured")
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT id, owner, relayer, symbol, point_amount, gross_asset, net_asset,
            exchange_fee, operational_fee, point_rate, asset_rate, point_source,
            asset_source, delegated, created_at
        FROM receipts
        ORDER BY created_at ASC, id ASC
    `)
	if err != nil {
		return fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	writer := csv.NewWriter(w)
	header := []string{"id", "owner", "relayer", "symbol", "point_amount", "gross_asset",
		"net_asset", "exchange_fee", "operational_fee", "point_rate", "asset_rate",
		"point_source", "asset_source", "delegated", "created_at"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for rows.Next() {
		var row ReceiptRow
		if err := rows.Scan(&row.ID, &row.Owner, &row.Relayer, &row.Symbol,
			&row.PointAmount, &row.GrossAsset, &row.NetAsset,
			&row.ExchangeFee, &row.OperationalFee, &row.PointRate, &row.AssetRate,
			&row.PointSource, &row.AssetSource, &row.Delegated, &row.CreatedAt); err != nil {
			return fmt.Errorf("scan receipt: %w", err)
		}
		record := []string{row.ID, row.Owner, row.Relayer, row.Symbol,
			row.PointAmount, row.GrossAsset, row.NetAsset,
			row.ExchangeFee, row.OperationalFee, row.PointRate, row.AssetRate,
			row.PointSource, row.AssetSource,
			strconv.FormatBool(row.Delegated),
			strconv.FormatInt(row.CreatedAt, 10)}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate receipts: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// RecordSample persists a raw rate observation from a single source.
func (a *Audit) RecordSample(ctx context.Context, ref, source string, rate *big.Rat, observed time.Time) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("audit storage not configured")
	}
	if rate == nil {
		return fmt.Errorf("sample missing rate")
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(ref, source, rate, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.TrimSpace(ref), strings.ToLower(strings.TrimSpace(source)),
		rate.FloatString(18), observed.UTC().Unix(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordRound stores the aggregated median round published to the resolver.
func (a *Audit) RecordRound(ctx context.Context, ref string, round exchange.PriceRoundData, sources []string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("audit storage not configured")
	}
	if round.Answer == nil {
		return fmt.Errorf("round missing answer")
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO oracle_rounds(ref, round_id, answer, sources, updated_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, strings.TrimSpace(ref), round.RoundID, round.Answer.String(),
		strings.Join(sources, ","), round.UpdatedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// RoundRow captures a published oracle round.
type RoundRow struct {
	Ref       string
	RoundID   uint64
	Answer    string
	Sources   []string
	UpdatedAt uint64
}

// LatestRound returns the most recently published round for the feed
// reference.
func (a *Audit) LatestRound(ctx context.Context, ref string) (RoundRow, error) {
	result := RoundRow{}
	if a == nil || a.db == nil {
		return result, fmt.Errorf("audit storage not configured")
	}
	row := a.db.QueryRowContext(ctx, `
        SELECT ref, round_id, answer, sources, updated_at
        FROM oracle_rounds
        WHERE ref = ?
        ORDER BY id DESC
        LIMIT 1
    `, strings.TrimSpace(ref))
	var sources string
	if err := row.Scan(&result.Ref, &result.RoundID, &result.Answer, &sources, &result.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return result, fmt.Errorf("round not found")
		}
		return result, fmt.Errorf("query round: %w", err)
	}
	if sources != "" {
		result.Sources = strings.Split(sources, ",")
	}
	return result, nil
}

// EnqueuePayout records an asset transfer owed to a recipient. Settlement of
// queued payouts happens out of band by the treasury operator.
func (a *Audit) EnqueuePayout(ctx context.Context, receiptID, symbol string, recipient exchange.Address, amount *big.Int) (int64, error) {
	if a == nil || a.db == nil {
		return 0, fmt.Errorf("audit storage not configured")
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("payout amount must be positive")
	}
	result, err := a.db.ExecContext(ctx, `
        INSERT INTO payouts(receipt_id, symbol, recipient, amount, status, created_at)
        VALUES(?, ?, ?, ?, 'pending', ?)
    `, strings.TrimSpace(receiptID), strings.ToUpper(strings.TrimSpace(symbol)),
		hexAddr(recipient), amount.String(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert payout: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("payout id: %w", err)
	}
	return id, nil
}

// PayoutRow is a queued asset transfer.
type PayoutRow struct {
	ID        int64
	ReceiptID string
	Symbol    string
	Recipient string
	Amount    string
	Status    string
	TxRef     string
	CreatedAt time.Time
}

// PendingPayouts lists queued payouts oldest first.
func (a *Audit) PendingPayouts(ctx context.Context, limit int) ([]PayoutRow, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("audit storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT id, receipt_id, symbol, recipient, amount, status, tx_ref, created_at
        FROM payouts
        WHERE status = 'pending'
        ORDER BY id ASC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()
	out := []PayoutRow{}
	for rows.Next() {
		var row PayoutRow
		if err := rows.Scan(&row.ID, &row.ReceiptID, &row.Symbol, &row.Recipient,
			&row.Amount, &row.Status, &row.TxRef, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return out, nil
}

// MarkPayoutSettled transitions a pending payout to settled, recording the
// external transaction reference.
func (a *Audit) MarkPayoutSettled(ctx context.Context, id int64, txRef string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("audit storage not configured")
	}
	result, err := a.db.ExecContext(ctx, `
        UPDATE payouts SET status = 'settled', tx_ref = ?, settled_at = ?
        WHERE id = ? AND status = 'pending'
    `, strings.TrimSpace(txRef), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("payout %d not pending", id)
	}
	return nil
}

func hexAddr(addr exchange.Address) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    relayer TEXT NOT NULL,
    symbol TEXT NOT NULL,
    point_amount TEXT NOT NULL,
    gross_asset TEXT NOT NULL,
    net_asset TEXT NOT NULL,
    exchange_fee TEXT NOT NULL,
    operational_fee TEXT NOT NULL,
    point_rate TEXT NOT NULL,
    asset_rate TEXT NOT NULL,
    point_source TEXT NOT NULL,
    asset_source TEXT NOT NULL,
    delegated BOOLEAN NOT NULL,
    created_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_symbol_ts ON receipts(symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_receipts_owner ON receipts(owner);

CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ref TEXT NOT NULL,
    source TEXT NOT NULL,
    rate TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_ref_ts ON oracle_samples(ref, observed_at);

CREATE TABLE IF NOT EXISTS oracle_rounds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ref TEXT NOT NULL,
    round_id INTEGER NOT NULL,
    answer TEXT NOT NULL,
    sources TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_rounds_ref_ts ON oracle_rounds(ref, updated_at);

CREATE TABLE IF NOT EXISTS payouts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    receipt_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    recipient TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    tx_ref TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    settled_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status, id);
`
