package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// AuctionRecord is an archived terminal auction.
type AuctionRecord struct {
	Hash                intent.Hash
	CanonicalIntent     []byte
	Status              string
	WinningSolver       string
	Venue               string
	FillPrice           string
	FeesBps             *int64
	ErrorCode           string
	ErrorMessage        string
	ExclusivityUntil    time.Time
	SettlementOutcome   string
	SettlementReference string
	// SettlementFees is the JSON fee breakdown, nil when no fee was applied.
	SettlementFees      []byte
	CreatedAt           time.Time
	FinishedAt          time.Time
	Quotes              []QuoteRecord
}

// QuoteRecord is one solver's final quote for an archived auction.
type QuoteRecord struct {
	SolverID     string
	Seq          int64
	Price        string
	Size         string
	FeeBps       int64
	FundingBps8h int64
	SlippageBps  int64
	Venue        string
	Chain        string
	Expiry       time.Time
	ReceivedAt   time.Time
}

// ArchiveAuction writes rec and its quotes in one transaction. A hash that
// is already archived is left untouched.
func (s *Store) ArchiveAuction(ctx context.Context, rec AuctionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive auction: %w", err)
	}
	defer tx.Rollback()

	var fees sql.NullInt64
	if rec.FeesBps != nil {
		fees = sql.NullInt64{Int64: *rec.FeesBps, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO auctions
		(intent_hash, canonical_intent, status, winning_solver, venue, fill_price, fees_bps,
		 error_code, error_message, exclusivity_until, settlement_outcome, settlement_reference,
		 settlement_fees, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_hash) DO NOTHING
	`,
		rec.Hash.String(),
		rec.CanonicalIntent,
		rec.Status,
		rec.WinningSolver,
		rec.Venue,
		rec.FillPrice,
		fees,
		rec.ErrorCode,
		rec.ErrorMessage,
		unixNano(rec.ExclusivityUntil),
		rec.SettlementOutcome,
		rec.SettlementReference,
		rec.SettlementFees,
		unixNano(rec.CreatedAt),
		unixNano(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("archive auction: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("archive auction: %w", err)
	} else if n == 0 {
		return nil
	}

	for _, q := range rec.Quotes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quotes
			(intent_hash, solver_id, seq, price, size, fee_bps, funding_bps_8h, slippage_bps,
			 venue, chain, expiry, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.Hash.String(),
			q.SolverID,
			q.Seq,
			q.Price,
			q.Size,
			q.FeeBps,
			q.FundingBps8h,
			q.SlippageBps,
			q.Venue,
			q.Chain,
			unixNano(q.Expiry),
			unixNano(q.ReceivedAt),
		)
		if err != nil {
			return fmt.Errorf("archive quote %s: %w", q.SolverID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive auction: %w", err)
	}
	return nil
}

// UpdateSettlement records a settlement outcome that resolved after the
// auction was archived.
func (s *Store) UpdateSettlement(ctx context.Context, hash intent.Hash, outcome, reference string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions SET settlement_outcome = ?, settlement_reference = ?
		WHERE intent_hash = ?
	`, outcome, reference, hash.String())
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasAuction reports whether hash is archived.
func (s *Store) HasAuction(ctx context.Context, hash intent.Hash) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM auctions WHERE intent_hash = ?`, hash.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has auction: %w", err)
	}
	return true, nil
}

// GetAuction reads an archived auction with its quotes in arrival order.
// Returns ErrNotFound when hash is not archived.
func (s *Store) GetAuction(ctx context.Context, hash intent.Hash) (*AuctionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT canonical_intent, status, winning_solver, venue, fill_price, fees_bps,
		       error_code, error_message, exclusivity_until, settlement_outcome,
		       settlement_reference, settlement_fees, created_at, finished_at
		FROM auctions WHERE intent_hash = ?
	`, hash.String())

	rec := AuctionRecord{Hash: hash}
	var fees sql.NullInt64
	var exclusivity, created, finished int64
	err := row.Scan(
		&rec.CanonicalIntent,
		&rec.Status,
		&rec.WinningSolver,
		&rec.Venue,
		&rec.FillPrice,
		&fees,
		&rec.ErrorCode,
		&rec.ErrorMessage,
		&exclusivity,
		&rec.SettlementOutcome,
		&rec.SettlementReference,
		&rec.SettlementFees,
		&created,
		&finished,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auction: %w", err)
	}
	if fees.Valid {
		rec.FeesBps = &fees.Int64
	}
	rec.ExclusivityUntil = fromUnixNano(exclusivity)
	rec.CreatedAt = fromUnixNano(created)
	rec.FinishedAt = fromUnixNano(finished)

	if rec.Quotes, err = s.ListQuotes(ctx, hash); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListQuotes returns the archived quotes for hash ordered by arrival.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListQuotes(ctx context.Context, hash intent.Hash) ([]QuoteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT solver_id, seq, price, size, fee_bps, funding_bps_8h, slippage_bps,
		       venue, chain, expiry, received_at
		FROM quotes
		WHERE intent_hash = ?
		ORDER BY seq ASC, solver_id COLLATE BINARY ASC
	`, hash.String())
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	quotes := []QuoteRecord{}
	for rows.Next() {
		var q QuoteRecord
		var expiry, received int64
		if err := rows.Scan(
			&q.SolverID, &q.Seq, &q.Price, &q.Size, &q.FeeBps, &q.FundingBps8h,
			&q.SlippageBps, &q.Venue, &q.Chain, &expiry, &received,
		); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		q.Expiry = fromUnixNano(expiry)
		q.ReceivedAt = fromUnixNano(received)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return quotes, nil
}

// CountAuctions returns the number of archived auctions with status, or
// all of them when status is empty.
func (s *Store) CountAuctions(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(*) FROM auctions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count auctions: %w", err)
	}
	return n, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
