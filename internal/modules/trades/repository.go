package trades

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
)

// tradeColumns is the list of columns for the trades table.
// Column order must match scanTrade() expectations.
const tradeColumns = `trade_number, user_id, config_id, alert_id,
	symbol, timeframe, strategy, signal,
	entry_price, take_profit_price, stop_loss_price, exit_price, exit_reason,
	status, opened_at, closed_at, replaced_at, replaced_by, replacement_reason,
	pnl_amount, pnl_percentage, pnl_currency`

// Repository handles trade database operations. Rows are append-mostly:
// a trade is created once and leaves the open state exactly once, through
// a compare-and-swap against its prior status.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new trade repository.
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  ledgerDB,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// Create inserts a new open trade.
func (r *Repository) Create(t *domain.Trade) error {
	if t.TradeNumber < 1 {
		return domain.NewValidationError("trade number must be positive", "trade_number")
	}
	if t.Status == "" {
		t.Status = domain.TradeStatusOpen
	}

	_, err := r.db.Exec(`
		INSERT INTO trades
		(trade_number, user_id, config_id, alert_id,
		 symbol, timeframe, strategy, signal,
		 entry_price, take_profit_price, stop_loss_price,
		 status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.TradeNumber, t.UserID, t.ConfigID, t.AlertID,
		t.Symbol, string(t.Timeframe), t.Strategy, string(t.Signal),
		t.EntryPrice, t.TakeProfitPrice, t.StopLossPrice,
		string(t.Status), t.OpenedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trade %d: %w", t.TradeNumber, err)
	}

	return nil
}

// GetByNumber returns one trade.
func (r *Repository) GetByNumber(tradeNumber int64) (*domain.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE trade_number = ?"

	t, err := scanTrade(r.db.QueryRow(query, tradeNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("trade", tradeNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", tradeNumber, err)
	}

	return t, nil
}

// OpenTrades returns the open trades for a (user, config) pair, oldest first.
func (r *Repository) OpenTrades(userID string, configID int64) ([]domain.Trade, error) {
	query := "SELECT " + tradeColumns + ` FROM trades
		WHERE user_id = ? AND config_id = ? AND status = ?
		ORDER BY opened_at ASC, trade_number ASC`

	return r.queryTrades(query, userID, configID, string(domain.TradeStatusOpen))
}

// OpenForExit returns the open trades an untargeted exit signal closes:
// those matching (user, config, symbol, strategy), oldest first.
func (r *Repository) OpenForExit(userID string, configID int64, symbol, strategy string) ([]domain.Trade, error) {
	query := "SELECT " + tradeColumns + ` FROM trades
		WHERE user_id = ? AND config_id = ? AND symbol = ? AND strategy = ? AND status = ?
		ORDER BY opened_at ASC, trade_number ASC`

	return r.queryTrades(query, userID, configID, symbol, strategy, string(domain.TradeStatusOpen))
}

// Close transitions a trade from open to closed with a compare-and-swap,
// recording the exit and realized P&L. A Conflict error means the trade was
// not open.
func (r *Repository) Close(tradeNumber int64, exitPrice float64, reason domain.ExitReason,
	closedAt time.Time, pnl *domain.PnL) error {

	var pnlAmount, pnlPct any
	var pnlCurrency any
	if pnl != nil {
		pnlAmount, pnlPct, pnlCurrency = pnl.Amount, pnl.Percentage, pnl.Currency
	}

	res, err := r.db.Exec(`
		UPDATE trades SET
			status = ?, exit_price = ?, exit_reason = ?, closed_at = ?,
			pnl_amount = ?, pnl_percentage = ?, pnl_currency = ?
		WHERE trade_number = ? AND status = ?
	`,
		string(domain.TradeStatusClosed), exitPrice, string(reason), closedAt.UTC(),
		pnlAmount, pnlPct, pnlCurrency,
		tradeNumber, string(domain.TradeStatusOpen),
	)
	if err != nil {
		return fmt.Errorf("failed to close trade %d: %w", tradeNumber, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close for trade %d: %w", tradeNumber, err)
	}
	if affected == 0 {
		return domain.NewConflict(fmt.Sprintf("trade %d is not open", tradeNumber))
	}

	return nil
}

// MarkReplaced transitions a trade from open to replaced with a
// compare-and-swap. P&L stays undefined for replaced trades.
func (r *Repository) MarkReplaced(tradeNumber, replacedBy int64, reason string, at time.Time) error {
	res, err := r.db.Exec(`
		UPDATE trades SET
			status = ?, replaced_by = ?, replacement_reason = ?, replaced_at = ?
		WHERE trade_number = ? AND status = ?
	`,
		string(domain.TradeStatusReplaced), replacedBy, reason, at.UTC(),
		tradeNumber, string(domain.TradeStatusOpen),
	)
	if err != nil {
		return fmt.Errorf("failed to mark trade %d replaced: %w", tradeNumber, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check replacement for trade %d: %w", tradeNumber, err)
	}
	if affected == 0 {
		return domain.NewConflict(fmt.Sprintf("trade %d is not open", tradeNumber))
	}

	return nil
}

// List returns trades newest first, optionally filtered by user and status.
func (r *Repository) List(userID string, status domain.TradeStatus, limit int) ([]domain.Trade, error) {
	if limit < 1 {
		limit = 50
	}

	query := "SELECT " + tradeColumns + " FROM trades WHERE 1=1"
	var args []any
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY trade_number DESC LIMIT ?"
	args = append(args, limit)

	return r.queryTrades(query, args...)
}

// CountByStatus returns the number of trades per lifecycle status.
func (r *Repository) CountByStatus() (map[domain.TradeStatus]int64, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM trades GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count trades: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.TradeStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan trade count: %w", err)
		}
		result[domain.TradeStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade counts: %w", err)
	}

	return result, nil
}

func (r *Repository) queryTrades(query string, args ...any) ([]domain.Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var result []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(s rowScanner) (*domain.Trade, error) {
	var t domain.Trade
	var openedAt time.Time
	var exitReason, replacementReason, pnlCurrency sql.NullString
	var closedAt, replacedAt sql.NullTime
	var replacedBy sql.NullInt64
	var pnlAmount, pnlPct sql.NullFloat64

	err := s.Scan(
		&t.TradeNumber, &t.UserID, &t.ConfigID, &t.AlertID,
		&t.Symbol, &t.Timeframe, &t.Strategy, &t.Signal,
		&t.EntryPrice, &t.TakeProfitPrice, &t.StopLossPrice, &t.ExitPrice, &exitReason,
		&t.Status, &openedAt, &closedAt, &replacedAt, &replacedBy, &replacementReason,
		&pnlAmount, &pnlPct, &pnlCurrency,
	)
	if err != nil {
		return nil, err
	}

	t.OpenedAt = openedAt.UTC()
	if exitReason.Valid {
		reason := domain.ExitReason(exitReason.String)
		t.ExitReason = &reason
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		t.ClosedAt = &at
	}
	if replacedAt.Valid {
		at := replacedAt.Time.UTC()
		t.ReplacedAt = &at
	}
	if replacedBy.Valid {
		t.ReplacedBy = &replacedBy.Int64
	}
	if replacementReason.Valid {
		t.ReplacementReason = &replacementReason.String
	}
	if pnlAmount.Valid {
		t.PnL = &domain.PnL{
			Amount:     pnlAmount.Float64,
			Percentage: pnlPct.Float64,
			Currency:   pnlCurrency.String,
		}
	}

	return &t, nil
}
