package intake

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/utils"
)

// alertColumns is the list of columns for the incoming_alerts table.
// Column order must match scanAlert() expectations.
const alertColumns = `id, received_at, source_ip, fingerprint,
	symbol, timeframe, strategy, signal, price, take_profit_price, stop_loss_price,
	payload_timestamp, trade_number, metadata,
	status, matched_config_ids, matched_users, trade_actions, errors, processing_ms`

// Repository handles incoming alert database operations. Rows are created
// once; only the processing fields advance, and only until a terminal
// status is reached.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new incoming alert repository.
func NewRepository(intakeDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  intakeDB,
		log: log.With().Str("repo", "incoming_alerts").Logger(),
	}
}

// Create inserts a new incoming alert record.
func (r *Repository) Create(a *domain.IncomingAlert) error {
	metadata, err := json.Marshal(a.Data.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal alert metadata: %w", err)
	}
	if a.Status == "" {
		a.Status = domain.ProcessingReceived
	}

	_, err = r.db.Exec(`
		INSERT INTO incoming_alerts
		(id, received_at, source_ip, fingerprint,
		 symbol, timeframe, strategy, signal, price, take_profit_price, stop_loss_price,
		 payload_timestamp, trade_number, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ReceivedAt.UTC(), a.SourceIP, a.Fingerprint,
		a.Data.Symbol, string(a.Data.Timeframe), a.Data.Strategy, string(a.Data.Signal),
		a.Data.Price, a.Data.TakeProfitPrice, a.Data.StopLossPrice,
		timePtrUTC(a.Data.Timestamp), a.Data.TradeNumber, string(metadata),
		string(a.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to create incoming alert %s: %w", a.ID, err)
	}

	return nil
}

// GetByID returns one incoming alert.
func (r *Repository) GetByID(id string) (*domain.IncomingAlert, error) {
	query := "SELECT " + alertColumns + " FROM incoming_alerts WHERE id = ?"

	a, err := scanAlert(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFound("incoming alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incoming alert %s: %w", id, err)
	}

	return a, nil
}

// AdvanceStatus moves an alert from one processing status to the next with
// a compare-and-swap. A Conflict error means the row was not in the
// expected status, so the caller lost the race or the alert is terminal.
func (r *Repository) AdvanceStatus(id string, from, to domain.ProcessingStatus) error {
	if from.Terminal() {
		return domain.NewConflict(fmt.Sprintf("incoming alert %s is already %s", id, from))
	}

	res, err := r.db.Exec(
		"UPDATE incoming_alerts SET status = ? WHERE id = ? AND status = ?",
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to advance incoming alert %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status advance for %s: %w", id, err)
	}
	if affected == 0 {
		return domain.NewConflict(fmt.Sprintf("incoming alert %s not in status %s", id, from))
	}

	return nil
}

// Finish records the processing outcome and moves the alert from
// processing to its terminal status (processed or failed).
func (r *Repository) Finish(id string, terminal domain.ProcessingStatus,
	matchedConfigIDs []int64, matchedUsers []string,
	actions []domain.TradeAction, errs []string, processingMs int64) error {

	if !terminal.Terminal() {
		return domain.NewValidationError(fmt.Sprintf("%s is not a terminal status", terminal), "status")
	}

	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal trade actions: %w", err)
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	res, err := r.db.Exec(`
		UPDATE incoming_alerts SET
			status = ?,
			matched_config_ids = ?,
			matched_users = ?,
			trade_actions = ?,
			errors = ?,
			processing_ms = ?
		WHERE id = ? AND status = ?
	`,
		string(terminal),
		joinInt64s(matchedConfigIDs),
		utils.JoinCSV(matchedUsers),
		string(actionsJSON),
		string(errsJSON),
		processingMs,
		id, string(domain.ProcessingProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to finish incoming alert %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish for %s: %w", id, err)
	}
	if affected == 0 {
		return domain.NewConflict(fmt.Sprintf("incoming alert %s not in status processing", id))
	}

	return nil
}

// ListRecent returns the newest alerts first, up to limit.
func (r *Repository) ListRecent(limit int) ([]domain.IncomingAlert, error) {
	if limit < 1 {
		limit = 50
	}

	query := "SELECT " + alertColumns + " FROM incoming_alerts ORDER BY received_at DESC LIMIT ?"

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming alerts: %w", err)
	}
	defer rows.Close()

	var result []domain.IncomingAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incoming alert: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incoming alerts: %w", err)
	}

	return result, nil
}

// CountByStatus returns the number of alerts per processing status.
func (r *Repository) CountByStatus() (map[domain.ProcessingStatus]int64, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM incoming_alerts GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count incoming alerts: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.ProcessingStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		result[domain.ProcessingStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(s rowScanner) (*domain.IncomingAlert, error) {
	var a domain.IncomingAlert
	var receivedAt time.Time
	var payloadTS sql.NullTime
	var tradeNumber sql.NullInt64
	var metadata, matchedConfigIDs, matchedUsers, actionsJSON, errsJSON string

	err := s.Scan(
		&a.ID, &receivedAt, &a.SourceIP, &a.Fingerprint,
		&a.Data.Symbol, &a.Data.Timeframe, &a.Data.Strategy, &a.Data.Signal,
		&a.Data.Price, &a.Data.TakeProfitPrice, &a.Data.StopLossPrice,
		&payloadTS, &tradeNumber, &metadata,
		&a.Status, &matchedConfigIDs, &matchedUsers, &actionsJSON, &errsJSON, &a.ProcessingMs,
	)
	if err != nil {
		return nil, err
	}

	a.ReceivedAt = receivedAt.UTC()
	if payloadTS.Valid {
		t := payloadTS.Time.UTC()
		a.Data.Timestamp = &t
	}
	if tradeNumber.Valid {
		a.Data.TradeNumber = &tradeNumber.Int64
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &a.Data.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert metadata: %w", err)
		}
	}
	a.MatchedConfigIDs = parseInt64s(matchedConfigIDs)
	a.MatchedUsers = utils.ParseCSV(matchedUsers)
	if err := json.Unmarshal([]byte(actionsJSON), &a.TradeActions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trade actions: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &a.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert errors: %w", err)
	}

	return &a, nil
}

func joinInt64s(values []int64) string {
	strs := make([]string, 0, len(values))
	for _, v := range values {
		strs = append(strs, strconv.FormatInt(v, 10))
	}
	return utils.JoinCSV(strs)
}

func parseInt64s(csv string) []int64 {
	var result []int64
	for _, s := range utils.ParseCSV(csv) {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			result = append(result, v)
		}
	}
	return result
}

func timePtrUTC(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
