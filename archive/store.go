// Package archive persists finished runs and their outcomes to SQLite so they
// can be listed and inspected after the process exits.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/internal/util"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/results"
	"github.com/teranos/upilookup/sym"
)

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 20

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is an archived run summary.
type Run struct {
	ID             string          `json:"id"`
	Status         async.RunStatus `json:"status"`
	Source         string          `json:"source,omitempty"`
	TotalItems     int             `json:"total_items"`
	ProcessedCount int             `json:"processed_count"`
	SuccessCount   int             `json:"success_count"`
	FailureCount   int             `json:"failure_count"`
	CancelledCount int             `json:"cancelled_count"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	ArchivedAt     time.Time       `json:"archived_at"`
}

// SuccessRate is successful lookups as a percentage of processed items.
func (r Run) SuccessRate() float64 {
	if r.ProcessedCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.ProcessedCount) * 100
}

// Store handles persistence of finished runs
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewStore creates a new archive store. db must already be migrated.
func NewStore(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: log.Named("archive"), now: time.Now}
}

// SaveRun writes a terminal run and all of its outcomes in one transaction.
func (s *Store) SaveRun(ctx context.Context, state async.JobState, entries []results.Entry, source string) error {
	if !state.Status.IsTerminal() {
		return errors.Mark(errors.Newf("cannot archive run %s while %s", state.RunID, state.Status), errors.ErrInvalidRequest)
	}
	if state.RunID == "" {
		return errors.NewInvalidRequestError("cannot archive a run without an id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin archive tx for run %s", state.RunID)
	}
	defer tx.Rollback()

	var finishedAt interface{}
	if state.FinishedAt != nil {
		finishedAt = state.FinishedAt.UTC().Format(timeFormat)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, status, total_items, processed_count, success_count,
			failure_count, cancelled_count, source, started_at, finished_at, archived_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.RunID,
		string(state.Status),
		state.TotalItems,
		state.ProcessedCount,
		state.SuccessCount,
		state.FailureCount,
		state.CancelledCount,
		source,
		state.StartedAt.UTC().Format(timeFormat),
		finishedAt,
		s.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", state.RunID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (
			run_id, phone_number, sequence_index, kind, reason, attempts, handle,
			upi_id, account_holder_name, bank_name, ifsc, raw_response, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare outcome insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		var upiID, holder, bank, ifsc, raw interface{}
		if rec := e.Outcome.Record; rec != nil {
			upiID, holder, bank = rec.UpiID, rec.AccountHolderName, rec.BankName
			if rec.IFSC != nil {
				ifsc = *rec.IFSC
			}
			if len(rec.RawResponse) > 0 {
				raw = string(rec.RawResponse)
			}
		}

		_, err := stmt.ExecContext(ctx,
			state.RunID,
			e.PhoneNumber,
			e.SequenceIndex,
			string(e.Outcome.Kind),
			e.Outcome.Reason,
			e.Outcome.Attempts,
			e.Outcome.Handle,
			upiID,
			holder,
			bank,
			ifsc,
			raw,
			e.RecordedAt.UTC().Format(timeFormat),
		)
		if err != nil {
			return errors.Wrapf(err, "insert outcome for %s", e.PhoneNumber)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit run %s", state.RunID)
	}

	s.logger.Infow(sym.DB+" Run archived",
		logger.FieldRunID, state.RunID,
		logger.FieldStatus, state.Status,
		logger.FieldCount, len(entries))
	return nil
}

const runColumns = `id, status, source, total_items, processed_count, success_count,
	failure_count, cancelled_count, started_at, finished_at, archived_at`

// ListRuns returns the most recent runs first. limit <= 0 uses DefaultListLimit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return runs, nil
}

// GetRun retrieves a run by ID. Returns an error marked ErrNotFound if absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(errors.Newf("run %s not found", id), errors.ErrNotFound)
		}
		return nil, err
	}
	return run, nil
}

// ListOutcomes returns a run's outcomes in input order, optionally filtered by kind.
func (s *Store) ListOutcomes(ctx context.Context, runID string, kinds ...lookup.OutcomeKind) ([]results.Entry, error) {
	query := `
		SELECT phone_number, sequence_index, kind, reason, attempts, handle,
		       upi_id, account_holder_name, bank_name, ifsc, raw_response, recorded_at
		FROM outcomes WHERE run_id = ?`
	args := []interface{}{runID}
	if len(kinds) > 0 {
		query += " AND kind IN (?" + strings.Repeat(",?", len(kinds)-1) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += " ORDER BY sequence_index"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list outcomes for run %s", runID)
	}
	defer rows.Close()

	var entries []results.Entry
	for rows.Next() {
		var (
			e                              results.Entry
			kind, recordedAt               string
			upiID, holder, bank, ifsc, raw sql.NullString
		)
		err := rows.Scan(&e.PhoneNumber, &e.SequenceIndex, &kind, &e.Outcome.Reason,
			&e.Outcome.Attempts, &e.Outcome.Handle, &upiID, &holder, &bank, &ifsc, &raw, &recordedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scan outcome")
		}

		if e.Outcome.Kind, err = lookup.ParseKind(kind); err != nil {
			return nil, errors.Wrapf(err, "outcome for %s", e.PhoneNumber)
		}
		if e.RecordedAt, err = time.Parse(timeFormat, recordedAt); err != nil {
			return nil, errors.Wrapf(err, "parse recorded_at for %s", e.PhoneNumber)
		}
		if e.Outcome.Kind == lookup.KindSuccess {
			rec := &lookup.UpiRecord{
				PhoneNumber:       e.PhoneNumber,
				UpiID:             upiID.String,
				AccountHolderName: holder.String,
				BankName:          bank.String,
				Handle:            e.Outcome.Handle,
			}
			if ifsc.Valid {
				rec.IFSC = util.Ptr(ifsc.String)
			}
			if raw.Valid && json.Valid([]byte(raw.String)) {
				rec.RawResponse = json.RawMessage(raw.String)
			}
			e.Outcome.Record = rec
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate outcomes")
	}
	return entries, nil
}

// BankDistribution counts a run's successful outcomes per bank, largest first.
func (s *Store) BankDistribution(ctx context.Context, runID string) ([]results.BankCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bank_name, COUNT(*) AS n FROM outcomes
		WHERE run_id = ? AND kind = ?
		GROUP BY bank_name
		ORDER BY n DESC, MIN(sequence_index)`, runID, string(lookup.KindSuccess))
	if err != nil {
		return nil, errors.Wrapf(err, "bank distribution for run %s", runID)
	}
	defer rows.Close()

	var out []results.BankCount
	for rows.Next() {
		var bc results.BankCount
		var bank sql.NullString
		if err := rows.Scan(&bank, &bc.Count); err != nil {
			return nil, errors.Wrap(err, "scan bank count")
		}
		bc.Bank = bank.String
		out = append(out, bc)
	}
	return out, errors.Wrap(rows.Err(), "iterate bank counts")
}

// DeleteRun removes a run and its outcomes.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Mark(errors.Newf("run %s not found", id), errors.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                   Run
		status                string
		startedAt, archivedAt string
		finishedAt            sql.NullString
	)
	err := sc.Scan(&run.ID, &status, &run.Source, &run.TotalItems, &run.ProcessedCount,
		&run.SuccessCount, &run.FailureCount, &run.CancelledCount, &startedAt, &finishedAt, &archivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan run")
	}

	run.Status = async.RunStatus(status)
	if run.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return nil, errors.Wrapf(err, "parse started_at for run %s", run.ID)
	}
	if run.ArchivedAt, err = time.Parse(timeFormat, archivedAt); err != nil {
		return nil, errors.Wrapf(err, "parse archived_at for run %s", run.ID)
	}
	if finishedAt.Valid {
		t, err := time.Parse(timeFormat, finishedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse finished_at for run %s", run.ID)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

