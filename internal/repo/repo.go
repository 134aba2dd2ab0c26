package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worktime/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// StoredRun is a report run together with its workbook.
type StoredRun struct {
	domain.ReportRun
	Content []byte
}

// InsertRun stores a run inside tx so the run and its audit event land together.
func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run StoredRun) error {
	periods, err := json.Marshal(run.Periods)
	if err != nil {
		return fmt.Errorf("marshal periods: %w", err)
	}
	sheets, err := json.Marshal(nonNil(run.Sheets))
	if err != nil {
		return fmt.Errorf("marshal sheets: %w", err)
	}
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO report_runs(id,created_at,status_name,filename,periods_json,item_count,sheets_json,warnings_json,content) VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.CreatedAt, run.Status, run.Filename, string(periods), run.ItemCount, string(sheets), string(warnings), run.Content)
	return err
}

const runColumns = `id,created_at,status_name,filename,periods_json,item_count,sheets_json,warnings_json,downloaded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, extra ...any) (domain.ReportRun, error) {
	var run domain.ReportRun
	var periods, sheets, warnings string
	var downloaded sql.NullString
	dest := append([]any{&run.ID, &run.CreatedAt, &run.Status, &run.Filename, &periods, &run.ItemCount, &sheets, &warnings, &downloaded}, extra...)
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, ErrNotFound
		}
		return run, err
	}
	if err := json.Unmarshal([]byte(periods), &run.Periods); err != nil {
		return run, fmt.Errorf("decode periods of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(sheets), &run.Sheets); err != nil {
		return run, fmt.Errorf("decode sheets of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return run, fmt.Errorf("decode warnings of run %s: %w", run.ID, err)
	}
	if downloaded.Valid {
		run.DownloadedAt = &downloaded.String
	}
	return run, nil
}

// GetRun loads a run and its workbook; Content is nil once downloaded.
func (r Repo) GetRun(ctx context.Context, id string) (StoredRun, error) {
	var content []byte
	run, err := scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+`,content FROM report_runs WHERE id=?`, id), &content)
	if err != nil {
		return StoredRun{}, err
	}
	return StoredRun{ReportRun: run, Content: content}, nil
}

// ListRuns returns the latest runs first.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.ReportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM report_runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReportRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// TakeRunContent returns the workbook of a run and purges it in the same
// transaction, so each workbook is handed out at most once.
func (r Repo) TakeRunContent(ctx context.Context, tx *sql.Tx, id string, at time.Time) (StoredRun, error) {
	var content []byte
	run, err := scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+`,content FROM report_runs WHERE id=?`, id), &content)
	if err != nil {
		return StoredRun{}, err
	}
	if content == nil {
		return StoredRun{ReportRun: run}, nil
	}
	ts := at.UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `UPDATE report_runs SET content=NULL, downloaded_at=? WHERE id=?`, ts, id); err != nil {
		return StoredRun{}, err
	}
	run.DownloadedAt = &ts
	return StoredRun{ReportRun: run, Content: content}, nil
}

// GetCachedHistory returns cached status events fetched after notBefore.
func (r Repo) GetCachedHistory(ctx context.Context, key string, notBefore time.Time) ([]domain.StatusEvent, error) {
	var data, fetched string
	err := r.DB.QueryRowContext(ctx, `SELECT events_json,fetched_at FROM history_cache WHERE cache_key=?`, key).Scan(&data, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, fetched)
	if err != nil || ts.Before(notBefore) {
		return nil, ErrNotFound
	}
	var events []domain.StatusEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, fmt.Errorf("decode cached history %s: %w", key, err)
	}
	return events, nil
}

func (r Repo) PutCachedHistory(ctx context.Context, key string, events []domain.StatusEvent, fetchedAt time.Time) error {
	data, err := json.Marshal(nonNil(events))
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO history_cache(cache_key,events_json,fetched_at) VALUES (?,?,?)
ON CONFLICT(cache_key) DO UPDATE SET events_json=excluded.events_json, fetched_at=excluded.fetched_at`,
		key, string(data), fetchedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// LatestEvents returns the newest audit events first.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	args := []any{}
	if evtType != "" {
		query += ` WHERE type=?`
		args = append(args, evtType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
