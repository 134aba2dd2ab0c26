// Package app runs report generations end to end: it resolves item
// histories, runs the engine, renders the workbook and records the run.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"worktime/internal/cache"
	"worktime/internal/domain"
	"worktime/internal/engine"
	"worktime/internal/events"
	"worktime/internal/repo"
	"worktime/internal/tracker"
	"worktime/internal/upload"
	"worktime/internal/xlsx"
)

// ErrAlreadyDownloaded is returned for a report whose workbook was handed out before.
var ErrAlreadyDownloaded = errors.New("report already downloaded")

// Tracker is the part of the tracker API the service needs.
type Tracker interface {
	ListWorkspaces(ctx context.Context, session string) ([]domain.Workspace, error)
	ListWorkItems(ctx context.Context, session, workspaceID string) ([]domain.WorkItem, error)
	StatusHistory(ctx context.Context, session string, item domain.WorkItem) ([]domain.StatusEvent, error)
}

type Service struct {
	Engine      engine.Engine
	Tracker     Tracker
	Cache       cache.HistoryCache
	Repo        repo.Repo
	Log         logrus.FieldLogger
	Concurrency int
	Filename    string
	Now         func() time.Time
}

// Request asks for one report. Items without an embedded history are
// fetched from the tracker with SessionCookie.
type Request struct {
	Items         []upload.Item
	Periods       []domain.PeriodInput
	Status        string
	SessionCookie string
	OpenInterval  engine.OpenIntervalPolicy
	Order         engine.RowOrder
}

// Outcome is a generated and stored report.
type Outcome struct {
	Run     domain.ReportRun
	Report  domain.Report
	Content []byte
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// Generate builds a report, renders it and stores the run for a later download.
func (s *Service) Generate(ctx context.Context, req Request) (Outcome, error) {
	work, evs, embedded := upload.Split(req.Items)
	in := engine.Input{
		Items:        work,
		Periods:      req.Periods,
		Status:       req.Status,
		OpenInterval: req.OpenInterval,
		Order:        req.Order,
	}
	// Reject bad requests before calling the tracker.
	if valid, _ := engine.ValidPeriods(s.Engine.Calendar, req.Periods); len(valid) == 0 || len(work) == 0 || strings.TrimSpace(req.Status) == "" {
		_, err := s.Engine.GenerateReport(in)
		if err == nil {
			err = fmt.Errorf("report request rejected")
		}
		return Outcome{}, err
	}

	fetched, warnings, err := s.resolveHistories(ctx, req.SessionCookie, work, embedded)
	if err != nil {
		return Outcome{}, err
	}
	in.Events = append(evs, fetched...)

	res, err := s.Engine.GenerateReport(in)
	if err != nil {
		return Outcome{}, err
	}
	report := res.Report
	report.Warnings = append(warnings, report.Warnings...)

	content, err := xlsx.Bytes(report)
	if err != nil {
		return Outcome{}, fmt.Errorf("render workbook: %w", err)
	}
	run := domain.ReportRun{
		ID:        uuid.New().String(),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		Status:    report.Status,
		Filename:  s.filename(),
		Periods:   res.Periods,
		ItemCount: itemCount(report),
		Sheets:    sheets(report),
		Warnings:  report.Warnings,
	}
	if err := s.store(ctx, run, content); err != nil {
		return Outcome{}, err
	}
	s.log().WithFields(logrus.Fields{
		"report":   run.ID,
		"items":    run.ItemCount,
		"periods":  len(run.Periods),
		"warnings": len(run.Warnings),
	}).Info("report generated")
	return Outcome{Run: run, Report: report, Content: content}, nil
}

func (s *Service) store(ctx context.Context, run domain.ReportRun, content []byte) error {
	if s.Repo.DB == nil {
		return nil
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertRun(ctx, tx, repo.StoredRun{ReportRun: run, Content: content}); err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	if err := s.eventWriter().Append(ctx, tx, events.ReportGenerated, "report", run.ID, events.EventPayload{
		"status":   run.Status,
		"items":    run.ItemCount,
		"sheets":   run.Sheets,
		"warnings": len(run.Warnings),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type fetchResult struct {
	events  []domain.StatusEvent
	warning string
}

// resolveHistories loads the histories of items that did not bring their
// own, from the cache first and then from the tracker. A failure for one item
// becomes a warning; a rejected session fails the whole request.
func (s *Service) resolveHistories(ctx context.Context, session string, items []domain.WorkItem, embedded map[string]bool) ([]domain.StatusEvent, []string, error) {
	var todo []domain.WorkItem
	seen := map[string]bool{}
	for _, it := range items {
		if strings.TrimSpace(it.Key) == "" || embedded[it.Key] || seen[it.Key] {
			continue
		}
		seen[it.Key] = true
		todo = append(todo, it)
	}
	if len(todo) == 0 {
		return nil, nil, nil
	}
	if session == "" || s.Tracker == nil {
		var warnings []string
		for _, it := range todo {
			warnings = append(warnings, fmt.Sprintf("item %s has no history and no tracker session was given", it.Key))
		}
		return nil, warnings, nil
	}

	results := make([]fetchResult, len(todo))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(s.concurrency())
	for i, it := range todo {
		p.Go(func(ctx context.Context) error {
			evs, err := s.history(ctx, session, it)
			if err == nil {
				results[i].events = evs
				return nil
			}
			if errors.Is(err, tracker.ErrUnauthorized) {
				return err
			}
			s.log().WithError(err).WithField("item", it.Key).Warn("history fetch failed")
			results[i].warning = fmt.Sprintf("history of %s could not be loaded: %v", it.Key, err)
			s.recordFetchFailure(ctx, it, err)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, nil, err
	}

	var all []domain.StatusEvent
	var warnings []string
	for _, r := range results {
		all = append(all, r.events...)
		if r.warning != "" {
			warnings = append(warnings, r.warning)
		}
	}
	return all, warnings, nil
}

func (s *Service) history(ctx context.Context, session string, item domain.WorkItem) ([]domain.StatusEvent, error) {
	key := cache.Key(item)
	if s.Cache != nil {
		evs, ok, err := s.Cache.Get(ctx, key)
		if err != nil {
			s.log().WithError(err).WithField("item", item.Key).Debug("history cache read failed")
		} else if ok {
			return rekey(evs, item.Key), nil
		}
	}
	evs, err := s.Tracker.StatusHistory(ctx, session, item)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, key, evs); err != nil {
			s.log().WithError(err).WithField("item", item.Key).Debug("history cache write failed")
		}
	}
	return evs, nil
}

func (s *Service) recordFetchFailure(ctx context.Context, item domain.WorkItem, cause error) {
	if s.Repo.DB == nil {
		return
	}
	err := s.eventWriter().Append(ctx, s.Repo.DB, events.HistoryFetchFail, "workitem", item.Key, events.EventPayload{
		"workspace_id": item.WorkspaceID,
		"workitem_id":  item.WorkItemID,
		"error":        cause.Error(),
	})
	if err != nil {
		s.log().WithError(err).Debug("record fetch failure")
	}
}

// Download hands out the workbook of a run once and purges it.
func (s *Service) Download(ctx context.Context, id string) (domain.ReportRun, []byte, error) {
	if s.Repo.DB == nil {
		return domain.ReportRun{}, nil, repo.ErrNotFound
	}
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReportRun{}, nil, err
	}
	defer tx.Rollback()
	run, err := s.Repo.TakeRunContent(ctx, tx, id, s.now())
	if err != nil {
		return domain.ReportRun{}, nil, err
	}
	if run.Content == nil {
		return run.ReportRun, nil, ErrAlreadyDownloaded
	}
	if err := s.eventWriter().Append(ctx, tx, events.ReportDownloaded, "report", id, nil); err != nil {
		return domain.ReportRun{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReportRun{}, nil, err
	}
	s.log().WithField("report", id).Info("report downloaded")
	return run.ReportRun, run.Content, nil
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.ReportRun, error) {
	if s.Repo.DB == nil {
		return []domain.ReportRun{}, nil
	}
	return s.Repo.ListRuns(ctx, limit)
}

func (s *Service) Workspaces(ctx context.Context, session string) ([]domain.Workspace, error) {
	return s.Tracker.ListWorkspaces(ctx, session)
}

func (s *Service) WorkItems(ctx context.Context, session, workspaceID string) ([]domain.WorkItem, error) {
	return s.Tracker.ListWorkItems(ctx, session, workspaceID)
}

func (s *Service) concurrency() int {
	if s.Concurrency < 1 {
		return 4
	}
	return s.Concurrency
}

func (s *Service) filename() string {
	if s.Filename != "" {
		return s.Filename
	}
	return "report.xlsx"
}

func rekey(evs []domain.StatusEvent, key string) []domain.StatusEvent {
	out := make([]domain.StatusEvent, len(evs))
	for i, ev := range evs {
		ev.ItemKey = key
		out[i] = ev
	}
	return out
}

func itemCount(r domain.Report) int {
	if len(r.Tables) == 0 {
		return 0
	}
	return len(r.Tables[0].Rows)
}

func sheets(r domain.Report) []string {
	out := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		out = append(out, t.Sheet)
	}
	return out
}
