/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package jobqueue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrInvalidTransition mirrors legator's jobs.ErrInvalidRunTransition: a
// CAS update touched zero rows because the job was no longer in the
// expected status.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrNotFound is returned when a job id has no matching row.
var ErrNotFound = errors.New("job not found")

const maxLogBytesPerJob = 64 * 1024

// Store persists jobs and their log ring buffers in SQLite (spec.md §9
// "Durable state without a DBMS" — the queue broker is the one piece of
// shared mutable state that legitimately needs a real database, unlike
// per-run state which stays in plain JSON files).
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the queue database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open jobqueue db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id                 TEXT PRIMARY KEY,
		payload             TEXT NOT NULL,
		status              TEXT NOT NULL,
		priority            INTEGER NOT NULL DEFAULT 0,
		attempts            INTEGER NOT NULL DEFAULT 0,
		max_attempts        INTEGER NOT NULL DEFAULT 1,
		stalled_count       INTEGER NOT NULL DEFAULT 0,
		locked_by           TEXT NOT NULL DEFAULT '',
		lock_expires_at     TEXT,
		last_error          TEXT NOT NULL DEFAULT '',
		exit_code           INTEGER,
		run_id              TEXT NOT NULL DEFAULT '',
		artifacts           TEXT NOT NULL DEFAULT '[]',
		progress_percent    INTEGER NOT NULL DEFAULT 0,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL,
		started_at          TEXT,
		finished_at         TEXT,
		retry_scheduled_at  TEXT
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS job_logs (
		job_id TEXT NOT NULL,
		seq    INTEGER NOT NULL,
		line   TEXT NOT NULL,
		PRIMARY KEY (job_id, seq)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create job_logs table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS queue_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue_meta table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_status_priority ON jobs(status, priority DESC, created_at)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(json_extract(payload, '$.tenant'))`)

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Enqueue inserts a new job in the queued state (spec.md §4.3 "Job
// submission" step 5-6). Generates an id of the form
// <type>-<tenant>-<epoch_ms>-<6hex> when job.ID is empty.
func (s *Store) Enqueue(job Job) (*Job, error) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = fmt.Sprintf("%s-%s-%d-%s", job.Payload.Type, job.Payload.Tenant, now.UnixMilli(), shortHex())
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	job.Status = StatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	payloadRaw, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	artifactsRaw, _ := json.Marshal(job.Artifacts)

	_, err = s.db.Exec(`INSERT INTO jobs (id, payload, status, priority, attempts, max_attempts, stalled_count, artifacts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, 0, ?, ?, ?)`,
		job.ID, string(payloadRaw), string(job.Status), job.Priority, job.MaxAttempts, string(artifactsRaw),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return &job, nil
}

func shortHex() string {
	return uuid.NewString()[:6]
}

// Claim selects the highest-priority ready job (queued, and if retry-
// scheduled, due) and locks it to workerID for leaseDuration (spec.md
// §4.3 "Worker loop... Claim a job with a lock"). Returns (nil, nil) if
// no job is ready — callers should poll. Claim is a no-op while the queue
// is paused.
func (s *Store) Claim(workerID string, leaseDuration time.Duration) (*Job, error) {
	paused, err := s.IsPaused()
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	now := time.Now().UTC()
	row := s.db.QueryRow(`SELECT id FROM jobs
		WHERE status = ?
		AND (retry_scheduled_at IS NULL OR retry_scheduled_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`,
		string(StatusQueued), now.Format(time.RFC3339Nano),
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	lockExpires := now.Add(leaseDuration)
	res, err := s.db.Exec(`UPDATE jobs SET
		status = ?, locked_by = ?, lock_expires_at = ?, attempts = attempts + 1,
		started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusRunning), workerID, lockExpires.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		id, string(StatusQueued),
	)
	if err != nil {
		return nil, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// Another worker claimed it between the select and the update.
		return nil, nil
	}
	return s.Get(id)
}

// RenewLock extends a claimed job's lease (spec.md §4.3 "renewed
// periodically up to lock duration").
func (s *Store) RenewLock(jobID, workerID string, leaseDuration time.Duration) error {
	expires := time.Now().UTC().Add(leaseDuration)
	res, err := s.db.Exec(`UPDATE jobs SET lock_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND locked_by = ?`,
		expires.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
		jobID, string(StatusRunning), workerID,
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateProgress records the worker's parsed progress percentage (spec.md
// §4.3 "Extract progress percentages from its output").
func (s *Store) UpdateProgress(jobID string, percent int) error {
	_, err := s.db.Exec(`UPDATE jobs SET progress_percent = ?, updated_at = ? WHERE id = ?`,
		percent, time.Now().UTC().Format(time.RFC3339Nano), jobID)
	return err
}

// CompleteSuccess transitions a running job to succeeded (spec.md §4.3
// "If the child exits with code 0... report completion with
// { run_id, artifacts }").
func (s *Store) CompleteSuccess(jobID, runID string, artifacts []string) error {
	now := time.Now().UTC()
	artifactsRaw, _ := json.Marshal(artifacts)
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, run_id = ?, artifacts = ?, finished_at = ?, updated_at = ?, locked_by = '', lock_expires_at = NULL
		WHERE id = ? AND status = ?`,
		string(StatusSucceeded), runID, string(artifactsRaw), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		jobID, string(StatusRunning),
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CompleteFailure records a failed attempt. If attempts remain under the
// job's max, it is requeued after policy's backoff (spec.md §3 "Retries:
// bounded attempts with exponential backoff"); otherwise it becomes
// terminally failed.
func (s *Store) CompleteFailure(jobID, errMsg string, exitCode *int, policy RetryPolicy) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if job.Attempts < job.MaxAttempts {
		delay := policy.NextDelay(job.Attempts)
		retryAt := now.Add(delay)
		res, err := s.db.Exec(`UPDATE jobs SET status = ?, last_error = ?, exit_code = ?, retry_scheduled_at = ?, updated_at = ?, locked_by = '', lock_expires_at = NULL
			WHERE id = ? AND status = ?`,
			string(StatusQueued), errMsg, nullableInt(exitCode), retryAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
			jobID, string(StatusRunning),
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrInvalidTransition
		}
		return nil
	}

	res, err := s.db.Exec(`UPDATE jobs SET status = ?, last_error = ?, exit_code = ?, finished_at = ?, updated_at = ?, locked_by = '', lock_expires_at = NULL
		WHERE id = ? AND status = ?`,
		string(StatusFailed), errMsg, nullableInt(exitCode), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		jobID, string(StatusRunning),
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel transitions a job to cancelled from any non-terminal status
// (spec.md §4.3 queue admin op "cancel").
func (s *Store) Cancel(jobID, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, last_error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusCancelled), reason, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		jobID, string(StatusQueued), string(StatusRunning),
	)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ReclaimStalled requeues running jobs whose lease has expired without
// progress (spec.md §4.3 "Stalled jobs... retried up to a stalled-count
// ceiling"). Jobs whose stalled_count reaches maxStalled are marked
// failed instead of requeued.
func (s *Store) ReclaimStalled(maxStalled int) (int, error) {
	now := time.Now().UTC()
	rows, err := s.db.Query(`SELECT id, stalled_count, attempts, max_attempts FROM jobs
		WHERE status = ? AND lock_expires_at IS NOT NULL AND lock_expires_at < ?`,
		string(StatusRunning), now.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	type stalled struct {
		id       string
		count    int
		attempts int
		max      int
	}
	var jobs []stalled
	for rows.Next() {
		var j stalled
		if err := rows.Scan(&j.id, &j.count, &j.attempts, &j.max); err != nil {
			rows.Close()
			return 0, err
		}
		jobs = append(jobs, j)
	}
	rows.Close()

	reclaimed := 0
	for _, j := range jobs {
		newCount := j.count + 1
		if newCount >= maxStalled || j.attempts >= j.max {
			if _, err := s.db.Exec(`UPDATE jobs SET status = ?, stalled_count = ?, last_error = ?, finished_at = ?, updated_at = ?, locked_by = '', lock_expires_at = NULL
				WHERE id = ? AND status = ?`,
				string(StatusFailed), newCount, "stalled: lock expired without progress", now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
				j.id, string(StatusRunning)); err != nil {
				return reclaimed, err
			}
		} else {
			if _, err := s.db.Exec(`UPDATE jobs SET status = ?, stalled_count = ?, updated_at = ?, locked_by = '', lock_expires_at = NULL
				WHERE id = ? AND status = ?`,
				string(StatusQueued), newCount, now.Format(time.RFC3339Nano),
				j.id, string(StatusRunning)); err != nil {
				return reclaimed, err
			}
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Get fetches one job by id.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, payload, status, priority, attempts, max_attempts, stalled_count,
		locked_by, lock_expires_at, last_error, exit_code, run_id, artifacts, progress_percent,
		created_at, updated_at, started_at, finished_at, retry_scheduled_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// List returns jobs matching query, most recently created first.
func (s *Store) List(query ListQuery) ([]Job, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlStr := `SELECT id, payload, status, priority, attempts, max_attempts, stalled_count,
		locked_by, lock_expires_at, last_error, exit_code, run_id, artifacts, progress_percent,
		created_at, updated_at, started_at, finished_at, retry_scheduled_at
		FROM jobs WHERE 1=1`
	var args []any
	if query.Status != "" {
		sqlStr += ` AND status = ?`
		args = append(args, string(query.Status))
	}
	if query.Tenant != "" {
		sqlStr += ` AND json_extract(payload, '$.tenant') = ?`
		args = append(args, query.Tenant)
	}
	sqlStr += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Clean deletes terminal jobs older than age (spec.md §4.3 "clean by
// age").
func (s *Store) Clean(age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(StatusSucceeded), string(StatusFailed), string(StatusCancelled), cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Drain cancels every queued job without running it (spec.md §4.3
// "drain").
func (s *Store) Drain() (int, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, last_error = ?, finished_at = ?, updated_at = ?
		WHERE status = ?`,
		string(StatusCancelled), "drained", now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		string(StatusQueued))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Pause stops new claims from succeeding (spec.md §4.3 admin op "pause").
func (s *Store) Pause() error { return s.setMeta("paused", "true") }

// Resume re-enables claims (spec.md §4.3 admin op "resume").
func (s *Store) Resume() error { return s.setMeta("paused", "false") }

// IsPaused reports the queue's pause state.
func (s *Store) IsPaused() (bool, error) {
	v, err := s.getMeta("paused")
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO queue_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) getMeta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM queue_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// Metrics summarizes queue state (spec.md §4.3 "metrics").
func (s *Store) Metrics() (Metrics, error) {
	m := Metrics{}
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return m, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return m, err
		}
		switch Status(status) {
		case StatusQueued:
			m.Queued = count
		case StatusRunning:
			m.Running = count
		case StatusSucceeded:
			m.Succeeded = count
		case StatusFailed:
			m.Failed = count
		case StatusCancelled:
			m.Cancelled = count
		}
	}
	m.Paused, err = s.IsPaused()
	return m, err
}

// AppendLog appends one line to a job's capped log ring buffer (spec.md
// §4.3 "Stream its stdout/stderr into the job's log ring buffer").
func (s *Store) AppendLog(jobID, line string) error {
	var total int
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(line)), 0) FROM job_logs WHERE job_id = ?`, jobID).Scan(&total); err != nil {
		return err
	}
	if total+len(line) > maxLogBytesPerJob {
		if _, err := s.db.Exec(`DELETE FROM job_logs WHERE job_id = ? AND seq IN (
			SELECT seq FROM job_logs WHERE job_id = ? ORDER BY seq ASC LIMIT 1
		)`, jobID, jobID); err != nil {
			return err
		}
	}
	var nextSeq int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM job_logs WHERE job_id = ?`, jobID).Scan(&nextSeq); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO job_logs (job_id, seq, line) VALUES (?, ?, ?)`, jobID, nextSeq, line)
	return err
}

// Logs returns a job's buffered log lines in order.
func (s *Store) Logs(jobID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT line FROM job_logs WHERE job_id = ? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		j                                                     Job
		payloadRaw, artifactsRaw, status                      string
		lockExpires, startedAt, finishedAt, retryScheduledAt  sql.NullString
		exitCode                                              sql.NullInt64
		createdAt, updatedAt                                  string
	)
	if err := row.Scan(&j.ID, &payloadRaw, &status, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.StalledCount,
		&j.LockedBy, &lockExpires, &j.LastError, &exitCode, &j.RunID, &artifactsRaw, &j.ProgressPercent,
		&createdAt, &updatedAt, &startedAt, &finishedAt, &retryScheduledAt); err != nil {
		return nil, err
	}
	j.Status = Status(status)
	_ = json.Unmarshal([]byte(payloadRaw), &j.Payload)
	_ = json.Unmarshal([]byte(artifactsRaw), &j.Artifacts)
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if lockExpires.Valid {
		t, _ := time.Parse(time.RFC3339Nano, lockExpires.String)
		j.LockExpiresAt = &t
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		j.FinishedAt = &t
	}
	if retryScheduledAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, retryScheduledAt.String)
		j.RetryScheduledAt = &t
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		j.ExitCode = &v
	}
	return &j, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
