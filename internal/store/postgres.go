package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/adamw/Draft-Commander/internal/jobs"
)

// PgStore persists jobs in PostgreSQL. Claiming uses a transaction with
// FOR UPDATE SKIP LOCKED so concurrent claimers never race on the same row.
type PgStore struct {
	db *sql.DB
}

const jobColumns = `id, source, folder_name, state, stage, attempts, max_attempts,
	template_id, auto_publish, price, condition, cancel_requested,
	sku, offer_id, listing_id, error_kind, error_stage, error_message,
	checkpoint, timing, created_at, updated_at, started_at, completed_at`

// Connect opens a PostgreSQL connection and verifies it with a ping.
func Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewPgStore wraps an open database handle. Jobs left Running by a previous
// process are reset to Pending, matching the file store's reload behavior.
func NewPgStore(db *sql.DB) (*PgStore, error) {
	s := &PgStore{db: db}
	_, err := db.Exec(`UPDATE jobs SET state = $1, updated_at = NOW() WHERE state = $2`,
		jobs.StatePending, jobs.StateRunning)
	if err != nil {
		return nil, fmt.Errorf("reset running jobs: %w", err)
	}
	return s, nil
}

func (s *PgStore) Put(job *jobs.Job) error {
	return putJob(s.db, job)
}

// execer is satisfied by both *sql.DB and *sql.Tx so the upsert can run
// standalone or inside Update's transaction.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func putJob(db execer, job *jobs.Job) error {
	job.UpdatedAt = time.Now()

	timing, err := marshalJSON(job.Timing, len(job.Timing) > 0)
	if err != nil {
		return err
	}
	checkpoint, err := marshalJSON(job.Checkpoint, job.Checkpoint != nil)
	if err != nil {
		return err
	}

	var (
		sku, offerID, listingID   string
		errKind, errStage, errMsg string
	)
	if job.Result != nil {
		sku, offerID, listingID = job.Result.SKU, job.Result.OfferID, job.Result.ListingID
	}
	if job.Error != nil {
		errKind, errStage, errMsg = string(job.Error.Kind), string(job.Error.Stage), job.Error.Message
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state, stage = EXCLUDED.stage,
			attempts = EXCLUDED.attempts, max_attempts = EXCLUDED.max_attempts,
			template_id = EXCLUDED.template_id, auto_publish = EXCLUDED.auto_publish,
			price = EXCLUDED.price, condition = EXCLUDED.condition,
			cancel_requested = EXCLUDED.cancel_requested,
			sku = EXCLUDED.sku, offer_id = EXCLUDED.offer_id, listing_id = EXCLUDED.listing_id,
			error_kind = EXCLUDED.error_kind, error_stage = EXCLUDED.error_stage,
			error_message = EXCLUDED.error_message,
			checkpoint = EXCLUDED.checkpoint, timing = EXCLUDED.timing,
			updated_at = EXCLUDED.updated_at, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`
	_, err = db.Exec(query,
		job.ID, job.Source, job.FolderName, job.State, job.Stage, job.Attempts, job.MaxAttempts,
		job.TemplateID, job.AutoPublish, job.Price, job.Condition, job.CancelRequested,
		sku, offerID, listingID, errKind, errStage, errMsg,
		checkpoint, timing, job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("persist job: %w", err)
	}
	return nil
}

func (s *PgStore) Get(id string) (*jobs.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PgStore) List(f Filter) ([]*jobs.Job, error) {
	var conds []string
	var args []interface{}

	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, st := range f.States {
			args = append(args, string(st))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "state IN ("+strings.Join(ph, ", ")+")")
	}
	if !f.CreatedAfter.IsZero() {
		args = append(args, f.CreatedAfter)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.CreatedBefore.IsZero() {
		args = append(args, f.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if f.Reverse {
		query += " ORDER BY created_at DESC"
	} else {
		query += " ORDER BY created_at ASC"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *PgStore) ClaimPending() (*jobs.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE state = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending job: %w", err)
	}

	now := time.Now()
	job.State = jobs.StateRunning
	job.StartedAt = &now
	job.UpdatedAt = now

	_, err = tx.Exec(`UPDATE jobs SET state = $2, started_at = $3, updated_at = $3 WHERE id = $1`,
		job.ID, job.State, now)
	if err != nil {
		return nil, fmt.Errorf("mark job running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// Update loads the row FOR UPDATE, applies fn, and writes it back in the
// same transaction, so concurrent claimers and other Updates serialize on
// the row lock.
func (s *PgStore) Update(id string, fn func(*jobs.Job) error) (*jobs.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin update transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job for update: %w", err)
	}

	if err := fn(job); err != nil {
		return nil, err
	}

	if err := putJob(tx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

func (s *PgStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	job := &jobs.Job{}
	var (
		sku, offerID, listingID   string
		errKind, errStage, errMsg string
		checkpoint, timing        sql.NullString
		startedAt, completedAt    sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.Source, &job.FolderName, &job.State, &job.Stage, &job.Attempts, &job.MaxAttempts,
		&job.TemplateID, &job.AutoPublish, &job.Price, &job.Condition, &job.CancelRequested,
		&sku, &offerID, &listingID, &errKind, &errStage, &errMsg,
		&checkpoint, &timing, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if sku != "" || offerID != "" || listingID != "" {
		job.Result = &jobs.Result{SKU: sku, OfferID: offerID, ListingID: listingID}
	}
	if errKind != "" {
		job.Error = &jobs.JobError{Kind: jobs.ErrorKind(errKind), Stage: jobs.Stage(errStage), Message: errMsg}
	}
	if checkpoint.Valid && checkpoint.String != "" {
		if err := json.Unmarshal([]byte(checkpoint.String), &job.Checkpoint); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
	}
	if timing.Valid && timing.String != "" {
		if err := json.Unmarshal([]byte(timing.String), &job.Timing); err != nil {
			return nil, fmt.Errorf("decode timing: %w", err)
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func marshalJSON(v interface{}, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode job field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
