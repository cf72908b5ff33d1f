// Package sqlite is the default durable store. All compare-and-swap
// semantics live in the SQL statements: guarded UPDATEs for operations
// and conditional upserts for locks, so two racing writers resolve to
// exactly one winner inside the database.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/pkg/idempotency"
	"github.com/fulcrumhq/fulcrum/pkg/lock"
	"github.com/fulcrumhq/fulcrum/pkg/operation"

	_ "github.com/mattn/go-sqlite3"
)

const (
	CREATE_TABLE_STATEMENT = `
	CREATE TABLE IF NOT EXISTS operations (
		id           TEXT UNIQUE,
		sort_id      INTEGER PRIMARY KEY AUTOINCREMENT,
		function     TEXT,
		fn_version   TEXT,
		status       INTEGER DEFAULT 1,
		progress     REAL,
		result_headers BLOB,
		result_data  BLOB,
		errors       BLOB,
		owner_id     TEXT,
		request_id   TEXT,
		callback     TEXT,
		created_on   INTEGER,
		started_on   INTEGER,
		completed_on INTEGER,
		cancelled_on INTEGER,
		expires_at   INTEGER,
		counter      INTEGER DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_operations_id ON operations(id);
	CREATE INDEX IF NOT EXISTS idx_operations_owner_id ON operations(owner_id);
	CREATE INDEX IF NOT EXISTS idx_operations_expires_at ON operations(expires_at);

	CREATE TABLE IF NOT EXISTS locks (
		key         TEXT UNIQUE,
		owner       TEXT,
		acquired_at INTEGER,
		expires_at  INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_locks_key ON locks(key);
	CREATE INDEX IF NOT EXISTS idx_locks_expires_at ON locks(expires_at);

	CREATE TABLE IF NOT EXISTS idempotency_records (
		key            TEXT,
		function       TEXT,
		fn_version     TEXT,
		arguments_hash TEXT,
		response       BLOB,
		cached_on      INTEGER,
		expires_at     INTEGER,
		UNIQUE(key, function, fn_version)
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_records_expires_at ON idempotency_records(expires_at);`

	OPERATION_SELECT_STATEMENT = `
	SELECT
		id, function, fn_version, status, progress, result_headers, result_data, errors, owner_id, request_id, callback, created_on, started_on, completed_on, cancelled_on, expires_at, counter, sort_id
	FROM
		operations
	WHERE
		id = ?`

	OPERATION_SEARCH_STATEMENT = `
	SELECT
		id, function, fn_version, status, progress, result_headers, result_data, errors, owner_id, request_id, callback, created_on, started_on, completed_on, cancelled_on, expires_at, counter, sort_id
	FROM
		operations
	WHERE
		(? IS NULL OR sort_id < ?) AND
		owner_id = ? AND
		(? = 0 OR status & ? != 0) AND
		(? = '' OR function = ?)
	ORDER BY
		sort_id DESC
	LIMIT
		?`

	OPERATION_INSERT_STATEMENT = `
	INSERT INTO operations
		(id, function, fn_version, status, progress, owner_id, request_id, callback, created_on, expires_at, counter)
	VALUES
		(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	ON CONFLICT(id) DO NOTHING`

	OPERATION_UPDATE_STATEMENT = `
	UPDATE
		operations
	SET
		status = ?, progress = ?, result_headers = ?, result_data = ?, errors = ?, started_on = ?, completed_on = ?, cancelled_on = ?, counter = counter + 1
	WHERE
		id = ? AND counter = ?`

	OPERATION_TIMEOUT_STATEMENT = `
	DELETE FROM operations WHERE expires_at <= ?`

	LOCK_READ_STATEMENT = `
	SELECT
		key, owner, acquired_at, expires_at
	FROM
		locks
	WHERE
		key = ?`

	LOCK_ACQUIRE_STATEMENT = `
	INSERT INTO locks
		(key, owner, acquired_at, expires_at)
	VALUES
		(?, ?, ?, ?)
	ON CONFLICT(key)
	DO UPDATE SET
		owner = excluded.owner,
		acquired_at = excluded.acquired_at,
		expires_at = excluded.expires_at
	WHERE
		locks.expires_at <= excluded.acquired_at OR locks.owner = excluded.owner`

	LOCK_RELEASE_STATEMENT = `
	DELETE FROM locks WHERE key = ? AND owner = ?`

	LOCK_FORCE_RELEASE_STATEMENT = `
	DELETE FROM locks WHERE key = ?`

	LOCK_TIMEOUT_STATEMENT = `
	DELETE FROM locks WHERE expires_at <= ?`

	IDEMPOTENCY_READ_STATEMENT = `
	SELECT
		key, function, fn_version, arguments_hash, response, cached_on, expires_at
	FROM
		idempotency_records
	WHERE
		key = ? AND function = ? AND fn_version = ?`

	IDEMPOTENCY_INSERT_STATEMENT = `
	INSERT INTO idempotency_records
		(key, function, fn_version, arguments_hash, response, cached_on, expires_at)
	VALUES
		(?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key, function, fn_version)
	DO UPDATE SET
		arguments_hash = excluded.arguments_hash,
		response = excluded.response,
		cached_on = excluded.cached_on,
		expires_at = excluded.expires_at
	WHERE
		idempotency_records.expires_at <= excluded.cached_on`

	IDEMPOTENCY_TIMEOUT_STATEMENT = `
	DELETE FROM idempotency_records WHERE expires_at <= ?`
)

// Config

type Config struct {
	Path      string        `mapstructure:"path"`
	TxTimeout time.Duration `mapstructure:"txTimeout"`
	Reset     bool          `mapstructure:"reset"`
}

// Store

type Store struct {
	config *Config
	db     *sql.DB
}

func New(config *Config) (*Store, error) {
	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, err
	}

	return &Store{
		config: config,
		db:     db,
	}, nil
}

func (s *Store) String() string {
	return "store:sqlite"
}

func (s *Store) Start() error {
	if _, err := s.db.Exec(CREATE_TABLE_STATEMENT); err != nil {
		return err
	}

	return nil
}

func (s *Store) Stop() error {
	if err := s.db.Close(); err != nil {
		return err
	}

	if s.config.Reset {
		return s.reset()
	}

	return nil
}

func (s *Store) reset() error {
	if _, err := os.Stat(s.config.Path); err != nil {
		return nil
	}

	return os.Remove(s.config.Path)
}

// Operations

func (s *Store) ReadOperation(ctx context.Context, id string) (*operation.OperationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, OPERATION_SELECT_STATEMENT, id)

	rec, err := scanOperation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *Store) CreateOperation(ctx context.Context, rec *operation.OperationRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	res, err := s.db.ExecContext(
		ctx,
		OPERATION_INSERT_STATEMENT,
		rec.Id,
		rec.Function,
		rec.FnVersion,
		rec.Status,
		rec.Progress,
		rec.OwnerId,
		rec.RequestId,
		rec.Callback,
		rec.CreatedOn,
		rec.ExpiresAt,
	)
	if err != nil {
		return false, err
	}

	return oneRow(res)
}

func (s *Store) UpdateOperation(ctx context.Context, rec *operation.OperationRecord, counter int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	res, err := s.db.ExecContext(
		ctx,
		OPERATION_UPDATE_STATEMENT,
		rec.Status,
		rec.Progress,
		rec.ResultHeaders,
		rec.ResultData,
		rec.Errors,
		rec.StartedOn,
		rec.CompletedOn,
		rec.CancelledOn,
		rec.Id,
		counter,
	)
	if err != nil {
		return false, err
	}

	return oneRow(res)
}

func (s *Store) ListOperations(ctx context.Context, q *store.ListQuery) ([]*operation.OperationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(
		ctx,
		OPERATION_SEARCH_STATEMENT,
		q.SortId,
		q.SortId,
		q.Owner,
		q.States,
		q.States,
		q.Function,
		q.Function,
		q.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*operation.OperationRecord
	for rows.Next() {
		rec, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanOperation(scan func(...any) error) (*operation.OperationRecord, error) {
	rec := &operation.OperationRecord{}

	if err := scan(
		&rec.Id,
		&rec.Function,
		&rec.FnVersion,
		&rec.Status,
		&rec.Progress,
		&rec.ResultHeaders,
		&rec.ResultData,
		&rec.Errors,
		&rec.OwnerId,
		&rec.RequestId,
		&rec.Callback,
		&rec.CreatedOn,
		&rec.StartedOn,
		&rec.CompletedOn,
		&rec.CancelledOn,
		&rec.ExpiresAt,
		&rec.Counter,
		&rec.SortId,
	); err != nil {
		return nil, err
	}

	return rec, nil
}

// Locks

func (s *Store) ReadLock(ctx context.Context, key string) (*lock.LockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	rec := &lock.LockRecord{}

	err := s.db.QueryRowContext(ctx, LOCK_READ_STATEMENT, key).Scan(
		&rec.Key,
		&rec.Owner,
		&rec.AcquiredAt,
		&rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *Store) AcquireLock(ctx context.Context, rec *lock.LockRecord) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	res, err := s.db.ExecContext(
		ctx,
		LOCK_ACQUIRE_STATEMENT,
		rec.Key,
		rec.Owner,
		rec.AcquiredAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return false, err
	}

	return oneRow(res)
}

func (s *Store) ReleaseLock(ctx context.Context, key string, owner string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, LOCK_RELEASE_STATEMENT, key, owner)
	if err != nil {
		return false, err
	}

	return oneRow(res)
}

func (s *Store) ForceReleaseLock(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, LOCK_FORCE_RELEASE_STATEMENT, key)
	if err != nil {
		return false, err
	}

	return oneRow(res)
}

// Idempotency records

func (s *Store) ReadIdempotencyRecord(ctx context.Context, key idempotency.Key, function string, version string) (*idempotency.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	rec := &idempotency.Record{}

	err := s.db.QueryRowContext(ctx, IDEMPOTENCY_READ_STATEMENT, key, function, version).Scan(
		&rec.Key,
		&rec.Function,
		&rec.Version,
		&rec.ArgumentsHash,
		&rec.Response,
		&rec.CachedOn,
		&rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (s *Store) WriteIdempotencyRecord(ctx context.Context, rec *idempotency.Record) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	res, err := s.db.ExecContext(
		ctx,
		IDEMPOTENCY_INSERT_STATEMENT,
		rec.Key,
		rec.Function,
		rec.Version,
		rec.ArgumentsHash,
		rec.Response,
		rec.CachedOn,
		rec.ExpiresAt,
	)
	if err != nil {
		return false, err
	}

	return oneRow(res)
}

// Retention

func (s *Store) DeleteExpired(ctx context.Context, t int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.TxTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // nolint:errcheck

	var n int64
	for _, stmt := range []string{OPERATION_TIMEOUT_STATEMENT, LOCK_TIMEOUT_STATEMENT, IDEMPOTENCY_TIMEOUT_STATEMENT} {
		res, err := tx.ExecContext(ctx, stmt, t)
		if err != nil {
			return 0, err
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		n += rows
	}

	return n, tx.Commit()
}

func oneRow(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}