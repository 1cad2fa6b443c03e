package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for recorded-command persistence.
type Repository interface {
	SaveCommand(ctx context.Context, cmd *Command) error
	FindCommand(ctx context.Context, si, fn, fv int) (*Command, error)
	ListCommands(ctx context.Context, si int) ([]Command, error)
	CountCommands(ctx context.Context) (int, error)

	SaveFailure(ctx context.Context, failure *FailedCommand) error
	ListFailures(ctx context.Context) ([]FailedCommand, error)
	DeleteFailures(ctx context.Context, si, fn, fv int) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveCommand upserts a recorded frame and clears any failure entries for
// the same key; a successful recording supersedes earlier timeouts.
func (r *SQLiteRepository) SaveCommand(ctx context.Context, cmd *Command) error {
	const query = `INSERT INTO replay_commands
		(si, command_key, st, type_id, device_name, fn, fv, payload_hex, qos, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(si, command_key) DO UPDATE SET
			st = excluded.st,
			type_id = excluded.type_id,
			device_name = excluded.device_name,
			payload_hex = excluded.payload_hex,
			qos = excluded.qos,
			recorded_at = excluded.recorded_at`

	_, err := r.db.ExecContext(ctx, query,
		cmd.SI, cmd.CommandKey, cmd.ST, cmd.TypeID, cmd.DeviceName,
		cmd.FN, cmd.FV, cmd.PayloadHex, cmd.QoS,
		cmd.RecordedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting command si=%d %s: %w", cmd.SI, cmd.CommandKey, err)
	}

	return r.DeleteFailures(ctx, cmd.SI, cmd.FN, cmd.FV)
}

// FindCommand returns the recorded frame for a device and (fn, fv) pair.
func (r *SQLiteRepository) FindCommand(ctx context.Context, si, fn, fv int) (*Command, error) {
	const query = `SELECT si, command_key, st, type_id, device_name, fn, fv, payload_hex, qos, recorded_at
		FROM replay_commands WHERE si = ? AND command_key = ?`

	row := r.db.QueryRowContext(ctx, query, si, CommandKey(fn, fv))
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: si=%d %s", ErrCommandNotFound, si, CommandKey(fn, fv))
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// ListCommands returns all recorded frames for a device.
func (r *SQLiteRepository) ListCommands(ctx context.Context, si int) ([]Command, error) {
	const query = `SELECT si, command_key, st, type_id, device_name, fn, fv, payload_hex, qos, recorded_at
		FROM replay_commands WHERE si = ? ORDER BY command_key`

	rows, err := r.db.QueryContext(ctx, query, si)
	if err != nil {
		return nil, fmt.Errorf("listing commands for si=%d: %w", si, err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, *cmd)
	}
	return cmds, rows.Err()
}

// CountCommands returns the total number of recorded frames.
func (r *SQLiteRepository) CountCommands(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replay_commands`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting commands: %w", err)
	}
	return count, nil
}

// SaveFailure records a capture attempt that produced no frame.
func (r *SQLiteRepository) SaveFailure(ctx context.Context, failure *FailedCommand) error {
	const query = `INSERT INTO failed_commands (si, st, fn, fv, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		failure.SI, failure.ST, failure.FN, failure.FV, failure.Reason,
		failure.FailedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting failure si=%d fn=%d fv=%d: %w",
			failure.SI, failure.FN, failure.FV, err)
	}
	return nil
}

// ListFailures returns all failed capture attempts, newest first.
func (r *SQLiteRepository) ListFailures(ctx context.Context) ([]FailedCommand, error) {
	const query = `SELECT id, si, st, fn, fv, reason, failed_at
		FROM failed_commands ORDER BY id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing failures: %w", err)
	}
	defer rows.Close()

	var failures []FailedCommand
	for rows.Next() {
		var f FailedCommand
		var failedAt string
		if err := rows.Scan(&f.ID, &f.SI, &f.ST, &f.FN, &f.FV, &f.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("scanning failure: %w", err)
		}
		f.FailedAt, _ = time.Parse(time.RFC3339, failedAt)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// DeleteFailures removes failure entries for a device and (fn, fv) pair.
func (r *SQLiteRepository) DeleteFailures(ctx context.Context, si, fn, fv int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM failed_commands WHERE si = ? AND fn = ? AND fv = ?`, si, fn, fv)
	if err != nil {
		return fmt.Errorf("deleting failures si=%d fn=%d fv=%d: %w", si, fn, fv, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCommand(s scanner) (*Command, error) {
	var cmd Command
	var qos int
	var recordedAt string

	err := s.Scan(&cmd.SI, &cmd.CommandKey, &cmd.ST, &cmd.TypeID, &cmd.DeviceName,
		&cmd.FN, &cmd.FV, &cmd.PayloadHex, &qos, &recordedAt)
	if err != nil {
		return nil, err
	}

	cmd.QoS = byte(qos)
	cmd.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
	return &cmd, nil
}
