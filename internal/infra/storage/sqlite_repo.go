package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
)

const eventColumns = `game_id, sequence, event_type, timestamp, visibility, actor_id, team, game_day, payload`

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// Append inserts one event. The (game, sequence) key makes a second write of
// the same sequence fail instead of forking the log.
func (r *SQLiteEventRepository) Append(ctx context.Context, event events.GameEvent) error {
	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		event.GameID, event.Sequence, string(event.Type), event.Timestamp.UTC().Format(time.RFC3339Nano),
		string(event.Visibility), event.ActorID, event.Team, event.Day, string(event.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event %s@%d: %w", event.GameID, event.Sequence, err)
	}
	return nil
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...any) ([]events.GameEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.GameEvent
	for rows.Next() {
		var (
			e                     events.GameEvent
			typ, vis, ts, payload string
		)
		err := rows.Scan(&e.GameID, &e.Sequence, &typ, &ts, &vis, &e.ActorID, &e.Team, &e.Day, &payload)
		if err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("event %s@%d: bad timestamp %q: %w", e.GameID, e.Sequence, ts, err)
		}
		e.Type = events.EventType(typ)
		e.Visibility = events.Visibility(vis)
		if payload != "" {
			e.Payload = []byte(payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteEventRepository) GetByGameID(ctx context.Context, gameID string) ([]events.GameEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE game_id = ? ORDER BY sequence ASC`
	return r.getMany(ctx, query, gameID)
}

func (r *SQLiteEventRepository) GetRange(ctx context.Context, gameID string, from, to uint64) ([]events.GameEvent, error) {
	if to == 0 {
		query := `SELECT ` + eventColumns + ` FROM events WHERE game_id = ? AND sequence >= ? ORDER BY sequence ASC`
		return r.getMany(ctx, query, gameID, from)
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE game_id = ? AND sequence BETWEEN ? AND ? ORDER BY sequence ASC`
	return r.getMany(ctx, query, gameID, from, to)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, gameID string, eventType events.EventType) ([]events.GameEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE game_id = ? AND event_type = ? ORDER BY sequence ASC`
	return r.getMany(ctx, query, gameID, string(eventType))
}

func (r *SQLiteEventRepository) ListGames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT game_id FROM events ORDER BY game_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---------------------------------------------------------
// SQLiteSnapshotRepository
// ---------------------------------------------------------

type SQLiteSnapshotRepository struct {
	db   *sql.DB
	keep int
}

func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

// Retain makes every save prune the game down to its newest keep snapshots.
// 0 keeps them all.
func (r *SQLiteSnapshotRepository) Retain(keep int) *SQLiteSnapshotRepository {
	r.keep = keep
	return r
}

func (r *SQLiteSnapshotRepository) SaveSnapshot(ctx context.Context, snap events.Snapshot) error {
	query := `
		INSERT INTO snapshots (game_id, sequence, state, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id, sequence) DO UPDATE SET
			state=excluded.state,
			created_at=excluded.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		snap.GameID, snap.Sequence, string(snap.State), snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s@%d: %w", snap.GameID, snap.Sequence, err)
	}
	if r.keep > 0 {
		if err := r.Prune(ctx, snap.GameID, r.keep); err != nil {
			return fmt.Errorf("failed to prune snapshots of %s: %w", snap.GameID, err)
		}
	}
	return nil
}

func (r *SQLiteSnapshotRepository) LatestSnapshot(ctx context.Context, gameID string) (events.Snapshot, error) {
	query := `SELECT game_id, sequence, state, created_at FROM snapshots WHERE game_id = ? ORDER BY sequence DESC LIMIT 1`
	var (
		snap      events.Snapshot
		state, ts string
	)
	err := r.db.QueryRowContext(ctx, query, gameID).Scan(&snap.GameID, &snap.Sequence, &state, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.Snapshot{}, events.ErrNoSnapshot
		}
		return events.Snapshot{}, err
	}
	snap.State = []byte(state)
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return events.Snapshot{}, fmt.Errorf("snapshot %s@%d: bad timestamp %q: %w", gameID, snap.Sequence, ts, err)
	}
	return snap, nil
}

func (r *SQLiteSnapshotRepository) Prune(ctx context.Context, gameID string, keep int) error {
	query := `
		DELETE FROM snapshots WHERE game_id = ? AND sequence NOT IN (
			SELECT sequence FROM snapshots WHERE game_id = ? ORDER BY sequence DESC LIMIT ?
		)
	`
	_, err := r.db.ExecContext(ctx, query, gameID, gameID, keep)
	return err
}

var (
	_ EventRepository    = (*SQLiteEventRepository)(nil)
	_ SnapshotRepository = (*SQLiteSnapshotRepository)(nil)
)
