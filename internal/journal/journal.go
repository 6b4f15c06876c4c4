// Package journal persists finished motion episodes to SQLite so the
// web layer can serve recent activity history across daemon restarts.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS motion_episodes (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP NOT NULL,
	duration_s REAL NOT NULL,
	peak_score REAL NOT NULL,
	samples    INTEGER NOT NULL,
	trace      BLOB
);
CREATE INDEX IF NOT EXISTS idx_motion_episodes_started_at
	ON motion_episodes(started_at);
`

// Journal records finished motion episodes. Safe for concurrent use;
// database/sql serializes access to the single connection pool.
type Journal struct {
	db       *sql.DB
	recorded atomic.Uint64
}

// Stats contains journal statistics.
type Stats struct {
	Recorded uint64 `json:"recorded"`
}

// Open opens or creates the episode database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	slog.Info("episode journal opened", "path", path)
	return &Journal{db: db}, nil
}

// RecordEpisode writes one finished episode. The per-tick score trace is
// packed into a blob so arbitrary-length traces cost one column.
func (j *Journal) RecordEpisode(ep types.MotionEpisode) error {
	trace, err := msgpack.Marshal(ep.Trace)
	if err != nil {
		return fmt.Errorf("failed to pack trace for episode %s: %w", ep.ID, err)
	}

	_, err = j.db.Exec(
		`INSERT INTO motion_episodes (id, started_at, ended_at, duration_s, peak_score, samples, trace)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ep.ID,
		ep.StartedAt.UTC(),
		ep.EndedAt.UTC(),
		ep.Duration().Seconds(),
		ep.PeakScore,
		ep.Samples,
		trace,
	)
	if err != nil {
		return fmt.Errorf("failed to record episode %s: %w", ep.ID, err)
	}

	j.recorded.Add(1)
	slog.Debug("episode recorded",
		"episode_id", ep.ID,
		"duration_s", ep.Duration().Seconds(),
		"peak_score", ep.PeakScore,
	)
	return nil
}

// RecentEpisodes returns up to limit episodes, newest first.
func (j *Journal) RecentEpisodes(limit int) ([]types.MotionEpisode, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.Query(
		`SELECT id, started_at, ended_at, peak_score, samples, trace
		 FROM motion_episodes
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []types.MotionEpisode
	for rows.Next() {
		var ep types.MotionEpisode
		var trace []byte
		if err := rows.Scan(&ep.ID, &ep.StartedAt, &ep.EndedAt, &ep.PeakScore, &ep.Samples, &trace); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		if len(trace) > 0 {
			if err := msgpack.Unmarshal(trace, &ep.Trace); err != nil {
				return nil, fmt.Errorf("failed to unpack trace for episode %s: %w", ep.ID, err)
			}
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read episodes: %w", err)
	}

	return episodes, nil
}

// Stats returns journal statistics.
func (j *Journal) Stats() Stats {
	return Stats{Recorded: j.recorded.Load()}
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
