// Package storage persists a small ledger of mining activity — watch
// sessions and claimed drops — that needs to survive a restart, separate
// from the in-memory campaign/channel state rebuilt on every run.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a sqlite-backed session ledger.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at path and ensures its
// schema is up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watch_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			minutes_watched INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS claimed_drops (
			drop_instance_id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			drop_id TEXT NOT NULL,
			reward TEXT NOT NULL,
			claimed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watch_sessions_campaign ON watch_sessions(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claimed_drops_campaign ON claimed_drops(campaign_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// WatchSession is one contiguous span of watching a channel toward a
// campaign's drops.
type WatchSession struct {
	ID             int64
	ChannelID      string
	CampaignID     string
	StartedAt      time.Time
	EndedAt        *time.Time
	MinutesWatched int
}

// StartWatchSession records the start of a new watch session and returns
// its ID.
func (s *Store) StartWatchSession(channelID, campaignID string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO watch_sessions (channel_id, campaign_id, started_at) VALUES (?, ?, ?)`,
		channelID, campaignID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// EndWatchSession closes a watch session with its final minute count.
func (s *Store) EndWatchSession(id int64, minutesWatched int) error {
	_, err := s.db.Exec(
		`UPDATE watch_sessions SET ended_at = ?, minutes_watched = ? WHERE id = ?`,
		time.Now(), minutesWatched, id,
	)
	return err
}

// ActiveWatchSession returns the most recent unclosed session for a
// channel, if any — used to recover bookkeeping after an unclean restart.
func (s *Store) ActiveWatchSession(channelID string) (*WatchSession, error) {
	row := s.db.QueryRow(
		`SELECT id, channel_id, campaign_id, started_at, minutes_watched
		 FROM watch_sessions WHERE channel_id = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`,
		channelID,
	)
	var ws WatchSession
	if err := row.Scan(&ws.ID, &ws.ChannelID, &ws.CampaignID, &ws.StartedAt, &ws.MinutesWatched); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ws, nil
}

// RecordClaim appends a claimed drop to the ledger. Re-recording the same
// drop instance ID is a harmless no-op (INSERT OR IGNORE), since a
// pub/sub and a GraphQL-fallback claim can race.
func (s *Store) RecordClaim(dropInstanceID, campaignID, dropID, reward string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO claimed_drops (drop_instance_id, campaign_id, drop_id, reward, claimed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		dropInstanceID, campaignID, dropID, reward, time.Now(),
	)
	return err
}

// ClaimedDrop is one entry of the claim history.
type ClaimedDrop struct {
	DropInstanceID string
	CampaignID     string
	DropID         string
	Reward         string
	ClaimedAt      time.Time
}

// ClaimsForCampaign returns every recorded claim for a campaign, most
// recent first.
func (s *Store) ClaimsForCampaign(campaignID string) ([]ClaimedDrop, error) {
	rows, err := s.db.Query(
		`SELECT drop_instance_id, campaign_id, drop_id, reward, claimed_at
		 FROM claimed_drops WHERE campaign_id = ? ORDER BY claimed_at DESC`,
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClaimedDrop
	for rows.Next() {
		var c ClaimedDrop
		if err := rows.Scan(&c.DropInstanceID, &c.CampaignID, &c.DropID, &c.Reward, &c.ClaimedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
