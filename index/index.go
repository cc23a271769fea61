// Package index keeps a sqlite record of every placement so report
// builds can select groups without walking the whole tree, and so the
// perceptual-hash prefilter can run without re-decoding stored photos.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"photoreport/photo"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if needed) the placement index.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS placements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		site TEXT NOT NULL,
		task TEXT NOT NULL,
		phase TEXT NOT NULL,
		month TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		size INTEGER,
		modified_at TEXT,
		phash INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_group ON placements(site, task, month, phase);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create placements schema: %w", err)
	}

	return db, nil
}

// Record stores one placement. The path is unique; recording the same
// path twice is a caller bug and surfaces as a constraint error.
func Record(db *sql.DB, p photo.Photo) error {
	stmt, err := db.Prepare(`
		INSERT INTO placements (path, site, task, phase, month, captured_at, size, modified_at, phash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("cannot prepare insert for %s: %w", p.Path, err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		p.Path,
		p.Site,
		p.Task,
		string(p.Phase),
		p.Month,
		p.CapturedAt.Format(time.RFC3339),
		p.Size,
		p.ModifiedAt,
		int64(p.PHash),
	)
	if err != nil {
		return fmt.Errorf("cannot record placement for %s: %w", p.Path, err)
	}
	return nil
}

// SelectGroup returns the placements of one phase within a group,
// ordered by path for deterministic downstream processing.
func SelectGroup(db *sql.DB, g photo.Group, ph photo.Phase) ([]photo.Photo, error) {
	query := `SELECT id, path, site, task, phase, month, captured_at, size, modified_at, phash
		FROM placements WHERE site = ? AND task = ? AND phase = ?`
	args := []interface{}{g.Site, g.Task, string(ph)}

	if g.FromMonth != "" {
		query += " AND month >= ?"
		args = append(args, g.FromMonth)
	}
	if g.ToMonth != "" {
		query += " AND month <= ?"
		args = append(args, g.ToMonth)
	}
	query += " ORDER BY path"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot query group %s/%s: %w", g.Site, g.Task, err)
	}
	defer rows.Close()

	var out []photo.Photo
	for rows.Next() {
		var p photo.Photo
		var phaseStr, capturedAt string
		var phash int64
		if err := rows.Scan(&p.ID, &p.Path, &p.Site, &p.Task, &phaseStr, &p.Month,
			&capturedAt, &p.Size, &p.ModifiedAt, &phash); err != nil {
			return nil, fmt.Errorf("cannot scan placement row: %w", err)
		}
		p.Phase = photo.Phase(phaseStr)
		p.PHash = uint64(phash)
		if ts, err := time.Parse(time.RFC3339, capturedAt); err == nil {
			p.CapturedAt = ts
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GroupSummary describes one (month, site, task) combination present
// in the index, with per-phase counts.
type GroupSummary struct {
	Month       string `json:"month"`
	Site        string `json:"site"`
	Task        string `json:"task"`
	BeforeCount int    `json:"before_count"`
	AfterCount  int    `json:"after_count"`
}

// ListGroups enumerates the distinct groups in the index, most recent
// month first.
func ListGroups(db *sql.DB) ([]GroupSummary, error) {
	rows, err := db.Query(`
		SELECT month, site, task,
			SUM(CASE WHEN phase = 'before' THEN 1 ELSE 0 END),
			SUM(CASE WHEN phase = 'after' THEN 1 ELSE 0 END)
		FROM placements
		GROUP BY month, site, task
		ORDER BY month DESC, site, task`)
	if err != nil {
		return nil, fmt.Errorf("cannot list groups: %w", err)
	}
	defer rows.Close()

	var out []GroupSummary
	for rows.Next() {
		var g GroupSummary
		if err := rows.Scan(&g.Month, &g.Site, &g.Task, &g.BeforeCount, &g.AfterCount); err != nil {
			return nil, fmt.Errorf("cannot scan group row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
