package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"alertd/internal/alert"
	logx "alertd/pkg/logx"
)

// Column names are part of the storage contract and must stay stable
// across versions; only additive or migrated changes are permitted.
const (
	alertsTable    = "alerts"
	assetsTable    = "alert_assets"
	playOrderTable = "alert_play_order"
	offlineTable   = "offline_alerts"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY NOT NULL,
	token TEXT NOT NULL,
	type INT NOT NULL,
	state INT NOT NULL,
	scheduled_time_unix INT NOT NULL,
	scheduled_time_iso8601 TEXT NOT NULL,
	loop_count INT NOT NULL,
	loop_pause_ms INT NOT NULL,
	background_asset_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS alert_assets (
	id INTEGER PRIMARY KEY NOT NULL,
	alert_id INT NOT NULL,
	asset_id TEXT NOT NULL,
	url TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS alert_play_order (
	id INTEGER PRIMARY KEY NOT NULL,
	alert_id INT NOT NULL,
	position INT NOT NULL,
	asset_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS offline_alerts (
	id INTEGER PRIMARY KEY NOT NULL,
	token TEXT NOT NULL,
	scheduled_time_iso8601 TEXT NOT NULL,
	event_time_iso8601 TEXT NOT NULL
);
`

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	cfg Config
	log logx.Logger
	db  *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLite(cfg Config, log logx.Logger) *SQLiteStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SQLiteStore{cfg: cfg, log: log}
}

func (s *SQLiteStore) Open() error {
	if s.db != nil {
		return nil
	}
	path := strings.TrimSpace(s.cfg.Path)
	if path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	// SQLite prefers a small number of concurrent writers, and the
	// scheduler only ever calls us from one goroutine anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if s.cfg.BusyTimeout > 0 {
		ms := s.cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(createSchemaSQL); err != nil {
		_ = db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.db = db
	if err := s.migrateLegacy(); err != nil {
		s.db = nil
		_ = db.Close()
		return err
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func alertTypeToDB(t alert.Type) int {
	switch t {
	case alert.TypeAlarm:
		return 1
	case alert.TypeTimer:
		return 2
	case alert.TypeReminder:
		return 3
	}
	return 1
}

func alertTypeFromDB(v int) (alert.Type, bool) {
	switch v {
	case 1:
		return alert.TypeAlarm, true
	case 2:
		return alert.TypeTimer, true
	case 3:
		return alert.TypeReminder, true
	}
	return 0, false
}

func alertStateToDB(st alert.State) int {
	switch st {
	case alert.StateUnset:
		return 1
	case alert.StateSet:
		return 2
	case alert.StateActivating:
		return 3
	case alert.StateActive:
		return 4
	case alert.StateSnoozing:
		return 5
	case alert.StateSnoozed:
		return 6
	case alert.StateStopping:
		return 7
	case alert.StateStopped:
		return 8
	case alert.StateCompleted:
		return 9
	case alert.StateReady:
		return 10
	}
	return 2
}

func alertStateFromDB(v int) (alert.State, bool) {
	switch v {
	case 1:
		return alert.StateUnset, true
	case 2:
		return alert.StateSet, true
	case 3:
		return alert.StateActivating, true
	case 4:
		return alert.StateActive, true
	case 5:
		return alert.StateSnoozing, true
	case 6:
		return alert.StateSnoozed, true
	case 7:
		return alert.StateStopping, true
	case 8:
		return alert.StateStopped, true
	case 9:
		return alert.StateCompleted, true
	case 10:
		return alert.StateReady, true
	}
	return 0, false
}

// nextID allocates max(id)+1 within tx. No autoincrement reliance, so IDs
// remain recoverable by scanning the table.
func nextID(tx *sql.Tx, table string) (int, error) {
	var id sql.NullInt64
	if err := tx.QueryRow("SELECT MAX(id) FROM " + table).Scan(&id); err != nil {
		return 0, err
	}
	return int(id.Int64) + 1, nil
}

func (s *SQLiteStore) Store(r *alert.Record) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM alerts WHERE token = ?", r.Token).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrTokenExists, r.Token)
	}

	id, err := nextID(tx, alertsTable)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO alerts(id, token, type, state, scheduled_time_unix, scheduled_time_iso8601,
		 loop_count, loop_pause_ms, background_asset_id)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		id, r.Token, alertTypeToDB(r.Type), alertStateToDB(r.State),
		r.ScheduledUnix, r.ScheduledISO,
		r.LoopCount, r.LoopPause.Milliseconds(), r.Assets.BackgroundAssetID,
	)
	if err != nil {
		return err
	}
	if err := insertAssetRows(tx, id, r.Assets); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.ID = id
	return nil
}

func insertAssetRows(tx *sql.Tx, alertID int, cfg alert.AssetConfiguration) error {
	if len(cfg.Assets) > 0 {
		id, err := nextID(tx, assetsTable)
		if err != nil {
			return err
		}
		// Iterate play order first for stable ids, then any assets not
		// referenced by it (the background-only case).
		seen := make(map[string]bool, len(cfg.Assets))
		ordered := make([]alert.Asset, 0, len(cfg.Assets))
		for _, aid := range cfg.PlayOrder {
			if a, ok := cfg.Assets[aid]; ok && !seen[aid] {
				seen[aid] = true
				ordered = append(ordered, a)
			}
		}
		for aid, a := range cfg.Assets {
			if !seen[aid] {
				ordered = append(ordered, a)
			}
		}
		for _, a := range ordered {
			if _, err := tx.Exec(
				"INSERT INTO alert_assets(id, alert_id, asset_id, url) VALUES(?,?,?,?)",
				id, alertID, a.ID, a.URL,
			); err != nil {
				return err
			}
			id++
		}
	}

	if len(cfg.PlayOrder) > 0 {
		id, err := nextID(tx, playOrderTable)
		if err != nil {
			return err
		}
		for pos, aid := range cfg.PlayOrder {
			if _, err := tx.Exec(
				"INSERT INTO alert_play_order(id, alert_id, position, asset_id) VALUES(?,?,?,?)",
				id, alertID, pos+1, aid,
			); err != nil {
				return err
			}
			id++
		}
	}
	return nil
}

func (s *SQLiteStore) Modify(r *alert.Record) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`UPDATE alerts SET state = ?, scheduled_time_unix = ?, scheduled_time_iso8601 = ?,
		 loop_count = ?, loop_pause_ms = ?, background_asset_id = ? WHERE id = ?`,
		alertStateToDB(r.State), r.ScheduledUnix, r.ScheduledISO,
		r.LoopCount, r.LoopPause.Milliseconds(), r.Assets.BackgroundAssetID, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, r.ID)
	}

	// Asset configuration may change on reschedule; rewrite the child rows.
	if _, err := tx.Exec("DELETE FROM alert_assets WHERE alert_id = ?", r.ID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM alert_play_order WHERE alert_id = ?", r.ID); err != nil {
		return err
	}
	if err := insertAssetRows(tx, r.ID, r.Assets); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Erase(r *alert.Record) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := eraseInTx(tx, r.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) BulkErase(rs []*alert.Record) error {
	if s.db == nil {
		return ErrClosed
	}
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range rs {
		if err := eraseInTx(tx, r.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func eraseInTx(tx *sql.Tx, alertID int) error {
	if _, err := tx.Exec("DELETE FROM alerts WHERE id = ?", alertID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM alert_assets WHERE alert_id = ?", alertID); err != nil {
		return err
	}
	_, err := tx.Exec("DELETE FROM alert_play_order WHERE alert_id = ?", alertID)
	return err
}

func (s *SQLiteStore) Clear() error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{alertsTable, assetsTable, playOrderTable, offlineTable} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load() ([]*alert.Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query(
		`SELECT id, token, type, state, scheduled_time_unix, scheduled_time_iso8601,
		 loop_count, loop_pause_ms, background_asset_id FROM alerts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int]*alert.Record)
	var out []*alert.Record
	for rows.Next() {
		var (
			id, typeCode, stateCode, loopCount int
			loopPauseMS, unix                  int64
			token, iso, backgroundID           string
		)
		if err := rows.Scan(&id, &token, &typeCode, &stateCode, &unix, &iso,
			&loopCount, &loopPauseMS, &backgroundID); err != nil {
			// A malformed row must not abort loading the rest.
			s.log.Warn("skipping unreadable alert row", logx.Err(err))
			continue
		}
		typ, ok := alertTypeFromDB(typeCode)
		if !ok {
			s.log.Warn("skipping alert row with unknown type",
				logx.String("token", token), logx.Int("type", typeCode))
			continue
		}
		st, ok := alertStateFromDB(stateCode)
		if !ok {
			s.log.Warn("skipping alert row with unknown state",
				logx.String("token", token), logx.Int("state", stateCode))
			continue
		}
		r := &alert.Record{
			Token:         token,
			ID:            id,
			Type:          typ,
			State:         st,
			ScheduledUnix: unix,
			ScheduledISO:  iso,
			LoopCount:     loopCount,
			LoopPause:     time.Duration(loopPauseMS) * time.Millisecond,
			Assets: alert.AssetConfiguration{
				Assets:            map[string]alert.Asset{},
				BackgroundAssetID: backgroundID,
			},
		}
		byID[id] = r
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadAssets(byID); err != nil {
		return nil, err
	}
	if err := s.loadPlayOrder(byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) loadAssets(byID map[int]*alert.Record) error {
	rows, err := s.db.Query("SELECT alert_id, asset_id, url FROM alert_assets ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			alertID  int
			aid, url string
		)
		if err := rows.Scan(&alertID, &aid, &url); err != nil {
			s.log.Warn("skipping unreadable asset row", logx.Err(err))
			continue
		}
		r, ok := byID[alertID]
		if !ok {
			// Orphaned asset row; harmless, the janitor of truth is Clear().
			continue
		}
		r.Assets.Assets[aid] = alert.Asset{ID: aid, URL: url}
	}
	return rows.Err()
}

func (s *SQLiteStore) loadPlayOrder(byID map[int]*alert.Record) error {
	rows, err := s.db.Query("SELECT alert_id, asset_id FROM alert_play_order ORDER BY alert_id, position")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			alertID int
			aid     string
		)
		if err := rows.Scan(&alertID, &aid); err != nil {
			s.log.Warn("skipping unreadable play-order row", logx.Err(err))
			continue
		}
		if r, ok := byID[alertID]; ok {
			r.Assets.PlayOrder = append(r.Assets.PlayOrder, aid)
		}
	}
	return rows.Err()
}

// ---- offline stopped alerts ----

func (s *SQLiteStore) StoreOfflineStopped(token, scheduledISO, eventISO string) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	id, err := nextID(tx, offlineTable)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO offline_alerts(id, token, scheduled_time_iso8601, event_time_iso8601)
		 VALUES(?,?,?,?)`,
		id, token, scheduledISO, eventISO,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadOfflineStopped() ([]OfflineStopped, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query(
		"SELECT id, token, scheduled_time_iso8601, event_time_iso8601 FROM offline_alerts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OfflineStopped
	for rows.Next() {
		var o OfflineStopped
		if err := rows.Scan(&o.ID, &o.Token, &o.ScheduledISO, &o.EventISO); err != nil {
			s.log.Warn("skipping unreadable offline alert row", logx.Err(err))
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EraseOfflineStopped(token string, id int) error {
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec("DELETE FROM offline_alerts WHERE token = ? AND id = ?", token, id)
	return err
}

func (s *SQLiteStore) PruneOfflineStopped(before time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	// event_time_iso8601 is RFC3339 UTC, so lexicographic comparison is
	// chronological.
	cutoff := before.UTC().Format(alert.ISO8601Format)
	res, err := s.db.Exec("DELETE FROM offline_alerts WHERE event_time_iso8601 < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
