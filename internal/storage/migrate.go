package storage

import (
	"database/sql"
	"fmt"
	"time"

	"alertd/internal/alert"
	logx "alertd/pkg/logx"
)

// legacyTable is the single-table layout used before assets and play order
// moved into their own tables. It carried no asset columns at all.
const legacyTable = "alerts_v1"

// migrateLegacy moves every row of the old single-table layout into the
// current schema and drops the old table. The whole migration is one
// transaction: either all rows move and the legacy table is gone, or
// nothing changes and the next Open retries from scratch.
func (s *SQLiteStore) migrateLegacy() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		legacyTable,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	recs, err := loadLegacyRows(tx)
	if err != nil {
		return fmt.Errorf("read legacy alerts: %w", err)
	}

	migrated := 0
	for _, r := range recs {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM alerts WHERE token = ?", r.Token).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			// A previous partially observed migration already moved it.
			continue
		}
		id, err := nextID(tx, alertsTable)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO alerts(id, token, type, state, scheduled_time_unix, scheduled_time_iso8601,
			 loop_count, loop_pause_ms, background_asset_id)
			 VALUES(?,?,?,?,?,?,?,?,?)`,
			id, r.Token, alertTypeToDB(r.Type), alertStateToDB(r.State),
			r.ScheduledUnix, r.ScheduledISO,
			r.LoopCount, r.LoopPause.Milliseconds(), "",
		); err != nil {
			return err
		}
		migrated++
	}

	if _, err := tx.Exec("DROP TABLE " + legacyTable); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("migrated legacy alert table",
		logx.Int("rows", migrated), logx.Int("skipped", len(recs)-migrated))
	return nil
}

func loadLegacyRows(tx *sql.Tx) ([]*alert.Record, error) {
	rows, err := tx.Query(
		`SELECT token, type, state, scheduled_time_unix, scheduled_time_iso8601,
		 loop_count, loop_pause_ms FROM alerts_v1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*alert.Record
	for rows.Next() {
		var (
			typeCode, stateCode, loopCount int
			unix, loopPauseMS              int64
			token, iso                     string
		)
		if err := rows.Scan(&token, &typeCode, &stateCode, &unix, &iso,
			&loopCount, &loopPauseMS); err != nil {
			return nil, err
		}
		typ, ok := alertTypeFromDB(typeCode)
		if !ok {
			typ = alert.TypeAlarm
		}
		st, ok := alertStateFromDB(stateCode)
		if !ok {
			st = alert.StateSet
		}
		out = append(out, &alert.Record{
			Token:         token,
			Type:          typ,
			State:         st,
			ScheduledUnix: unix,
			ScheduledISO:  iso,
			LoopCount:     loopCount,
			LoopPause:     time.Duration(loopPauseMS) * time.Millisecond,
		})
	}
	return out, rows.Err()
}
