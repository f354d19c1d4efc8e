package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/timeutil"
)

// Run is one persisted decode invocation.
type Run struct {
	RunID      string          `json:"run_id"`
	CreatedAt  int64           `json:"created_at"` // unix nanoseconds
	ParamsJSON json.RawMessage `json:"params_json,omitempty"`
	Source     string          `json:"source"`
	FrameCount int             `json:"frame_count"`
}

// FrameRecord is the stored summary of one decoded frame.
type FrameRecord struct {
	FrameID          int64  `json:"frame_id"`
	RunID            string `json:"run_id"`
	FrameName        string `json:"frame_name"`
	LaneCount        int    `json:"lane_count"`
	ActiveCells      int    `json:"active_cells"`
	OutOfBounds      int    `json:"out_of_bounds"`
	NonFinite        int    `json:"non_finite"`
	CapacityDiscards int    `json:"capacity_discards"`
	LanesDropped     int    `json:"lanes_dropped"`
	OutliersRemoved  int    `json:"outliers_removed"`
	DecodeMicros     int64  `json:"decode_us"`
	DecodedAt        int64  `json:"decoded_at"` // unix nanoseconds
}

// RunStore persists decode runs, per-frame statistics and lanes.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for timestamps and busy back-off.
func (s *RunStore) SetClock(c timeutil.Clock) { s.clock = c }

// CreateRun inserts a run. If RunID is empty, a UUID is generated.
func (s *RunStore) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO lane_decode_runs (run_id, created_at, params_json, source, frame_count)
			VALUES (?, ?, ?, ?, 0)`,
			run.RunID, run.CreatedAt, paramsStr, run.Source,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// GetRun returns a run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	var r Run
	var paramsStr sql.NullString
	err := s.db.QueryRow(`
		SELECT run_id, created_at, params_json, source, frame_count
		FROM lane_decode_runs
		WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.CreatedAt, &paramsStr, &r.Source, &r.FrameCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &r, nil
}

// RecordFrame stores one decoded frame and its lanes in a single
// transaction and bumps the run's frame count. It returns the new frame ID.
func (s *RunStore) RecordFrame(runID, frameName string, ls lane.LaneSet, stats lane.Stats) (int64, error) {
	var frameID int64
	err := s.retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`
			UPDATE lane_decode_runs SET frame_count = frame_count + 1 WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}

		res, err = tx.Exec(`
			INSERT INTO lane_decoded_frames (
				run_id, frame_name, lane_count, active_cells, out_of_bounds, non_finite,
				capacity_discards, lanes_dropped, outliers_removed, decode_us, decoded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, frameName, ls.Len(), stats.ActiveCells, stats.OutOfBounds, stats.NonFinite,
			stats.CapacityDiscards, stats.LanesDropped, stats.OutliersRemoved,
			stats.DecodeDuration.Microseconds(), s.clock.Now().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert frame: %w", err)
		}
		if frameID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("frame id: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO lane_decoded_lanes (frame_id, lane_index, lane_id, point_count, points_json)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare lane insert: %w", err)
		}
		defer stmt.Close()
		for idx, l := range ls.Lanes() {
			pts, err := json.Marshal(l.Points)
			if err != nil {
				return fmt.Errorf("encode lane %d: %w", idx, err)
			}
			if _, err := stmt.Exec(frameID, idx, l.ID, len(l.Points), string(pts)); err != nil {
				return fmt.Errorf("insert lane %d: %w", idx, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return frameID, nil
}

// ListFrames returns the frames of a run in insertion order.
func (s *RunStore) ListFrames(runID string) ([]*FrameRecord, error) {
	rows, err := s.db.Query(`
		SELECT frame_id, run_id, frame_name, lane_count, active_cells, out_of_bounds,
		       non_finite, capacity_discards, lanes_dropped, outliers_removed,
		       decode_us, decoded_at
		FROM lane_decoded_frames
		WHERE run_id = ?
		ORDER BY frame_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []*FrameRecord
	for rows.Next() {
		var f FrameRecord
		if err := rows.Scan(
			&f.FrameID, &f.RunID, &f.FrameName, &f.LaneCount, &f.ActiveCells, &f.OutOfBounds,
			&f.NonFinite, &f.CapacityDiscards, &f.LanesDropped, &f.OutliersRemoved,
			&f.DecodeMicros, &f.DecodedAt,
		); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}

// GetFrameLanes reassembles the LaneSet stored for a frame.
func (s *RunStore) GetFrameLanes(frameID int64) (lane.LaneSet, error) {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM lane_decoded_frames WHERE frame_id = ?`, frameID).Scan(&exists)
	if err != nil {
		return lane.LaneSet{}, fmt.Errorf("query frame: %w", err)
	}
	if exists == 0 {
		return lane.LaneSet{}, fmt.Errorf("frame %d not found", frameID)
	}

	rows, err := s.db.Query(`
		SELECT lane_id, points_json
		FROM lane_decoded_lanes
		WHERE frame_id = ?
		ORDER BY lane_index ASC`, frameID)
	if err != nil {
		return lane.LaneSet{}, fmt.Errorf("query lanes: %w", err)
	}
	defer rows.Close()

	var lanes []lane.Lane
	for rows.Next() {
		var l lane.Lane
		var pts string
		if err := rows.Scan(&l.ID, &pts); err != nil {
			return lane.LaneSet{}, fmt.Errorf("scan lane: %w", err)
		}
		if err := json.Unmarshal([]byte(pts), &l.Points); err != nil {
			return lane.LaneSet{}, fmt.Errorf("decode lane %d points: %w", l.ID, err)
		}
		lanes = append(lanes, l)
	}
	if err := rows.Err(); err != nil {
		return lane.LaneSet{}, err
	}
	return lane.NewLaneSet(lanes), nil
}

// DeleteRun removes a run and, through cascading foreign keys, its frames
// and lanes.
func (s *RunStore) DeleteRun(runID string) error {
	return s.retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM lane_decode_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

const busyRetries = 5

// retryOnBusy re-runs fn while SQLite reports the database as locked.
func (s *RunStore) retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		s.clock.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
