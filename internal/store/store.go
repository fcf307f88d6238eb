// Package store implements the durable persistence layer (spec §4.7):
// SQLite-backed CRUD for beads and the two tagged dependency-edge
// relations, and the find_blocked_beads recovery query.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-dev/weave/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS beads (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	spec TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'pending',
	restart_count INTEGER NOT NULL DEFAULT 0,
	last_claim_worker TEXT NOT NULL DEFAULT '',
	last_state_change_ts DATETIME,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS depends_on (
	bead_id TEXT NOT NULL,
	target_bead_id TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	metadata TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (bead_id, target_bead_id)
);

CREATE TABLE IF NOT EXISTS blocks (
	bead_id TEXT NOT NULL,
	target_bead_id TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	metadata TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (bead_id, target_bead_id)
);

CREATE TABLE IF NOT EXISTS events (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	bead_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL DEFAULT '',
	from_state TEXT NOT NULL DEFAULT '',
	to_state TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL DEFAULT (datetime('now')),
	payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_beads_workflow ON beads(workflow_id);
CREATE INDEX IF NOT EXISTS idx_depends_on_bead ON depends_on(bead_id);
CREATE INDEX IF NOT EXISTS idx_blocks_bead ON blocks(bead_id);
CREATE INDEX IF NOT EXISTS idx_events_bead ON events(bead_id);
`

// Store provides SQLite-backed persistence for bead and dependency
// state.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath in WAL mode and
// ensures the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceTransport, Err: fmt.Errorf("open %s: %w", dbPath, err)}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: fmt.Errorf("create schema: %w", err)}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutBead inserts or replaces a bead record.
func (s *Store) PutBead(b model.Bead) error {
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	var lastWorker string
	if b.LastClaimWorker != nil {
		lastWorker = string(*b.LastClaimWorker)
	}
	var lastChange sql.NullTime
	if b.LastStateChangeTs != nil {
		lastChange = sql.NullTime{Time: *b.LastStateChangeTs, Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO beads (id, workflow_id, spec, state, restart_count, last_claim_worker, last_state_change_ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			spec = excluded.spec,
			state = excluded.state,
			restart_count = excluded.restart_count,
			last_claim_worker = excluded.last_claim_worker,
			last_state_change_ts = excluded.last_state_change_ts,
			metadata = excluded.metadata;`,
		string(b.ID), string(b.WorkflowID), b.Spec, string(b.State), b.RestartCount, lastWorker, lastChange, string(meta),
	)
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	return nil
}

// GetBead reads a single bead by id.
func (s *Store) GetBead(id model.BeadId) (model.Bead, error) {
	row := s.db.QueryRow(`SELECT id, workflow_id, spec, state, restart_count, last_claim_worker, last_state_change_ts, metadata FROM beads WHERE id = ?;`, string(id))
	return scanBead(row)
}

// DeleteBead removes a bead record. Returns model.PersistenceError{Kind:
// PersistenceNotFound} if it does not exist.
func (s *Store) DeleteBead(id model.BeadId) error {
	res, err := s.db.Exec(`DELETE FROM beads WHERE id = ?;`, string(id))
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	if n == 0 {
		return &model.PersistenceError{Kind: model.PersistenceNotFound}
	}
	return nil
}

func scanBead(row *sql.Row) (model.Bead, error) {
	var b model.Bead
	var id, workflowID, state, lastWorker, meta string
	var lastChange sql.NullTime
	if err := row.Scan(&id, &workflowID, &b.Spec, &state, &b.RestartCount, &lastWorker, &lastChange, &meta); err != nil {
		if err == sql.ErrNoRows {
			return model.Bead{}, &model.PersistenceError{Kind: model.PersistenceNotFound}
		}
		return model.Bead{}, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	b.ID = model.BeadId(id)
	b.WorkflowID = model.WorkflowId(workflowID)
	b.State = model.BeadState(state)
	if lastWorker != "" {
		w := model.WorkerId(lastWorker)
		b.LastClaimWorker = &w
	}
	if lastChange.Valid {
		t := lastChange.Time
		b.LastStateChangeTs = &t
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &b.Metadata); err != nil {
			return model.Bead{}, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
		}
	}
	return b, nil
}

// edgeTable returns the table name backing a relation.
func edgeTable(r model.Relation) (string, error) {
	switch r {
	case model.DependsOn:
		return "depends_on", nil
	case model.Blocks:
		return "blocks", nil
	default:
		return "", fmt.Errorf("store: unknown relation %q", r)
	}
}

// PutEdge inserts a dependency edge into the relation's tagged table.
func (s *Store) PutEdge(e model.DependencyEdge) error {
	table, err := edgeTable(e.Relation)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	_, err = s.db.Exec(fmt.Sprintf(`INSERT OR IGNORE INTO %s (bead_id, target_bead_id, created_at, metadata) VALUES (?, ?, ?, ?);`, table),
		string(e.Src), string(e.Dst), e.Created, string(meta))
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	return nil
}

// DeleteEdge removes a dependency edge from the relation's tagged table.
func (s *Store) DeleteEdge(src, dst model.BeadId, relation model.Relation) error {
	table, err := edgeTable(relation)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE bead_id = ? AND target_bead_id = ?;`, table), string(src), string(dst))
	if err != nil {
		return &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	return nil
}

// FindBlockedBeads aggregates the two edge tables in application code,
// per spec §4.7/§9 (a deliberate choice to keep the storage contract
// minimal rather than pushing the join into a stored procedure).
// It returns one entry per bead with at least one outstanding dependency
// or blocker, sorted by bead_id, with each blocking_deps list sorted and
// deduplicated.
func (s *Store) FindBlockedBeads() ([]model.BlockedBead, error) {
	blocking := make(map[model.BeadId]map[model.BeadId]struct{})
	add := func(blockedID, blockerID model.BeadId) {
		if blocking[blockedID] == nil {
			blocking[blockedID] = make(map[model.BeadId]struct{})
		}
		blocking[blockedID][blockerID] = struct{}{}
	}

	// depends_on: bead_id depends on target_bead_id, so bead_id is the
	// blocked party and the unfinished target_bead_id is what blocks it.
	depRows, err := s.db.Query(`
		SELECT e.bead_id, e.target_bead_id
		FROM depends_on e
		JOIN beads dep ON dep.id = e.target_bead_id
		WHERE dep.state != ?;`, string(model.Completed))
	if err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	err = func() error {
		defer depRows.Close()
		for depRows.Next() {
			var beadID, targetID string
			if err := depRows.Scan(&beadID, &targetID); err != nil {
				return err
			}
			add(model.BeadId(beadID), model.BeadId(targetID))
		}
		return depRows.Err()
	}()
	if err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}

	// blocks: bead_id blocks target_bead_id, so target_bead_id is the
	// blocked party and the not-Completed bead_id is what blocks it.
	// This is the reverse role assignment from depends_on.
	blockRows, err := s.db.Query(`
		SELECT e.bead_id, e.target_bead_id
		FROM blocks e
		JOIN beads blocker ON blocker.id = e.bead_id
		WHERE blocker.state != ?;`, string(model.Completed))
	if err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	err = func() error {
		defer blockRows.Close()
		for blockRows.Next() {
			var beadID, targetID string
			if err := blockRows.Scan(&beadID, &targetID); err != nil {
				return err
			}
			add(model.BeadId(targetID), model.BeadId(beadID))
		}
		return blockRows.Err()
	}()
	if err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}

	out := make([]model.BlockedBead, 0, len(blocking))
	for id, deps := range blocking {
		depList := make([]model.BeadId, 0, len(deps))
		for d := range deps {
			depList = append(depList, d)
		}
		sort.Slice(depList, func(i, j int) bool { return depList[i] < depList[j] })
		out = append(out, model.BlockedBead{BeadID: id, BlockingDeps: depList})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BeadID < out[j].BeadID })
	return out, nil
}

// PutEvent appends an event record to the durable events table. This is
// used by internal/eventstore's durable backing, not called directly by
// the scheduler.
func (s *Store) PutEvent(e model.BeadEvent) (model.EventId, error) {
	var workflowID string
	if e.WorkflowID != nil {
		workflowID = string(*e.WorkflowID)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	res, err := s.db.Exec(`
		INSERT INTO events (kind, bead_id, workflow_id, from_state, to_state, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?);`,
		string(e.Kind), string(e.BeadID), workflowID, string(e.FromState), string(e.ToState), e.Timestamp, string(payload))
	if err != nil {
		return 0, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	return model.EventId(id), nil
}

// ReadEvents returns all durable events strictly after `from` (or the
// whole log if from is nil), in insertion order.
func (s *Store) ReadEvents(from *model.EventId) ([]model.BeadEvent, error) {
	var rows *sql.Rows
	var err error
	if from != nil {
		rows, err = s.db.Query(`SELECT event_id, kind, bead_id, workflow_id, from_state, to_state, timestamp, payload FROM events WHERE event_id > ? ORDER BY event_id ASC;`, uint64(*from))
	} else {
		rows, err = s.db.Query(`SELECT event_id, kind, bead_id, workflow_id, from_state, to_state, timestamp, payload FROM events ORDER BY event_id ASC;`)
	}
	if err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	defer rows.Close()

	var out []model.BeadEvent
	for rows.Next() {
		var ev model.BeadEvent
		var eventID uint64
		var kind, beadID, workflowID, fromState, toState, payload string
		var ts time.Time
		if err := rows.Scan(&eventID, &kind, &beadID, &workflowID, &fromState, &toState, &ts, &payload); err != nil {
			return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
		}
		ev.EventID = model.EventId(eventID)
		ev.Kind = model.EventKind(kind)
		ev.BeadID = model.BeadId(beadID)
		if workflowID != "" {
			wf := model.WorkflowId(workflowID)
			ev.WorkflowID = &wf
		}
		ev.FromState = model.BeadState(fromState)
		ev.ToState = model.BeadState(toState)
		ev.Timestamp = ts
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.PersistenceError{Kind: model.PersistenceQueryFailed, Err: err}
	}
	return out, nil
}
