package state

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/kntkb/espfit/internal/reweight"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS weight_passes (
	pass_id      TEXT NOT NULL,
	target_name  TEXT NOT NULL,
	ess          REAL NOT NULL,
	n_frames     INTEGER NOT NULL,
	weights      BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (pass_id, target_name)
);

CREATE TABLE IF NOT EXISTS latest_weights (
	target_name  TEXT PRIMARY KEY,
	pass_id      TEXT NOT NULL,
	FOREIGN KEY (pass_id, target_name) REFERENCES weight_passes(pass_id, target_name)
);

CREATE TABLE IF NOT EXISTS provenance_log (
	pass_id      TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	record_json  TEXT,
	decision     TEXT NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL
);
`

// #endregion schema

// timeLayout is fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store persists reweighting passes in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region save-weights
// SaveWeights stores rec under passID and makes it the latest record for target.
// Saving the same (pass, target) twice overwrites the earlier row.
func (s *Store) SaveWeights(passID, targetName string, rec reweight.WeightRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO weight_passes (pass_id, target_name, ess, n_frames, weights, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pass_id, target_name) DO UPDATE SET
		   ess = excluded.ess, n_frames = excluded.n_frames,
		   weights = excluded.weights, created_at = excluded.created_at`,
		passID, targetName, rec.ESS, len(rec.Weights), encodeWeights(rec.Weights),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert weights: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO latest_weights (target_name, pass_id) VALUES (?, ?)
		 ON CONFLICT(target_name) DO UPDATE SET pass_id = excluded.pass_id`,
		targetName, passID,
	)
	if err != nil {
		return fmt.Errorf("set latest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion save-weights

// #region latest
// Latest returns the most recently saved record for a target.
func (s *Store) Latest(targetName string) (PassRecord, error) {
	var passID string
	err := s.db.QueryRow(
		`SELECT pass_id FROM latest_weights WHERE target_name = ?`, targetName,
	).Scan(&passID)
	if err != nil {
		return PassRecord{}, fmt.Errorf("get latest %s: %w", targetName, err)
	}
	return s.get(passID, targetName)
}

func (s *Store) get(passID, targetName string) (PassRecord, error) {
	row := s.db.QueryRow(
		`SELECT pass_id, target_name, ess, weights, created_at
		 FROM weight_passes WHERE pass_id = ? AND target_name = ?`, passID, targetName,
	)
	rec, err := scanPassRecord(row)
	if err != nil {
		return PassRecord{}, fmt.Errorf("get pass %s/%s: %w", passID, targetName, err)
	}
	return rec, nil
}

// #endregion latest

// #region get-pass
// GetPass returns every target record saved under passID, ordered by target name.
func (s *Store) GetPass(passID string) ([]PassRecord, error) {
	rows, err := s.db.Query(
		`SELECT pass_id, target_name, ess, weights, created_at
		 FROM weight_passes WHERE pass_id = ? ORDER BY target_name`, passID,
	)
	if err != nil {
		return nil, fmt.Errorf("get pass: %w", err)
	}
	defer rows.Close()

	var records []PassRecord
	for rows.Next() {
		rec, err := scanPassRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("pass %s not found", passID)
	}
	return records, nil
}

// #endregion get-pass

// #region list-passes
// ListPasses returns the most recent passes with their minimum ESS.
func (s *Store) ListPasses(limit int) ([]PassSummary, error) {
	rows, err := s.db.Query(
		`SELECT pass_id, COUNT(*), MIN(ess), MAX(created_at) AS last
		 FROM weight_passes GROUP BY pass_id ORDER BY last DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var passes []PassSummary
	for rows.Next() {
		var p PassSummary
		var createdStr string
		if err := rows.Scan(&p.PassID, &p.Targets, &p.MinESS, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		created, err := time.Parse(timeLayout, createdStr)
		if err != nil {
			return nil, fmt.Errorf("parse created_at of pass %s: %w", p.PassID, err)
		}
		p.CreatedAt = created
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// #endregion list-passes

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanPassRecord(sc scanner) (PassRecord, error) {
	var rec PassRecord
	var blob []byte
	var createdStr string
	if err := sc.Scan(&rec.PassID, &rec.TargetName, &rec.Record.ESS, &blob, &createdStr); err != nil {
		return PassRecord{}, err
	}
	rec.Record.Weights = decodeWeights(blob)
	created, err := time.Parse(timeLayout, createdStr)
	if err != nil {
		return PassRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = created
	return rec, nil
}

// #endregion scan

// #region vector-encoding
func encodeWeights(w []float64) []byte {
	buf := make([]byte, len(w)*8)
	for i, f := range w {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeWeights(b []byte) []float64 {
	w := make([]float64, len(b)/8)
	for i := range w {
		w[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return w
}

// #endregion vector-encoding
