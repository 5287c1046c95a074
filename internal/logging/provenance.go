package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// timeLayout matches the weight store so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (pass_id, trigger_type, record_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.PassID,
		entry.TriggerType,
		nullIfEmpty(entry.RecordJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// LogStep serializes a step record and logs it under the given trigger.
func LogStep(db *sql.DB, trigger string, rec StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}
	return LogDecision(db, ProvenanceEntry{
		PassID:      rec.PassID,
		TriggerType: trigger,
		RecordJSON:  string(data),
		Decision:    rec.GateAction,
		Reason:      rec.GateReason,
	})
}

// #endregion log-decision

// #region list
// ListDecisions returns the most recent provenance entries, newest first.
func ListDecisions(db *sql.DB, limit int) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT pass_id, trigger_type, record_json, decision, reason, created_at
		 FROM provenance_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var (
			e              ProvenanceEntry
			record, reason sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&e.PassID, &e.TriggerType, &record, &e.Decision, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.RecordJSON = record.String
		e.Reason = reason.String
		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DecodeStep parses the record_json of a step entry.
func DecodeStep(e ProvenanceEntry) (StepRecord, error) {
	var rec StepRecord
	if err := json.Unmarshal([]byte(e.RecordJSON), &rec); err != nil {
		return StepRecord{}, fmt.Errorf("decode step record: %w", err)
	}
	return rec, nil
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
