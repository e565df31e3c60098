package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeFields(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode submission fields: %w", err)
	}
	return string(b), nil
}

// scanFlowSubmission scans id, flow_token, screen, fields, created_at.
func scanFlowSubmission(row rowScanner) (models.FlowSubmission, error) {
	var sub models.FlowSubmission
	var fieldsJSON string
	if err := row.Scan(&sub.ID, &sub.FlowToken, &sub.Screen, &fieldsJSON, &sub.CreatedAt); err != nil {
		return sub, fmt.Errorf("scan flow submission failed: %w", err)
	}
	sub.Fields = make(map[string]string)
	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &sub.Fields); err != nil {
			return sub, fmt.Errorf("decode submission fields for %s: %w", sub.ID, err)
		}
	}
	return sub, nil
}

// scanSendRecord scans the send_records columns in table order.
func scanSendRecord(row rowScanner) (models.SendRecord, error) {
	var rec models.SendRecord
	var status string
	var skipCode, reason, messageID sql.NullString
	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.ContactID, &rec.Phone, &rec.TemplateName, &status,
		&skipCode, &reason, &messageID, &rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan send record failed: %w", err)
	}
	rec.Status = models.SendStatus(status)
	rec.SkipCode = skipCode.String
	rec.Reason = reason.String
	rec.MessageID = messageID.String
	return rec, nil
}
