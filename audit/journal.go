package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"anarchy.ttfm/donations/donation"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Journal is the durable, append-only mirror of every audit trail. The
// tables refuse UPDATE and DELETE through triggers.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) a SQLite journal at the given path.
// Pass ":memory:" for an in-memory journal.
func OpenJournal(dsn string) (j *Journal, err error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if dsn == ":memory:" {
		// Every connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set wal mode: %w", err)
		}
	}

	err = createTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Journal{db: db}, nil
}

func createTables(db *sql.DB) (err error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			donation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			details TEXT NOT NULL,
			sensitive INTEGER NOT NULL,
			UNIQUE (donation_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_donation ON audit_entries(donation_id)`,
		`CREATE TRIGGER IF NOT EXISTS audit_entries_no_update BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END`,

		`CREATE TABLE IF NOT EXISTS identity_links (
			temporary_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			linked_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identity_links_server ON identity_links(server_id)`,
		`CREATE TRIGGER IF NOT EXISTS identity_links_no_update BEFORE UPDATE ON identity_links
		BEGIN SELECT RAISE(ABORT, 'identity links are append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS identity_links_no_delete BEFORE DELETE ON identity_links
		BEGIN SELECT RAISE(ABORT, 'identity links are append-only'); END`,
	}

	for _, stmt := range stmts {
		_, err = db.Exec(stmt)
		if err != nil {
			return fmt.Errorf("failed to exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (j *Journal) Close() (err error) {
	return j.db.Close()
}

// Append stores entry. Storing the same (donation, seq) twice is a no-op.
func (j *Journal) Append(ctx context.Context, donationId string, entry donation.AuditEntry) (err error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_entries
		(id, donation_id, seq, timestamp, event_type, details, sensitive)
		VALUES (?,?,?,?,?,?,?)`,
		uuid.NewString(), donationId, entry.Seq, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Type, string(details), entry.Sensitive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// Link records that temporaryId was promoted to serverId
func (j *Journal) Link(ctx context.Context, temporaryId, serverId string, at time.Time) (err error) {
	_, err = j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO identity_links (temporary_id, server_id, linked_at) VALUES (?,?,?)`,
		temporaryId, serverId, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// Entries lists the trail of a donation in order, including the entries
// written under a temporary id it was promoted from.
func (j *Journal) Entries(ctx context.Context, donationId string) (entries []donation.AuditEntry, err error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, timestamp, event_type, details, sensitive FROM audit_entries
		WHERE donation_id = ?
		   OR donation_id IN (SELECT temporary_id FROM identity_links WHERE server_id = ?)
		ORDER BY seq`,
		donationId, donationId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry     donation.AuditEntry
			timestamp string
			details   string
		)
		err = rows.Scan(&entry.Seq, &timestamp, &entry.Type, &details, &entry.Sensitive)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		err = json.Unmarshal([]byte(details), &entry.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ServerId resolves a promoted temporary id
func (j *Journal) ServerId(ctx context.Context, temporaryId string) (serverId string, found bool, err error) {
	err = j.db.QueryRowContext(ctx,
		`SELECT server_id FROM identity_links WHERE temporary_id = ?`, temporaryId,
	).Scan(&serverId)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query link: %w", err)
	}
	return serverId, true, nil
}
