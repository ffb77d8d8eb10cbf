// Package archive persists completed sessions and every note version to an
// embedded sqlite database so revision history survives restarts.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	patient_name  TEXT NOT NULL,
	template_id   TEXT NOT NULL,
	engine        TEXT,
	engine_model  TEXT,
	duration      REAL,
	transcript    TEXT,
	segments      TEXT,
	failure_kind  TEXT,
	consent_at    TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS note_versions (
	session_id   TEXT NOT NULL,
	version      INTEGER NOT NULL,
	template_id  TEXT NOT NULL,
	backend      TEXT NOT NULL,
	model        TEXT,
	sections     TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	PRIMARY KEY (session_id, version)
);
`

// Archive is a sqlite-backed session and note store.
type Archive struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the archive database at path and applies
// the schema. WAL mode keeps readers from blocking the pipeline's writes.
func Open(path string, log zerolog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Archive{db: db, log: log.With().Str("component", "archive").Logger()}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

// SaveSession upserts the session row and records any note versions it
// carries.
func (a *Archive) SaveSession(snap *session.Snapshot) error {
	segments, err := json.Marshal(snap.Segments)
	if err != nil {
		return fmt.Errorf("encoding segments: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO sessions (id, stage, patient_name, template_id, engine, engine_model,
			duration, transcript, segments, failure_kind, consent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			engine = excluded.engine,
			engine_model = excluded.engine_model,
			duration = excluded.duration,
			transcript = excluded.transcript,
			segments = excluded.segments,
			failure_kind = excluded.failure_kind,
			updated_at = excluded.updated_at`,
		snap.ID, string(snap.Stage), snap.Consent.PatientName, snap.TemplateID,
		snap.Engine, snap.EngineModel, snap.Duration, snap.Transcript, string(segments),
		string(snap.FailureKind), snap.Consent.ObtainedAt.Format(time.RFC3339),
		snap.CreatedAt.Format(time.RFC3339), snap.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", snap.ID, err)
	}

	for _, note := range snap.Notes {
		if err := a.SaveNoteVersion(snap.ID, note); err != nil {
			return err
		}
	}
	return nil
}

// SaveNoteVersion records one note version. Saving an existing version again
// is a no-op: versions are immutable.
func (a *Archive) SaveNoteVersion(sessionID string, note *notegen.Note) error {
	sections, err := json.Marshal(note.Sections)
	if err != nil {
		return fmt.Errorf("encoding sections: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO note_versions (session_id, version, template_id, backend, model, sections, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, version) DO NOTHING`,
		sessionID, note.Version, note.TemplateID, note.Backend, note.Model,
		string(sections), note.GeneratedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving note v%d for %s: %w", note.Version, sessionID, err)
	}
	return nil
}

// NoteVersions returns all note versions for a session, oldest first.
func (a *Archive) NoteVersions(sessionID string) ([]*notegen.Note, error) {
	rows, err := a.db.Query(`
		SELECT version, template_id, backend, model, sections, generated_at
		FROM note_versions WHERE session_id = ? ORDER BY version`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying note versions: %w", err)
	}
	defer rows.Close()

	var notes []*notegen.Note
	for rows.Next() {
		var n notegen.Note
		var sections, generatedAt string
		if err := rows.Scan(&n.Version, &n.TemplateID, &n.Backend, &n.Model, &sections, &generatedAt); err != nil {
			return nil, fmt.Errorf("scanning note version: %w", err)
		}
		if err := json.Unmarshal([]byte(sections), &n.Sections); err != nil {
			return nil, fmt.Errorf("decoding sections: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, generatedAt); perr == nil {
			n.GeneratedAt = t
		}
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// Session returns an archived session snapshot, or sql.ErrNoRows when absent.
func (a *Archive) Session(id string) (*session.Snapshot, error) {
	row := a.db.QueryRow(`
		SELECT id, stage, patient_name, template_id, engine, engine_model,
			duration, transcript, segments, failure_kind, consent_at, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var snap session.Snapshot
	var stage, segments, failureKind, consentAt, createdAt, updatedAt string
	err := row.Scan(&snap.ID, &stage, &snap.Consent.PatientName, &snap.TemplateID,
		&snap.Engine, &snap.EngineModel, &snap.Duration, &snap.Transcript,
		&segments, &failureKind, &consentAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	snap.Stage = session.Stage(stage)
	snap.FailureKind = session.Kind(failureKind)
	snap.Consent.Approved = true // only consented sessions reach the archive
	if segments != "" {
		if err := json.Unmarshal([]byte(segments), &snap.Segments); err != nil {
			return nil, fmt.Errorf("decoding segments: %w", err)
		}
	}
	snap.Consent.ObtainedAt, _ = time.Parse(time.RFC3339, consentAt)
	snap.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	snap.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	notes, err := a.NoteVersions(id)
	if err != nil {
		return nil, err
	}
	snap.Notes = notes
	return &snap, nil
}
