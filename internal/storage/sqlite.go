package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding profile sections, question progress,
// chat sessions and their messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vitals.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// --- Profile sections ---

// UpsertSection creates or replaces the section keyed by (user, section id).
func (s *Store) UpsertSection(sec Section) error {
	updated := sec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO profile_sections (user_id, section_id, title, content, order_index, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, section_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			order_index = excluded.order_index,
			updated_at = excluded.updated_at`,
		sec.UserID, sec.SectionID, sec.Title, sec.Content, sec.OrderIndex, formatTime(updated),
	)
	return err
}

func (s *Store) GetSection(userID, sectionID string) (Section, error) {
	var sec Section
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, section_id, title, content, order_index, updated_at
		FROM profile_sections WHERE user_id = ? AND section_id = ?`, userID, sectionID,
	).Scan(&sec.UserID, &sec.SectionID, &sec.Title, &sec.Content, &sec.OrderIndex, &updatedAt)
	if err == sql.ErrNoRows {
		return Section{}, ErrNotFound
	}
	if err != nil {
		return Section{}, err
	}
	if sec.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Section{}, err
	}
	return sec, nil
}

// ListSections returns the user's sections ordered by order index.
func (s *Store) ListSections(userID string) ([]Section, error) {
	rows, err := s.db.Query(`
		SELECT user_id, section_id, title, content, order_index, updated_at
		FROM profile_sections WHERE user_id = ? ORDER BY order_index ASC, section_id ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Section
	for rows.Next() {
		var sec Section
		var updatedAt string
		if err := rows.Scan(&sec.UserID, &sec.SectionID, &sec.Title, &sec.Content, &sec.OrderIndex, &updatedAt); err != nil {
			return nil, err
		}
		if sec.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
			return nil, err
		}
		results = append(results, sec)
	}
	return results, rows.Err()
}

// --- Question progress ---

// UpsertProgress records progress for (user, question). is_answered only ever
// moves from 0 to 1: writing an unanswered record over an answered one keeps
// the answer and its summary.
func (s *Store) UpsertProgress(p QuestionProgress) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO question_progress (user_id, question_id, section_id, priority, is_answered, answer_summary, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, question_id) DO UPDATE SET
			section_id = excluded.section_id,
			priority = excluded.priority,
			answer_summary = CASE WHEN excluded.is_answered = 1 THEN excluded.answer_summary ELSE question_progress.answer_summary END,
			source = CASE WHEN excluded.is_answered = 1 THEN excluded.source ELSE question_progress.source END,
			is_answered = MAX(question_progress.is_answered, excluded.is_answered),
			updated_at = excluded.updated_at`,
		p.UserID, p.QuestionID, p.SectionID, p.Priority, boolInt(p.IsAnswered), p.AnswerSummary, p.Source, formatTime(updated),
	)
	return err
}

// AnsweredQuestionIDs returns the set of question ids the user has answered.
func (s *Store) AnsweredQuestionIDs(userID string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT question_id FROM question_progress WHERE user_id = ? AND is_answered = 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (s *Store) GetProgress(userID, questionID string) (QuestionProgress, error) {
	var p QuestionProgress
	var answered int
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, question_id, section_id, priority, is_answered, answer_summary, source, updated_at
		FROM question_progress WHERE user_id = ? AND question_id = ?`, userID, questionID,
	).Scan(&p.UserID, &p.QuestionID, &p.SectionID, &p.Priority, &answered, &p.AnswerSummary, &p.Source, &updatedAt)
	if err == sql.ErrNoRows {
		return QuestionProgress{}, ErrNotFound
	}
	if err != nil {
		return QuestionProgress{}, err
	}
	p.IsAnswered = answered == 1
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return QuestionProgress{}, err
	}
	return p, nil
}
