package bench

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    question_set TEXT NOT NULL,
    template TEXT NOT NULL,
    model TEXT NOT NULL,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    questions_total INTEGER DEFAULT 0,
    questions_failed INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS answers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    question_id TEXT NOT NULL,
    question TEXT NOT NULL,
    document TEXT,
    answer TEXT,
    expected TEXT,
    error BOOLEAN DEFAULT FALSE,
    seconds REAL,
    tokens INTEGER
);

CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
`

// Session is one recorded benchmark execution.
type Session struct {
	ID          string
	QuestionSet string
	Template    string
	Model       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Total       int
	Failed      int
}

// Answer is one recorded benchmark answer.
type Answer struct {
	SessionID  string
	QuestionID string
	Question   string
	Document   string
	Answer     string
	Expected   string
	Error      bool
	Seconds    float64
	Tokens     int
}

// Store keeps benchmark sessions in SQLite so results accumulate across
// invocations and can be compared later.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the benchmark database.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession records the start of a benchmark execution.
func (s *Store) CreateSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, question_set, template, model, started_at, questions_total)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.QuestionSet, sess.Template, sess.Model, sess.StartedAt, sess.Total)
	return err
}

// FinishSession records the end and the failure count of a session.
func (s *Store) FinishSession(id string, finishedAt time.Time, failed int) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET finished_at = ?, questions_failed = ? WHERE id = ?
	`, finishedAt, failed, id)
	return err
}

// SaveAnswer appends one answer to a session.
func (s *Store) SaveAnswer(a *Answer) error {
	_, err := s.db.Exec(`
		INSERT INTO answers (session_id, question_id, question, document, answer, expected, error, seconds, tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.SessionID, a.QuestionID, a.Question, a.Document, a.Answer, a.Expected, a.Error, a.Seconds, a.Tokens)
	return err
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, question_set, template, model, started_at,
		       COALESCE(finished_at, started_at), questions_total, questions_failed
		FROM sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.QuestionSet, &sess.Template, &sess.Model,
			&sess.StartedAt, &sess.FinishedAt, &sess.Total, &sess.Failed); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// SessionAnswers returns the answers of one session in insertion order.
func (s *Store) SessionAnswers(sessionID string) ([]*Answer, error) {
	rows, err := s.db.Query(`
		SELECT session_id, question_id, question, document, answer, expected, error, seconds, tokens
		FROM answers WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.Question, &a.Document,
			&a.Answer, &a.Expected, &a.Error, &a.Seconds, &a.Tokens); err != nil {
			return nil, err
		}
		answers = append(answers, &a)
	}
	return answers, rows.Err()
}
