// internal/archive/archive.go
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists finished discussions and debates for later review.
type Store struct {
	db  *sql.DB
	dir string
}

// Discussion is an archived roundtable result.
type Discussion struct {
	ID        string
	ChatID    int64
	Topic     string
	Rounds    int
	Score     float64
	Reason    string
	BestAgent string
	Final     string
	CreatedAt time.Time
}

// Debate is an archived debate result.
type Debate struct {
	ID        string
	ChatID    int64
	Topic     string
	Pro       string
	Con       string
	Judge     string
	Winner    string
	ProTotal  float64
	ConTotal  float64
	Judgment  string
	CreatedAt time.Time
}

// Statement is one transcript line belonging to an archived record.
type Statement struct {
	RecordID string
	Phase    string
	Side     string
	Agent    string
	Content  string
}

// Open creates or opens the archive database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "agora.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &Store{db: db, dir: dir}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenDefault opens the archive in the user's data directory.
func OpenDefault() (*Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	return Open(dir)
}

func dataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "agora"), nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS discussions (
		id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		topic TEXT NOT NULL,
		rounds INTEGER,
		score REAL,
		reason TEXT,
		best_agent TEXT,
		final TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS debates (
		id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		topic TEXT NOT NULL,
		pro TEXT,
		con TEXT,
		judge TEXT,
		winner TEXT,
		pro_total REAL,
		con_total REAL,
		judgment TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transcript (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		phase TEXT,
		side TEXT,
		agent TEXT NOT NULL,
		content TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_record ON transcript(record_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDiscussion archives a finished roundtable with its transcript and
// returns the record id.
func (s *Store) SaveDiscussion(d Discussion, transcript []Statement) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO discussions (id, chat_id, topic, rounds, score, reason, best_agent, final)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, d.ChatID, d.Topic, d.Rounds, d.Score, d.Reason, d.BestAgent, d.Final,
	)
	if err != nil {
		return "", err
	}
	return id, s.addTranscript(id, transcript)
}

// SaveDebate archives a finished debate with its transcript and returns the
// record id.
func (s *Store) SaveDebate(d Debate, transcript []Statement) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO debates (id, chat_id, topic, pro, con, judge, winner, pro_total, con_total, judgment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, d.ChatID, d.Topic, d.Pro, d.Con, d.Judge, d.Winner, d.ProTotal, d.ConTotal, d.Judgment,
	)
	if err != nil {
		return "", err
	}
	return id, s.addTranscript(id, transcript)
}

func (s *Store) addTranscript(id string, transcript []Statement) error {
	for _, st := range transcript {
		_, err := s.db.Exec(
			`INSERT INTO transcript (record_id, phase, side, agent, content) VALUES (?, ?, ?, ?, ?)`,
			id, st.Phase, st.Side, st.Agent, st.Content,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetDiscussion retrieves an archived discussion by id.
func (s *Store) GetDiscussion(id string) (*Discussion, error) {
	row := s.db.QueryRow(
		`SELECT id, chat_id, topic, rounds, score, reason, best_agent, final, created_at
		 FROM discussions WHERE id = ?`, id,
	)
	var d Discussion
	var reason, bestAgent, final sql.NullString
	err := row.Scan(&d.ID, &d.ChatID, &d.Topic, &d.Rounds, &d.Score, &reason, &bestAgent, &final, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Reason = reason.String
	d.BestAgent = bestAgent.String
	d.Final = final.String
	return &d, nil
}

// GetDebate retrieves an archived debate by id.
func (s *Store) GetDebate(id string) (*Debate, error) {
	row := s.db.QueryRow(
		`SELECT id, chat_id, topic, pro, con, judge, winner, pro_total, con_total, judgment, created_at
		 FROM debates WHERE id = ?`, id,
	)
	var d Debate
	var winner, judgment sql.NullString
	err := row.Scan(&d.ID, &d.ChatID, &d.Topic, &d.Pro, &d.Con, &d.Judge, &winner, &d.ProTotal, &d.ConTotal, &judgment, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Winner = winner.String
	d.Judgment = judgment.String
	return &d, nil
}

// ListDiscussions returns a chat's archived discussions, newest first.
func (s *Store) ListDiscussions(chatID int64) ([]Discussion, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, topic, rounds, score, reason, best_agent, final, created_at
		 FROM discussions WHERE chat_id = ? ORDER BY created_at DESC`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Discussion
	for rows.Next() {
		var d Discussion
		var reason, bestAgent, final sql.NullString
		if err := rows.Scan(&d.ID, &d.ChatID, &d.Topic, &d.Rounds, &d.Score, &reason, &bestAgent, &final, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Reason = reason.String
		d.BestAgent = bestAgent.String
		d.Final = final.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// ExportMarkdown renders an archived record to a markdown file under the
// store's transcripts directory and returns the file path. The id may refer
// to either a discussion or a debate.
func (s *Store) ExportMarkdown(recordID string) (string, error) {
	transcript, err := s.GetTranscript(recordID)
	if err != nil {
		return "", err
	}

	var doc string
	if d, derr := s.GetDiscussion(recordID); derr == nil {
		doc = DiscussionMarkdown(d, transcript)
	} else if db, dberr := s.GetDebate(recordID); dberr == nil {
		doc = DebateMarkdown(db, transcript)
	} else {
		return "", fmt.Errorf("no archived record %s", recordID)
	}

	outDir := filepath.Join(s.dir, "transcripts")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, recordID+".md")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// GetTranscript retrieves the transcript for an archived record in order.
func (s *Store) GetTranscript(recordID string) ([]Statement, error) {
	rows, err := s.db.Query(
		`SELECT record_id, phase, side, agent, content FROM transcript WHERE record_id = ? ORDER BY id`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Statement
	for rows.Next() {
		var st Statement
		var phase, side sql.NullString
		if err := rows.Scan(&st.RecordID, &phase, &side, &st.Agent, &st.Content); err != nil {
			return nil, err
		}
		st.Phase = phase.String
		st.Side = side.String
		out = append(out, st)
	}
	return out, rows.Err()
}
