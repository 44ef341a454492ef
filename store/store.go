// store/store.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sammcj/deskchat/history"
	"github.com/sammcj/deskchat/types"
	"github.com/vmihailenco/msgpack/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS interactions (
	session_id TEXT    NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	PRIMARY KEY (session_id, position)
);
`

// Interaction kinds as stored
const (
	KindResponse   = "response"
	KindToolResult = "tool_result"
	KindUser       = "user"
)

// Store keeps conversation histories in SQLite. Each history belongs to a
// session; the store works on the most recent one unless told otherwise.
type Store struct {
	db      *sql.DB
	session string
	logger  *log.Logger
}

// SessionInfo summarises one stored session
type SessionInfo struct {
	ID           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Interactions int
}

// record is the stored shape of one interaction. Interaction ids are not
// stored; they are process-local and reassigned on load.
type record struct {
	Kind       string           `msgpack:"kind"`
	Content    []types.Content  `msgpack:"content,omitempty"`
	ToolCalls  []types.ToolCall `msgpack:"tool_calls,omitempty"`
	ToolCallID string           `msgpack:"tool_call_id,omitempty"`
	Response   string           `msgpack:"response,omitempty"`
	ForLLM     []types.Content  `msgpack:"for_llm,omitempty"`
	ForUser    []types.Content  `msgpack:"for_user,omitempty"`
}

// Open opens or creates the database at path and resumes its latest session
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, &types.StoreError{Operation: "open", Message: "failed to open database", Err: err}
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &types.StoreError{Operation: "open", Message: "failed to create schema", Err: err}
	}

	s := &Store{db: db, logger: logger}
	if err := s.resume(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) resume(ctx context.Context) error {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sessions ORDER BY updated_at DESC, created_at DESC LIMIT 1`).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.NewSession(ctx)
		return err
	case err != nil:
		return &types.StoreError{Operation: "open", Message: "failed to read sessions", Err: err}
	}
	s.session = id
	s.logger.Printf("Resuming session %s", id)
	return nil
}

// Session returns the id of the current session
func (s *Store) Session() string {
	return s.session
}

// NewSession starts an empty session and makes it current
func (s *Store) NewSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now); err != nil {
		return "", &types.StoreError{Operation: "new_session", Message: "failed to create session", Err: err}
	}
	s.session = id
	s.logger.Printf("Started session %s", id)
	return id, nil
}

// Sessions lists stored sessions, most recently updated first
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM interactions i WHERE i.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.created_at DESC`)
	if err != nil {
		return nil, &types.StoreError{Operation: "sessions", Message: "failed to list sessions", Err: err}
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.UpdatedAt, &info.Interactions); err != nil {
			return nil, &types.StoreError{Operation: "sessions", Message: "failed to scan session", Err: err}
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Operation: "sessions", Message: "failed to list sessions", Err: err}
	}
	return out, nil
}

// Save replaces the stored history of the current session
func (s *Store) Save(ctx context.Context, h *history.History) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StoreError{Operation: "save", Message: "failed to begin transaction", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE session_id = ?`, s.session); err != nil {
		return &types.StoreError{Operation: "save", Message: "failed to clear session", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO interactions (session_id, position, kind, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return &types.StoreError{Operation: "save", Message: "failed to prepare insert", Err: err}
	}
	defer stmt.Close()

	for pos, it := range h.Items() {
		rec := toRecord(it)
		payload, err := msgpack.Marshal(rec)
		if err != nil {
			return &types.StoreError{Operation: "save", Message: fmt.Sprintf("failed to encode interaction %d", it.InteractionID()), Err: err}
		}
		if _, err := stmt.ExecContext(ctx, s.session, pos, rec.Kind, payload); err != nil {
			return &types.StoreError{Operation: "save", Message: "failed to insert interaction", Err: err}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), s.session); err != nil {
		return &types.StoreError{Operation: "save", Message: "failed to touch session", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &types.StoreError{Operation: "save", Message: "failed to commit", Err: err}
	}
	return nil
}

// Load reads the history of the current session
func (s *Store) Load(ctx context.Context) (*history.History, error) {
	return s.LoadSession(ctx, s.session)
}

// LoadSession reads the history of the given session. Interactions get
// fresh ids.
func (s *Store) LoadSession(ctx context.Context, session string) (*history.History, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, payload FROM interactions WHERE session_id = ? ORDER BY position`, session)
	if err != nil {
		return nil, &types.StoreError{Operation: "load", Message: "failed to query interactions", Err: err}
	}
	defer rows.Close()

	h := history.New()
	for rows.Next() {
		var pos int
		var payload []byte
		if err := rows.Scan(&pos, &payload); err != nil {
			return nil, &types.StoreError{Operation: "load", Message: "failed to scan interaction", Err: err}
		}
		var rec record
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return nil, &types.StoreError{Operation: "load", Message: fmt.Sprintf("failed to decode interaction at position %d", pos), Err: err}
		}
		it, err := rec.interaction()
		if err != nil {
			return nil, &types.StoreError{Operation: "load", Message: fmt.Sprintf("bad interaction at position %d", pos), Err: err}
		}
		h.Push(it)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Operation: "load", Message: "failed to read interactions", Err: err}
	}

	if err := h.Validate(false); err != nil {
		s.logger.Printf("Stored history of session %s is inconsistent: %v", session, err)
	}
	return h, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func toRecord(i types.Interaction) record {
	switch v := i.(type) {
	case *types.LlmResponse:
		return record{Kind: KindResponse, Content: v.Content, ToolCalls: v.ToolCalls}
	case *types.ToolResult:
		return record{Kind: KindToolResult, ToolCallID: v.ToolCallID, Response: v.Response, ForLLM: v.ForLLM, ForUser: v.ForUser}
	case *types.UserMessage:
		return record{Kind: KindUser, Content: v.Content}
	default:
		return record{}
	}
}

func (r record) interaction() (types.Interaction, error) {
	switch r.Kind {
	case KindResponse:
		return types.NewLlmResponse(r.Content, r.ToolCalls), nil
	case KindToolResult:
		return types.NewToolResult(r.ToolCallID, r.Response, r.ForLLM, r.ForUser), nil
	case KindUser:
		return types.NewUserMessage(r.Content), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", r.Kind)
	}
}
