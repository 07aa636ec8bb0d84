package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/openfork/openfork/pkg/models"
)

// SQLiteStore is the durable Store implementation. One database file per
// installation; sessions scope everything beneath them.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" gives
// a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one
	// connection pool entry; serialize through a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			agent_slug TEXT,
			pipeline_id TEXT,
			title TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			id INTEGER NOT NULL,
			role TEXT NOT NULL,
			compacted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS parts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_id INTEGER NOT NULL,
			order_index INTEGER NOT NULL,
			type TEXT NOT NULL,
			body TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_parts_message ON parts(session_id, message_id, order_index)`,
		`CREATE TABLE IF NOT EXISTS subsessions (
			id TEXT PRIMARY KEY,
			parent_session_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subsessions_parent ON subsessions(parent_session_id)`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.UpdatedAt = session.CreatedAt

	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, agent_slug, pipeline_id, title, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.ProjectID, session.AgentSlug, session.PipelineID,
		session.Title, string(meta), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, agent_slug, pipeline_id, title, metadata, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET project_id = ?, agent_slug = ?, pipeline_id = ?, title = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		session.ProjectID, session.AgentSlug, session.PipelineID, session.Title,
		string(meta), session.UpdatedAt, session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRows(res)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRows(res)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, project_id, agent_slug, pipeline_id, title, metadata, created_at, updated_at FROM sessions`
	var where []string
	var args []any
	if opts.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if opts.AgentSlug != "" {
		where = append(where, "agent_slug = ?")
		args = append(args, opts.AgentSlug)
	}
	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.SessionID == "" {
		return errors.New("message with session id is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	// Next monotonic id within the session, under the transaction.
	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE session_id = ?`, msg.SessionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next message id: %w", err)
	}
	msg.ID = next

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, id, role, compacted, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.ID, string(msg.Role), msg.Compacted, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for i, p := range msg.Parts {
		p.SessionID = msg.SessionID
		p.MessageID = msg.ID
		p.OrderIndex = i
		if err := insertPart(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessage(ctx context.Context, sessionID string, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, id, role, compacted, created_at FROM messages WHERE session_id = ? AND id = ?`,
		sessionID, id)
	msg := &models.Message{}
	var role string
	if err := row.Scan(&msg.SessionID, &msg.ID, &role, &msg.Compacted, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	msg.Role = models.Role(role)
	parts, err := s.ListParts(ctx, sessionID, id)
	if err != nil {
		return nil, err
	}
	msg.Parts = parts
	return msg, nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT session_id, id, role, compacted, created_at FROM messages WHERE session_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var history []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var role string
		if err := rows.Scan(&msg.SessionID, &msg.ID, &role, &msg.Compacted, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, msg := range history {
		parts, err := s.ListParts(ctx, sessionID, msg.ID)
		if err != nil {
			return nil, err
		}
		msg.Parts = parts
	}
	return history, nil
}

func (s *SQLiteStore) MarkCompacted(ctx context.Context, sessionID string, messageIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()
	for _, id := range messageIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET compacted = 1 WHERE session_id = ? AND id = ?`, sessionID, id)
		if err != nil {
			return fmt.Errorf("mark compacted: %w", err)
		}
		if err := requireRows(res); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreatePart(ctx context.Context, part *models.Part) error {
	if part == nil {
		return errors.New("part is required")
	}
	if part.CreatedAt.IsZero() {
		part.CreatedAt = time.Now().UTC()
	}
	part.UpdatedAt = part.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()
	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(order_index), -1) + 1 FROM parts WHERE session_id = ? AND message_id = ?`,
		part.SessionID, part.MessageID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next order index: %w", err)
	}
	part.OrderIndex = int(next)
	if err := insertPart(ctx, tx, part); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdatePart(ctx context.Context, part *models.Part) error {
	part.UpdatedAt = time.Now().UTC()
	body, err := marshalBody(part)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE parts SET type = ?, body = ?, updated_at = ? WHERE id = ?`,
		string(part.Type), body, part.UpdatedAt, part.ID,
	)
	if err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	return requireRows(res)
}

func (s *SQLiteStore) ListParts(ctx context.Context, sessionID string, messageID int64) ([]*models.Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, message_id, order_index, type, body, created_at, updated_at
		 FROM parts WHERE session_id = ? AND message_id = ? ORDER BY order_index`,
		sessionID, messageID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var out []*models.Part
	for rows.Next() {
		p := &models.Part{}
		var typ, body string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.MessageID, &p.OrderIndex, &typ, &body, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		p.Type = models.PartType(typ)
		decoded, err := models.DecodePartBody(p.Type, []byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode part %d: %w", p.ID, err)
		}
		p.Body = decoded
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateSubSession(ctx context.Context, sub *models.SubSession) error {
	if sub == nil {
		return errors.New("subsession is required")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subsession: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subsessions (id, parent_session_id, data, created_at) VALUES (?, ?, ?, ?)`,
		sub.ID, sub.ParentSessionID, string(data), sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create subsession: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSubSession(ctx context.Context, sub *models.SubSession) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subsession: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subsessions SET data = ? WHERE id = ?`, string(data), sub.ID)
	if err != nil {
		return fmt.Errorf("update subsession: %w", err)
	}
	return requireRows(res)
}

func (s *SQLiteStore) GetSubSession(ctx context.Context, id string) (*models.SubSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM subsessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subsession: %w", err)
	}
	sub := &models.SubSession{}
	if err := json.Unmarshal([]byte(data), sub); err != nil {
		return nil, fmt.Errorf("decode subsession: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubSessions(ctx context.Context, parentSessionID string) ([]*models.SubSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM subsessions WHERE parent_session_id = ? ORDER BY created_at`, parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("list subsessions: %w", err)
	}
	defer rows.Close()

	var out []*models.SubSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		sub := &models.SubSession{}
		if err := json.Unmarshal([]byte(data), sub); err != nil {
			return nil, fmt.Errorf("decode subsession: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	sess := &models.Session{}
	var meta string
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.AgentSlug, &sess.PipelineID,
		&sess.Title, &meta, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return sess, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPart(ctx context.Context, tx execer, p *models.Part) error {
	if p.Type == "" && p.Body != nil {
		p.Type = p.Body.PartType()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	body, err := marshalBody(p)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO parts (session_id, message_id, order_index, type, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.MessageID, p.OrderIndex, string(p.Type), body, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert part: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("part id: %w", err)
	}
	p.ID = id
	return nil
}

func marshalBody(p *models.Part) (string, error) {
	if p.Body == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(p.Body)
	if err != nil {
		return "", fmt.Errorf("marshal part body: %w", err)
	}
	return string(raw), nil
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
