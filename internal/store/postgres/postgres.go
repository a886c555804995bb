package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stocklink/internal/domain"
	"stocklink/internal/store"
	"stocklink/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadDocument(ctx context.Context, docType string, id string) (*domain.Document, error) {
	var doc domain.Document
	var refsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, number, status, refs, created_at, updated_at
		FROM documents
		WHERE id = $1 AND ($2 = '' OR type = $2)
	`, id, docType).Scan(&doc.ID, &doc.Type, &doc.Number, &doc.Status, &refsRaw, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if len(refsRaw) > 0 {
		if err := json.Unmarshal(refsRaw, &doc.Refs); err != nil {
			return nil, err
		}
	}

	lines, err := s.loadLines(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines

	return &doc, nil
}

func (s *Store) loadLines(ctx context.Context, docID string) ([]domain.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_no, item_id, quantity, disposition
		FROM document_lines
		WHERE document_id = $1
		ORDER BY line_no
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.Line, 0, 16)
	for rows.Next() {
		var lineNo int
		var line domain.Line
		if err := rows.Scan(&lineNo, &line.ItemID, &line.Quantity, &line.Disposition); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assignRows, err := s.db.QueryContext(ctx, `
		SELECT line_no, lot_id, quantity
		FROM line_assignments
		WHERE document_id = $1
		ORDER BY line_no, seq
	`, docID)
	if err != nil {
		return nil, err
	}
	defer assignRows.Close()

	for assignRows.Next() {
		var lineNo int
		var a domain.Assignment
		if err := assignRows.Scan(&lineNo, &a.LotID, &a.Quantity); err != nil {
			return nil, err
		}
		if lineNo < 0 || lineNo >= len(lines) {
			continue
		}
		lines[lineNo].Detail = append(lines[lineNo].Detail, a)
	}
	if err := assignRows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	if doc.Type == "" || doc.Number == "" {
		return nil, store.ErrInvalidDocument
	}
	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	refsRaw, err := json.Marshal(doc.Refs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, type, number, status, refs, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, doc.ID, doc.Type, doc.Number, doc.Status, refsRaw, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidDocument
		}
		return nil, err
	}

	if err := insertLines(ctx, tx, doc.ID, doc.Lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := doc
	return &created, nil
}

// SaveDocument rewrites the document's lines and assignments wholesale in a
// single transaction. The matching engine relies on this being all-or-nothing.
func (s *Store) SaveDocument(ctx context.Context, doc domain.Document) (string, error) {
	if doc.ID == "" {
		return "", store.ErrInvalidDocument
	}

	refsRaw, err := json.Marshal(doc.Refs)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET status = $1, refs = $2, updated_at = now()
		WHERE id = $3
	`, doc.Status, refsRaw, doc.ID)
	if err != nil {
		return "", err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM line_assignments WHERE document_id = $1`, doc.ID); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_lines WHERE document_id = $1`, doc.ID); err != nil {
		return "", err
	}
	if err := insertLines(ctx, tx, doc.ID, doc.Lines); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func insertLines(ctx context.Context, tx *sql.Tx, docID string, lines []domain.Line) error {
	for lineNo, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_lines (document_id, line_no, item_id, quantity, disposition)
			VALUES ($1,$2,$3,$4,$5)
		`, docID, lineNo, line.ItemID, line.Quantity, line.Disposition)
		if err != nil {
			return err
		}
		for seq, a := range line.Detail {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO line_assignments (document_id, line_no, seq, lot_id, quantity)
				VALUES ($1,$2,$3,$4,$5)
			`, docID, lineNo, seq, a.LotID, a.Quantity)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, docType string, limit int) ([]domain.Document, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, number, status, refs, created_at, updated_at
		FROM documents
		WHERE ($1 = '' OR type = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`, docType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, limit)
	for rows.Next() {
		var doc domain.Document
		var refsRaw []byte
		if err := rows.Scan(&doc.ID, &doc.Type, &doc.Number, &doc.Status, &refsRaw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if len(refsRaw) > 0 {
			if err := json.Unmarshal(refsRaw, &doc.Refs); err != nil {
				return nil, err
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range docs {
		lines, err := s.loadLines(ctx, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Lines = lines
	}

	return docs, nil
}

func (s *Store) RecordEvent(ctx context.Context, record domain.EventRecord) error {
	if record.EventID == "" {
		return store.ErrInvalidDocument
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_journal (event_id, kind, document_type, document_id, outcome, detail, processed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, record.EventID, record.Kind, record.DocumentType, record.DocumentID, record.Outcome, record.Detail, record.ProcessedAt)
	return err
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, kind, document_type, document_id, outcome, detail, processed_at
		FROM event_journal
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.EventRecord, 0, limit)
	for rows.Next() {
		var e domain.EventRecord
		if err := rows.Scan(&e.EventID, &e.Kind, &e.DocumentType, &e.DocumentID, &e.Outcome, &e.Detail, &e.ProcessedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidDocument
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidDocument
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $1 WHERE username = $2
	`, password, username)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
