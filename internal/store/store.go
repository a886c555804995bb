package store

import (
	"context"
	"errors"

	"stocklink/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidDocument = errors.New("invalid document")
)

// Repository is the record-store contract the matching engine depends on.
// Documents are loaded wholesale and saved wholesale; SaveDocument is atomic
// per document, so a failed save leaves no partial line mutations behind.
type Repository interface {
	LoadDocument(ctx context.Context, docType string, id string) (*domain.Document, error)
	CreateDocument(ctx context.Context, doc domain.Document) (*domain.Document, error)
	SaveDocument(ctx context.Context, doc domain.Document) (string, error)
	ListDocuments(ctx context.Context, docType string, limit int) ([]domain.Document, error)
	RecordEvent(ctx context.Context, record domain.EventRecord) error
	ListEvents(ctx context.Context, limit int) ([]domain.EventRecord, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
