package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stocklink/internal/domain"
	"stocklink/internal/store"
	"stocklink/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	documentsByID   map[string]domain.Document
	events          []domain.EventRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_INTEGRATION_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the service uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	integrationPwd := envOr("SEED_INTEGRATION_PASSWORD", "integration123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_INTEGRATION_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_INTEGRATION_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"integration", integrationPwd, "integration"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		documentsByID:   make(map[string]domain.Document),
		events:          make([]domain.EventRecord, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a small intercompany scenario:
// a customer sales order paired with the purchase order that mirrors it, so
// a receipt posted against the purchase order resolves to the sales order.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	qty := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }

	salesOrder := domain.Document{
		ID:     "doc-so-1001",
		Type:   domain.DocTypeSalesOrder,
		Number: "SO-1001",
		Status: "open",
		Refs: map[string]domain.Ref{
			domain.RefPairedOrder: {Type: domain.DocTypePurchaseOrder, ID: "doc-po-2001"},
		},
		Lines: []domain.Line{
			{ItemID: "ITEM-WIDGET", Quantity: qty("5")},
			{ItemID: "ITEM-GADGET", Quantity: qty("12")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	purchaseOrder := domain.Document{
		ID:     "doc-po-2001",
		Type:   domain.DocTypePurchaseOrder,
		Number: "PO-2001",
		Status: "pending_receipt",
		Refs: map[string]domain.Ref{
			domain.RefPairedOrder: {Type: domain.DocTypeSalesOrder, ID: "doc-so-1001"},
		},
		Lines: []domain.Line{
			{ItemID: "ITEM-WIDGET", Quantity: qty("5")},
			{ItemID: "ITEM-GADGET", Quantity: qty("12")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.documentsByID[salesOrder.ID] = salesOrder
	s.documentsByID[purchaseOrder.ID] = purchaseOrder
	return s
}

func (s *Store) LoadDocument(_ context.Context, docType string, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documentsByID[id]
	if !ok || (docType != "" && doc.Type != docType) {
		return nil, store.ErrNotFound
	}

	cloned := doc.Clone()
	return &cloned, nil
}

func (s *Store) CreateDocument(_ context.Context, doc domain.Document) (*domain.Document, error) {
	if doc.Type == "" || doc.Number == "" {
		return nil, store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = xid.New("doc")
	}
	if _, exists := s.documentsByID[doc.ID]; exists {
		return nil, store.ErrInvalidDocument
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.documentsByID[doc.ID] = doc.Clone()

	created := doc.Clone()
	return &created, nil
}

func (s *Store) SaveDocument(_ context.Context, doc domain.Document) (string, error) {
	if doc.ID == "" {
		return "", store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documentsByID[doc.ID]
	if !ok {
		return "", store.ErrNotFound
	}

	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = time.Now().UTC()
	s.documentsByID[doc.ID] = doc.Clone()
	return doc.ID, nil
}

func (s *Store) ListDocuments(_ context.Context, docType string, limit int) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.documentsByID))
	for _, doc := range s.documentsByID {
		if docType != "" && doc.Type != docType {
			continue
		}
		docs = append(docs, doc.Clone())
	}

	slices.SortFunc(docs, func(a, b domain.Document) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *Store) RecordEvent(_ context.Context, record domain.EventRecord) error {
	if record.EventID == "" {
		return store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}
	s.events = append(s.events, record)
	return nil
}

func (s *Store) ListEvents(_ context.Context, limit int) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.EventRecord, len(s.events))
	copy(events, s.events)
	slices.Reverse(events)

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, len(s.auditLogs))
	copy(logs, s.auditLogs)
	slices.Reverse(logs)

	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidDocument
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
