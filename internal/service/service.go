package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stocklink/internal/cache"
	"stocklink/internal/domain"
	"stocklink/internal/linker"
	"stocklink/internal/matching"
	"stocklink/internal/store"
	"stocklink/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	resolver  *linker.Resolver
	dedupe    cache.EventDedupe
	dedupeTTL time.Duration
}

func New(repo store.Repository, dedupe cache.EventDedupe, dedupeTTL time.Duration) *Service {
	if dedupe == nil {
		dedupe = cache.NoopEventDedupe{}
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}

	return &Service{
		repo:      repo,
		resolver:  linker.New(repo),
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
	}
}

// HandleEvent is the failure boundary for trigger processing: it never
// returns an error. Whatever happens inside a run is logged, journaled, and
// reduced to an outcome in the ack. The ERP delivers events at least once;
// duplicates are absorbed by the dedupe cache before any document is loaded.
func (s *Service) HandleEvent(ctx context.Context, ev domain.DocumentEvent) domain.WebhookAck {
	ack := domain.WebhookAck{EventID: ev.EventID}

	if ev.EventID == "" || ev.DocumentID == "" {
		ack.Outcome = domain.EventOutcomeNotApplicable
		ack.Detail = "missing event or document id"
		return ack
	}

	if ev.Kind != domain.EventKindCreated {
		ack.Outcome = domain.EventOutcomeNotApplicable
		ack.Detail = fmt.Sprintf("event kind %q does not trigger matching", ev.Kind)
		s.journal(ctx, ev, ack)
		return ack
	}

	firstSeen, err := s.dedupe.MarkProcessed(ctx, ev.EventID, s.dedupeTTL)
	if err != nil {
		// Fail open: the allocation matcher's capacity guard makes a
		// re-run of the same receipt a no-op.
		log.Printf("[service] WARN: event dedupe unavailable for %s: %v", ev.EventID, err)
	} else if !firstSeen {
		ack.Outcome = domain.EventOutcomeDuplicate
		ack.Detail = "event already processed"
		return ack
	}

	switch ev.DocumentType {
	case domain.DocTypeItemReceipt:
		ack.Outcome, ack.Detail = s.handleReceiptPosted(ctx, ev)
	case domain.DocTypeMirrorOrder:
		ack.Outcome, ack.Detail = s.handleMirrorOrderCreated(ctx, ev)
	default:
		ack.Outcome = domain.EventOutcomeNotApplicable
		ack.Detail = fmt.Sprintf("document type %q does not trigger matching", ev.DocumentType)
	}

	s.journal(ctx, ev, ack)
	return ack
}

// handleReceiptPosted runs the allocation flow for a posted warehouse
// receipt: resolve the destination order through the document chain, extract
// the receipt's lot assignments, drain them onto the order's lines, save the
// order once.
func (s *Service) handleReceiptPosted(ctx context.Context, ev domain.DocumentEvent) (string, string) {
	receipt, err := s.repo.LoadDocument(ctx, domain.DocTypeItemReceipt, ev.DocumentID)
	if err != nil {
		log.Printf("[service] receipt %s not loadable (%v), skipping", ev.DocumentID, err)
		return domain.EventOutcomeNotApplicable, "receipt not found"
	}

	destRef, ok := s.resolver.ResolveReceiptDestination(ctx, *receipt)
	if !ok {
		return domain.EventOutcomeNotApplicable, "no destination order in document chain"
	}

	queues, total := matching.ExtractAssignments(*receipt)
	if total.IsZero() {
		return domain.EventOutcomeNotApplicable, "nothing to allocate"
	}

	dest, err := s.repo.LoadDocument(ctx, destRef.Type, destRef.ID)
	if err != nil {
		log.Printf("[service] destination %s %s not loadable (%v), skipping", destRef.Type, destRef.ID, err)
		return domain.EventOutcomeNotApplicable, "destination order not found"
	}

	report := matching.Allocate(queues, dest)

	if report.LinesTouched > 0 {
		if _, err := s.repo.SaveDocument(ctx, *dest); err != nil {
			log.Printf("[service] save of %s after allocation failed: %v", dest.ID, err)
			return domain.EventOutcomeFailed, "destination save failed"
		}
	}

	s.logAudit(ctx, "receipt_allocated", "document", dest.ID,
		fmt.Sprintf("receipt=%s,lines=%d,assigned=%s,leftover=%s",
			receipt.ID, report.LinesTouched, report.AssignedQty, report.LeftoverQty))

	if report.LeftoverQty.IsPositive() {
		// Surfaced deliberately: leftover receipt quantity is committed
		// stock with no order line to land on, and today nothing reroutes
		// it. Flagged for product follow-up rather than fixed here.
		log.Printf("[service] WARN: receipt %s left %s unallocated against %s", receipt.ID, report.LeftoverQty, dest.ID)
		s.logAudit(ctx, "allocation_leftover", "document", dest.ID,
			fmt.Sprintf("receipt=%s,leftover=%s,lots=%s", receipt.ID, report.LeftoverQty, lotList(report.Leftovers)))
	}

	return domain.EventOutcomeApplied,
		fmt.Sprintf("allocated %s across %d lines, leftover %s", report.AssignedQty, report.LinesTouched, report.LeftoverQty)
}

// handleMirrorOrderCreated copies (or clears) per-line dispositions from the
// order the new mirror order was cloned from, then saves the mirror once.
func (s *Service) handleMirrorOrderCreated(ctx context.Context, ev domain.DocumentEvent) (string, string) {
	order, err := s.repo.LoadDocument(ctx, domain.DocTypeMirrorOrder, ev.DocumentID)
	if err != nil {
		log.Printf("[service] mirror order %s not loadable (%v), skipping", ev.DocumentID, err)
		return domain.EventOutcomeNotApplicable, "mirror order not found"
	}

	srcRef, ok := s.resolver.ResolveMirrorSource(ctx, *order)
	if !ok {
		return domain.EventOutcomeNotApplicable, "no paired source order"
	}

	source, err := s.repo.LoadDocument(ctx, srcRef.Type, srcRef.ID)
	if err != nil {
		log.Printf("[service] source %s %s not loadable (%v), skipping", srcRef.Type, srcRef.ID, err)
		return domain.EventOutcomeNotApplicable, "source order not found"
	}

	report := matching.InheritDispositions(*source, order)

	if _, err := s.repo.SaveDocument(ctx, *order); err != nil {
		log.Printf("[service] save of %s after inheritance failed: %v", order.ID, err)
		return domain.EventOutcomeFailed, "mirror order save failed"
	}

	s.logAudit(ctx, "dispositions_inherited", "document", order.ID,
		fmt.Sprintf("source=%s,matched=%d,cleared=%d,skipped=%d",
			source.ID, report.LinesMatched, report.LinesCleared, report.LinesSkipped))

	return domain.EventOutcomeApplied,
		fmt.Sprintf("matched %d lines, cleared %d, skipped %d", report.LinesMatched, report.LinesCleared, report.LinesSkipped)
}

func (s *Service) GetDocument(ctx context.Context, docType string, id string) (domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Document{}, store.ErrInvalidDocument
	}
	doc, err := s.repo.LoadDocument(ctx, strings.TrimSpace(docType), id)
	if err != nil {
		return domain.Document{}, err
	}
	return *doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, docType string, limit int) ([]domain.Document, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListDocuments(ctx, strings.TrimSpace(docType), limit)
}

// CreateDocument seeds documents into the record store. It exists for the
// integration role (the ERP sync job) and for admins; regular operators
// never create documents here.
func (s *Service) CreateDocument(ctx context.Context, req domain.DocumentCreateRequest) (domain.Document, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != "admin" && actor.Role != "integration") {
		return domain.Document{}, fmt.Errorf("admin or integration role required")
	}

	req.Type = strings.TrimSpace(req.Type)
	req.Number = strings.TrimSpace(req.Number)
	if req.Type == "" || req.Number == "" {
		return domain.Document{}, store.ErrInvalidDocument
	}

	created, err := s.repo.CreateDocument(ctx, domain.Document{
		Type:   req.Type,
		Number: req.Number,
		Status: strings.TrimSpace(req.Status),
		Refs:   req.Refs,
		Lines:  req.Lines,
	})
	if err != nil {
		return domain.Document{}, err
	}

	s.logAudit(ctx, "document_create", "document", created.ID,
		fmt.Sprintf("type=%s,number=%s,lines=%d", created.Type, created.Number, len(created.Lines)))

	return *created, nil
}

func (s *Service) ListEvents(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListEvents(ctx, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) journal(ctx context.Context, ev domain.DocumentEvent, ack domain.WebhookAck) {
	record := domain.EventRecord{
		EventID:      ev.EventID,
		Kind:         ev.Kind,
		DocumentType: ev.DocumentType,
		DocumentID:   ev.DocumentID,
		Outcome:      ack.Outcome,
		Detail:       ack.Detail,
		ProcessedAt:  time.Now().UTC(),
	}
	if err := s.repo.RecordEvent(ctx, record); err != nil {
		log.Printf("[service] WARN: failed to journal event %s: %v", ev.EventID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	username := actor.Username
	role := actor.Role
	if username == "" {
		username = "system"
		role = "system"
	}

	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: username,
		ActorRole:     role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}

func lotList(assignments []domain.Assignment) string {
	parts := make([]string, 0, len(assignments))
	for _, a := range assignments {
		parts = append(parts, fmt.Sprintf("%s:%s", a.LotID, a.Quantity))
	}
	return strings.Join(parts, "|")
}
