package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocklink/internal/domain"
	"stocklink/internal/store/memory"
)

// fakeDedupe remembers event ids across calls, like the Redis dedupe does.
type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{seen: make(map[string]bool)}
}

func (f *fakeDedupe) MarkProcessed(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func qty(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func seedReceiptScenario(t *testing.T, repo *memory.Store) (receiptID string, destID string) {
	t.Helper()
	ctx := context.Background()

	so, err := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeSalesOrder,
		Number: "SO-100",
		Lines: []domain.Line{
			{ItemID: "A", Quantity: qty(5)},
			{ItemID: "B", Quantity: qty(2)},
		},
	})
	if err != nil {
		t.Fatalf("create sales order: %v", err)
	}

	po, err := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypePurchaseOrder,
		Number: "PO-100",
		Refs: map[string]domain.Ref{
			domain.RefPairedOrder: {Type: domain.DocTypeSalesOrder, ID: so.ID},
		},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	receipt, err := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeItemReceipt,
		Number: "RCPT-100",
		Refs: map[string]domain.Ref{
			domain.RefCreatedFrom: {Type: domain.DocTypePurchaseOrder, ID: po.ID},
		},
		Lines: []domain.Line{
			{ItemID: "A", Quantity: qty(5), Detail: []domain.Assignment{
				{LotID: "LOT-1", Quantity: qty(3)},
				{LotID: "LOT-2", Quantity: qty(2)},
			}},
		},
	})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}

	return receipt.ID, so.ID
}

func TestHandleReceiptPostedAllocatesAndSaves(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)
	receiptID, destID := seedReceiptScenario(t, repo)

	ack := svc.HandleEvent(context.Background(), domain.DocumentEvent{
		EventID:      "ev-1",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeItemReceipt,
		DocumentID:   receiptID,
	})

	if ack.Outcome != domain.EventOutcomeApplied {
		t.Fatalf("expected applied, got %s (%s)", ack.Outcome, ack.Detail)
	}

	dest, err := repo.LoadDocument(context.Background(), domain.DocTypeSalesOrder, destID)
	if err != nil {
		t.Fatalf("reload destination: %v", err)
	}
	line := dest.Lines[0]
	if len(line.Detail) != 2 {
		t.Fatalf("expected 2 assignments on destination line, got %d", len(line.Detail))
	}
	if !line.AssignedQuantity().Equal(qty(5)) {
		t.Fatalf("expected 5 assigned, got %s", line.AssignedQuantity())
	}
	if line.Disposition != domain.DispositionAllocateNow {
		t.Fatalf("expected disposition flipped, got %q", line.Disposition)
	}
	if dest.Lines[1].Disposition != "" || len(dest.Lines[1].Detail) != 0 {
		t.Fatalf("unrelated line must stay untouched")
	}

	events, err := repo.ListEvents(context.Background(), 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 journaled event, got %d (err %v)", len(events), err)
	}
	if events[0].Outcome != domain.EventOutcomeApplied {
		t.Fatalf("journal outcome %s, want applied", events[0].Outcome)
	}
}

func TestHandleEventDeduplicatesRedelivery(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)
	receiptID, destID := seedReceiptScenario(t, repo)

	ev := domain.DocumentEvent{
		EventID:      "ev-dup",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeItemReceipt,
		DocumentID:   receiptID,
	}

	if ack := svc.HandleEvent(context.Background(), ev); ack.Outcome != domain.EventOutcomeApplied {
		t.Fatalf("first delivery: expected applied, got %s", ack.Outcome)
	}
	if ack := svc.HandleEvent(context.Background(), ev); ack.Outcome != domain.EventOutcomeDuplicate {
		t.Fatalf("second delivery: expected duplicate, got %s", ack.Outcome)
	}

	dest, err := repo.LoadDocument(context.Background(), domain.DocTypeSalesOrder, destID)
	if err != nil {
		t.Fatalf("reload destination: %v", err)
	}
	if len(dest.Lines[0].Detail) != 2 {
		t.Fatalf("duplicate delivery mutated the destination: %d assignment rows", len(dest.Lines[0].Detail))
	}
}

func TestHandleEventIgnoresUpdateKindAndUnknownTypes(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)

	ack := svc.HandleEvent(context.Background(), domain.DocumentEvent{
		EventID:      "ev-upd",
		Kind:         domain.EventKindUpdated,
		DocumentType: domain.DocTypeItemReceipt,
		DocumentID:   "doc-any",
	})
	if ack.Outcome != domain.EventOutcomeNotApplicable {
		t.Fatalf("update event: expected not applicable, got %s", ack.Outcome)
	}

	ack = svc.HandleEvent(context.Background(), domain.DocumentEvent{
		EventID:      "ev-other",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeSalesOrder,
		DocumentID:   "doc-any",
	})
	if ack.Outcome != domain.EventOutcomeNotApplicable {
		t.Fatalf("unhandled type: expected not applicable, got %s", ack.Outcome)
	}
}

func TestHandleReceiptWithoutChainIsNotApplicable(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)

	receipt, err := repo.CreateDocument(context.Background(), domain.Document{
		Type:   domain.DocTypeItemReceipt,
		Number: "RCPT-LONE",
		Lines: []domain.Line{
			{ItemID: "A", Quantity: qty(1), Detail: []domain.Assignment{{LotID: "L1", Quantity: qty(1)}}},
		},
	})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}

	ack := svc.HandleEvent(context.Background(), domain.DocumentEvent{
		EventID:      "ev-lone",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeItemReceipt,
		DocumentID:   receipt.ID,
	})
	if ack.Outcome != domain.EventOutcomeNotApplicable {
		t.Fatalf("expected not applicable, got %s (%s)", ack.Outcome, ack.Detail)
	}
}

func TestHandleReceiptWithNothingToAllocate(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)
	ctx := context.Background()

	so, _ := repo.CreateDocument(ctx, domain.Document{Type: domain.DocTypeSalesOrder, Number: "SO-Z"})
	po, _ := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypePurchaseOrder,
		Number: "PO-Z",
		Refs:   map[string]domain.Ref{domain.RefPairedOrder: {Type: domain.DocTypeSalesOrder, ID: so.ID}},
	})
	receipt, err := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeItemReceipt,
		Number: "RCPT-Z",
		Refs:   map[string]domain.Ref{domain.RefCreatedFrom: {Type: domain.DocTypePurchaseOrder, ID: po.ID}},
		Lines:  []domain.Line{{ItemID: "A", Quantity: qty(3)}},
	})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}

	ack := svc.HandleEvent(ctx, domain.DocumentEvent{
		EventID:      "ev-zero",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeItemReceipt,
		DocumentID:   receipt.ID,
	})
	if ack.Outcome != domain.EventOutcomeNotApplicable {
		t.Fatalf("expected not applicable for empty extraction, got %s", ack.Outcome)
	}
}

func TestHandleReceiptLeftoverIsAudited(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)
	ctx := context.Background()

	so, _ := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeSalesOrder,
		Number: "SO-L",
		Lines:  []domain.Line{{ItemID: "A", Quantity: qty(2)}},
	})
	po, _ := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypePurchaseOrder,
		Number: "PO-L",
		Refs:   map[string]domain.Ref{domain.RefPairedOrder: {Type: domain.DocTypeSalesOrder, ID: so.ID}},
	})
	receipt, _ := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeItemReceipt,
		Number: "RCPT-L",
		Refs:   map[string]domain.Ref{domain.RefCreatedFrom: {Type: domain.DocTypePurchaseOrder, ID: po.ID}},
		Lines: []domain.Line{
			{ItemID: "A", Quantity: qty(6), Detail: []domain.Assignment{{LotID: "L1", Quantity: qty(6)}}},
		},
	})

	ack := svc.HandleEvent(ctx, domain.DocumentEvent{
		EventID:      "ev-left",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeItemReceipt,
		DocumentID:   receipt.ID,
	})
	if ack.Outcome != domain.EventOutcomeApplied {
		t.Fatalf("expected applied, got %s (%s)", ack.Outcome, ack.Detail)
	}

	logs, err := repo.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "allocation_leftover" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected allocation_leftover audit entry, got %+v", logs)
	}
}

func TestHandleMirrorOrderCreatedInheritsDispositions(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)
	ctx := context.Background()

	source, err := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeSalesOrder,
		Number: "SO-M",
		Lines: []domain.Line{
			{ItemID: "A", Quantity: qty(5), Disposition: "commit_available"},
			{ItemID: "B", Quantity: qty(3)},
		},
	})
	if err != nil {
		t.Fatalf("create source order: %v", err)
	}

	mirror, err := repo.CreateDocument(ctx, domain.Document{
		Type:   domain.DocTypeMirrorOrder,
		Number: "MO-M",
		Refs:   map[string]domain.Ref{domain.RefPairedOrder: {Type: domain.DocTypeSalesOrder, ID: source.ID}},
		Lines: []domain.Line{
			{ItemID: "A", Quantity: qty(5), Disposition: "stale"},
			{ItemID: "B", Quantity: qty(3), Disposition: "stale"},
		},
	})
	if err != nil {
		t.Fatalf("create mirror order: %v", err)
	}

	ack := svc.HandleEvent(ctx, domain.DocumentEvent{
		EventID:      "ev-mirror",
		Kind:         domain.EventKindCreated,
		DocumentType: domain.DocTypeMirrorOrder,
		DocumentID:   mirror.ID,
	})
	if ack.Outcome != domain.EventOutcomeApplied {
		t.Fatalf("expected applied, got %s (%s)", ack.Outcome, ack.Detail)
	}

	saved, err := repo.LoadDocument(ctx, domain.DocTypeMirrorOrder, mirror.ID)
	if err != nil {
		t.Fatalf("reload mirror: %v", err)
	}
	if saved.Lines[0].Disposition != "commit_available" {
		t.Fatalf("expected disposition copied, got %q", saved.Lines[0].Disposition)
	}
	if saved.Lines[1].Disposition != "" {
		t.Fatalf("expected disposition cleared, got %q", saved.Lines[1].Disposition)
	}
}

func TestCreateDocumentRequiresPrivilegedRole(t *testing.T) {
	repo := memory.New()
	svc := New(repo, newFakeDedupe(), time.Hour)

	req := domain.DocumentCreateRequest{Type: domain.DocTypeSalesOrder, Number: "SO-X"}

	if _, err := svc.CreateDocument(context.Background(), req); err == nil {
		t.Fatalf("expected role check to fail without actor")
	}

	ctx := WithActor(context.Background(), domain.Actor{Username: "erp-sync", Role: "integration"})
	doc, err := svc.CreateDocument(ctx, req)
	if err != nil {
		t.Fatalf("create with integration role: %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected generated document id")
	}
}
