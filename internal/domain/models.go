package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Named cross-references a document may carry. The link resolver follows
// these in a fixed chain; any missing hop means "not applicable".
const (
	RefCreatedFrom  = "created-from"
	RefPairedOrder  = "paired-order"
	RefRelatedOrder = "related-order"
)

const (
	DocTypeItemReceipt   = "item_receipt"
	DocTypePurchaseOrder = "purchase_order"
	DocTypeSalesOrder    = "sales_order"
	DocTypeMirrorOrder   = "mirror_order"
)

// DispositionAllocateNow is written to a destination line once it receives
// new lot assignments in an allocation run. All other disposition values are
// opaque pass-through strings owned by the ERP.
const DispositionAllocateNow = "allocate_immediately"

const (
	EventKindCreated = "created"
	EventKindUpdated = "updated"
)

const (
	EventOutcomeApplied       = "applied"
	EventOutcomeNotApplicable = "not_applicable"
	EventOutcomeDuplicate     = "duplicate"
	EventOutcomeFailed        = "failed"
)

// Ref is a typed pointer to another document.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Assignment is one committed lot/serial quantity inside a line's
// inventory detail.
type Assignment struct {
	LotID    string          `json:"lot_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Line is one item/quantity entry of a document. Detail holds the line's
// inventory detail sub-records in insertion order.
type Line struct {
	ItemID      string          `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Disposition string          `json:"disposition,omitempty"`
	Detail      []Assignment    `json:"detail,omitempty"`
}

// AssignedQuantity sums the quantities already committed against the line.
func (l Line) AssignedQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, a := range l.Detail {
		total = total.Add(a.Quantity)
	}
	return total
}

// RemainingCapacity is the line quantity minus what is already assigned,
// floored at zero.
func (l Line) RemainingCapacity() decimal.Decimal {
	remaining := l.Quantity.Sub(l.AssignedQuantity())
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Document is an ordered sequence of lines plus named cross-references.
type Document struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Number    string         `json:"number"`
	Status    string         `json:"status"`
	Refs      map[string]Ref `json:"refs,omitempty"`
	Lines     []Line         `json:"lines"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Ref returns the named cross-reference, if present and fully populated.
func (d Document) Ref(name string) (Ref, bool) {
	ref, ok := d.Refs[name]
	if !ok || ref.ID == "" || ref.Type == "" {
		return Ref{}, false
	}
	return ref, true
}

// Clone deep-copies the document so callers can mutate lines freely.
func (d Document) Clone() Document {
	out := d
	if d.Refs != nil {
		out.Refs = make(map[string]Ref, len(d.Refs))
		for name, ref := range d.Refs {
			out.Refs[name] = ref
		}
	}
	out.Lines = make([]Line, len(d.Lines))
	for i, line := range d.Lines {
		copied := line
		if line.Detail != nil {
			copied.Detail = make([]Assignment, len(line.Detail))
			copy(copied.Detail, line.Detail)
		}
		out.Lines[i] = copied
	}
	return out
}

// DocumentEvent is the trigger payload delivered by the ERP when a document
// is created or updated. Only creation events start a matching run.
type DocumentEvent struct {
	EventID      string    `json:"event_id"`
	Kind         string    `json:"kind"`
	DocumentType string    `json:"document_type"`
	DocumentID   string    `json:"document_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventRecord is the journal entry written after a trigger is handled.
type EventRecord struct {
	EventID      string    `json:"event_id"`
	Kind         string    `json:"kind"`
	DocumentType string    `json:"document_type"`
	DocumentID   string    `json:"document_id"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// AllocationReport summarizes one allocation run. LeftoverQty is source
// quantity that fit no destination line; it is surfaced here (and logged)
// rather than silently dropped, pending product clarification on whether
// leftovers should be rerouted.
type AllocationReport struct {
	DocumentID   string          `json:"document_id"`
	LinesTouched int             `json:"lines_touched"`
	AssignedQty  decimal.Decimal `json:"assigned_qty"`
	LeftoverQty  decimal.Decimal `json:"leftover_qty"`
	Leftovers    []Assignment    `json:"leftovers,omitempty"`
}

// InheritanceReport summarizes one disposition-inheritance run.
type InheritanceReport struct {
	DocumentID   string `json:"document_id"`
	LinesMatched int    `json:"lines_matched"`
	LinesCleared int    `json:"lines_cleared"`
	LinesSkipped int    `json:"lines_skipped"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type DocumentCreateRequest struct {
	Type   string         `json:"type"`
	Number string         `json:"number"`
	Status string         `json:"status"`
	Refs   map[string]Ref `json:"refs,omitempty"`
	Lines  []Line         `json:"lines"`
}

type DocumentResponse struct {
	Document Document `json:"document"`
}

type DocumentListResponse struct {
	Documents []Document `json:"documents"`
}

type EventListResponse struct {
	Events []EventRecord `json:"events"`
}

type WebhookAck struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}
