package matching

import (
	"log"

	"github.com/shopspring/decimal"

	"stocklink/internal/domain"
)

// itemQueue is one item's pending assignments. Entries are consumed from the
// front via the head cursor; a partially used entry keeps its decremented
// quantity at the front for the next destination line.
type itemQueue struct {
	entries []domain.Assignment
	head    int
}

func (q *itemQueue) empty() bool {
	return q.head >= len(q.entries)
}

func (q *itemQueue) front() *domain.Assignment {
	return &q.entries[q.head]
}

func (q *itemQueue) pending() []domain.Assignment {
	if q.empty() {
		return nil
	}
	out := make([]domain.Assignment, len(q.entries)-q.head)
	copy(out, q.entries[q.head:])
	return out
}

// ItemQueues holds per-item assignment queues keyed by item id. Item order is
// the source document's line/row encounter order, which doubles as the
// allocation priority, so the key list is kept explicitly rather than
// relying on map iteration.
type ItemQueues struct {
	order  []string
	byItem map[string]*itemQueue
}

func newItemQueues() *ItemQueues {
	return &ItemQueues{byItem: make(map[string]*itemQueue)}
}

func (iq *ItemQueues) push(itemID string, a domain.Assignment) {
	q, ok := iq.byItem[itemID]
	if !ok {
		q = &itemQueue{}
		iq.byItem[itemID] = q
		iq.order = append(iq.order, itemID)
	}
	q.entries = append(q.entries, a)
}

// Items returns the item ids in encounter order.
func (iq *ItemQueues) Items() []string {
	return iq.order
}

// Pending returns the unconsumed assignments for an item, front first.
func (iq *ItemQueues) Pending(itemID string) []domain.Assignment {
	q, ok := iq.byItem[itemID]
	if !ok {
		return nil
	}
	return q.pending()
}

func (iq *ItemQueues) queue(itemID string) *itemQueue {
	return iq.byItem[itemID]
}

// ExtractAssignments reads a source document's lines and their inventory
// detail rows into per-item FIFO queues, plus the grand total quantity.
// Lines without an item or with non-positive quantity are skipped, as are
// detail rows without a lot id or with non-positive quantity. A line with no
// inventory detail at all is skipped with a low-severity log line; receipts
// for non-tracked items legitimately have none.
func ExtractAssignments(doc domain.Document) (*ItemQueues, decimal.Decimal) {
	queues := newItemQueues()
	total := decimal.Zero

	for i, line := range doc.Lines {
		if line.ItemID == "" || !line.Quantity.IsPositive() {
			continue
		}
		if len(line.Detail) == 0 {
			log.Printf("[matching] doc %s line %d (%s): no inventory detail, skipping", doc.ID, i, line.ItemID)
			continue
		}
		for _, a := range line.Detail {
			if a.LotID == "" || !a.Quantity.IsPositive() {
				continue
			}
			queues.push(line.ItemID, domain.Assignment{LotID: a.LotID, Quantity: a.Quantity})
			total = total.Add(a.Quantity)
		}
	}

	return queues, total
}
