package matching

import (
	"log"

	"github.com/shopspring/decimal"

	"stocklink/internal/domain"
)

// Allocate drains the extracted per-item queues onto matching lines of the
// destination document, mutating dest.Lines in place. For each item, in
// source encounter order, destination lines are scanned by index ascending;
// a line only receives assignments up to its remaining capacity
// (line quantity minus what its inventory detail already holds), so a rerun
// over an already-allocated document adds nothing. A queue entry larger than
// one line's remaining capacity is split, with the remainder left at the
// front of the queue for the next matching line.
//
// Any line that received at least one new assignment gets its disposition
// set to allocate-immediately. Quantity that fits no line is returned in the
// report as leftover, not redistributed; the caller decides how loudly to
// surface it.
func Allocate(queues *ItemQueues, dest *domain.Document) domain.AllocationReport {
	report := domain.AllocationReport{
		DocumentID:  dest.ID,
		AssignedQty: decimal.Zero,
		LeftoverQty: decimal.Zero,
	}

	for _, itemID := range queues.Items() {
		q := queues.queue(itemID)

		for i := range dest.Lines {
			if q.empty() {
				break
			}
			line := &dest.Lines[i]
			if line.ItemID != itemID {
				continue
			}

			remaining := line.RemainingCapacity()
			if remaining.IsZero() {
				// Already fully assigned; never add on top.
				continue
			}

			added := false
			for remaining.IsPositive() && !q.empty() {
				entry := q.front()
				use := entry.Quantity
				if use.GreaterThan(remaining) {
					use = remaining
				}

				line.Detail = append(line.Detail, domain.Assignment{LotID: entry.LotID, Quantity: use})
				remaining = remaining.Sub(use)
				entry.Quantity = entry.Quantity.Sub(use)
				if entry.Quantity.IsZero() {
					q.head++
				}

				report.AssignedQty = report.AssignedQty.Add(use)
				added = true
			}

			if added {
				line.Disposition = domain.DispositionAllocateNow
				report.LinesTouched++
			}
		}

		for _, left := range q.pending() {
			report.Leftovers = append(report.Leftovers, left)
			report.LeftoverQty = report.LeftoverQty.Add(left.Quantity)
		}
	}

	if report.LeftoverQty.IsPositive() {
		log.Printf("[matching] WARN: doc %s: %s of source quantity fit no destination line", dest.ID, report.LeftoverQty)
	}

	return report
}
