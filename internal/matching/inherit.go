package matching

import (
	"log"

	"stocklink/internal/domain"
)

// InheritDispositions pairs lines between two documents believed to mirror
// each other and copies each source line's disposition onto its paired
// destination line, mutating dest.Lines in place.
//
// Pairing is one-to-one within a run: a source line index, once chosen, is
// never reused for another destination line. For each destination line the
// source lines are scanned in index order, skipping used indices; the first
// line matching both item and exact quantity wins immediately, otherwise the
// first unused line matching the item is taken.
//
// An empty source disposition is copied as an explicit clear, not left
// untouched: the destination line may carry a stale default from creation.
func InheritDispositions(source domain.Document, dest *domain.Document) domain.InheritanceReport {
	report := domain.InheritanceReport{DocumentID: dest.ID}
	used := make(map[int]struct{}, len(source.Lines))

	for i := range dest.Lines {
		line := &dest.Lines[i]
		if line.ItemID == "" {
			report.LinesSkipped++
			continue
		}

		chosen := pickSourceLine(source, *line, used)
		if chosen < 0 {
			log.Printf("[matching] doc %s line %d (%s): no unused source line to inherit from", dest.ID, i, line.ItemID)
			report.LinesSkipped++
			continue
		}
		used[chosen] = struct{}{}

		value := source.Lines[chosen].Disposition
		line.Disposition = value
		if value == "" {
			report.LinesCleared++
		} else {
			report.LinesMatched++
		}
	}

	return report
}

// pickSourceLine returns the index of the best unused source line for the
// destination line, or -1. Exact quantity equality beats encounter order;
// the scan stops at the first exact match rather than hunting for a better
// one.
func pickSourceLine(source domain.Document, dest domain.Line, used map[int]struct{}) int {
	firstUnused := -1
	for j, s := range source.Lines {
		if _, taken := used[j]; taken {
			continue
		}
		if s.ItemID != dest.ItemID {
			continue
		}
		if firstUnused < 0 {
			firstUnused = j
		}
		if s.Quantity.Equal(dest.Quantity) {
			return j
		}
	}
	return firstUnused
}
