package linker

import (
	"context"
	"log"

	"stocklink/internal/domain"
	"stocklink/internal/store"
)

// Resolver follows the fixed chains of named cross-references between
// documents. It is read-only; any missing hop or failed lookup yields a
// "not applicable" result rather than an error, because the triggering
// events legitimately fire on documents that lack the full chain.
type Resolver struct {
	repo store.Repository
}

func New(repo store.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveReceiptDestination resolves the order that must receive a posted
// receipt's lot assignments: receipt → created-from (the inbound order) →
// paired-order, falling back to related-order when no paired-order is set.
func (r *Resolver) ResolveReceiptDestination(ctx context.Context, receipt domain.Document) (domain.Ref, bool) {
	origin, ok := receipt.Ref(domain.RefCreatedFrom)
	if !ok {
		log.Printf("[linker] receipt %s has no %s ref, skipping", receipt.ID, domain.RefCreatedFrom)
		return domain.Ref{}, false
	}

	order, err := r.repo.LoadDocument(ctx, origin.Type, origin.ID)
	if err != nil {
		log.Printf("[linker] receipt %s: lookup of %s %s failed (%v), skipping", receipt.ID, origin.Type, origin.ID, err)
		return domain.Ref{}, false
	}

	dest, ok := order.Ref(domain.RefPairedOrder)
	if !ok {
		dest, ok = order.Ref(domain.RefRelatedOrder)
	}
	if !ok {
		log.Printf("[linker] order %s has no paired or related order, skipping", order.ID)
		return domain.Ref{}, false
	}
	return dest, true
}

// ResolveMirrorSource resolves the order a newly created mirror order was
// cloned from, via its paired-order ref.
func (r *Resolver) ResolveMirrorSource(_ context.Context, order domain.Document) (domain.Ref, bool) {
	src, ok := order.Ref(domain.RefPairedOrder)
	if !ok {
		log.Printf("[linker] mirror order %s has no %s ref, skipping", order.ID, domain.RefPairedOrder)
		return domain.Ref{}, false
	}
	return src, true
}
