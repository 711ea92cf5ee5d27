package paper

import (
	"context"
	"sort"
	"strconv"

	"papersub/internal/document"
	"papersub/internal/messages"
)

func slotField(slot document.Slot) string {
	switch slot {
	case document.SlotSubmission:
		return string(FacetSubmission)
	case document.SlotFinal:
		return string(FacetFinal)
	}
	return "opt" + strconv.Itoa(int(slot))
}

// resolveDocuments resolves every document reference of rec into
// rec.Documents. Slot problems are reported on the slot's field and leave
// the slot empty.
func resolveDocuments(ctx context.Context, cat document.Catalog, r *document.Resolver, rec, existing *Record, msgs *messages.Set) error {
	slots := make([]document.Slot, 0, len(rec.input.docRefs))
	for slot := range rec.input.docRefs {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	for _, slot := range slots {
		ref := rec.input.docRefs[slot]
		if ref == nil {
			rec.Documents[slot] = document.Document{}
			continue
		}
		req := document.Request{
			PaperID: rec.ID,
			Slot:    slot,
			Field:   slotField(slot),
			Current: existing.document(slot),
		}
		doc, err := r.Resolve(ctx, cat, *ref, req, msgs)
		if err != nil {
			return err
		}
		rec.Documents[slot] = doc
	}
	return nil
}
