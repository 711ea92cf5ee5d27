package paper

import (
	"slices"
	"strings"
	"time"

	"papersub/internal/document"
	"papersub/internal/options"
)

// PendingDocument stands in for the id of the document inserted for a slot
// during execution.
type PendingDocument document.Slot

// WritePlan is the complete set of writes of one save. It is built once by
// planWrites and only read afterwards.
type WritePlan struct {
	PaperID int64
	Create  bool
	// Documents are the pending documents to insert, in slot order.
	Documents []document.Document
	Paper     []Assignment

	ReplaceTopics bool
	Topics        []int

	// ClearOptions lists options whose stored rows are deleted before
	// Options are inserted.
	ClearOptions []int
	Options      []OptionRow

	ReplaceConflicts bool
	Conflicts        map[string]ConflictLevel
	// People carries names for contact accounts that may need creating.
	People map[string]Contact

	Diffs []string
}

type planner struct {
	rec      *Record
	existing *Record
	actor    Actor
	settings Settings
	registry *options.Registry
	now      time.Time

	plan *WritePlan
	prev *Record
}

// planWrites compares rec with the stored record and schedules a write
// for each facet whose value changed. A new record is compared with the
// zero record and always creates a row.
func planWrites(rec, existing *Record, actor Actor, settings Settings, registry *options.Registry, now time.Time) *WritePlan {
	p := &planner{
		rec:      rec,
		existing: existing,
		actor:    actor,
		settings: settings,
		registry: registry,
		now:      now.UTC().Truncate(time.Second),
		plan:     &WritePlan{PaperID: rec.ID, Create: existing == nil},
		prev:     existing,
	}
	if p.prev == nil {
		p.prev = &Record{}
	}

	p.text(FacetTitle, ColTitle, rec.Title, p.prev.Title)
	p.text(FacetAbstract, ColAbstract, rec.Abstract, p.prev.Abstract)
	p.text(FacetCollaborators, ColCollaborators, rec.Collaborators, p.prev.Collaborators)
	if rec.Has(FacetAuthors) {
		p.text(FacetAuthors, ColAuthorInformation, authorInformation(rec.Authors), authorInformation(p.prev.Authors))
	}
	p.nonBlind()
	p.document(FacetSubmission, ColSubmission, document.SlotSubmission)
	p.document(FacetFinal, ColFinal, document.SlotFinal)
	p.status()
	p.finalStatus()
	p.finishPaperRow()
	p.topics()
	p.options()
	p.conflicts()
	return p.plan
}

func (p *planner) diff(name string) {
	p.plan.Diffs = append(p.plan.Diffs, name)
}

func (p *planner) set(col Column, v any) {
	p.plan.Paper = append(p.plan.Paper, Assignment{Column: col, Value: v})
}

func (p *planner) text(f Facet, col Column, next, prev string) {
	if !p.rec.Has(f) || next == prev {
		return
	}
	p.diff(string(f))
	p.set(col, next)
}

func (p *planner) nonBlind() {
	if p.settings.Blindness != BlindOptional {
		return
	}
	if p.rec.Has(FacetNonBlind) && p.rec.NonBlind != p.prev.NonBlind {
		p.diff(string(FacetNonBlind))
		p.set(ColBlind, !p.rec.NonBlind)
	} else if p.plan.Create {
		p.set(ColBlind, !p.rec.NonBlind)
	}
}

// stage schedules the insert of a pending document and returns the column
// value that refers to doc.
func (p *planner) stage(doc document.Document) any {
	switch {
	case doc.IsEmpty():
		return nil
	case doc.IsPending():
		p.plan.Documents = append(p.plan.Documents, doc)
		return PendingDocument(doc.Slot)
	}
	return doc.ID
}

func (p *planner) document(f Facet, col Column, slot document.Slot) {
	if _, ok := p.rec.input.docRefs[slot]; !ok {
		return
	}
	next := p.rec.Documents[slot]
	if document.Same(next, p.prev.document(slot)) {
		return
	}
	p.diff(string(f))
	p.set(col, p.stage(next))
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func (p *planner) status() {
	change, err := nextStatus(p.rec.input.status, p.existing, p.now)
	if err != nil || !change.changed {
		return
	}
	if p.existing != nil || change.status != StatusDraft {
		p.diff(string(FacetStatus))
	}
	p.set(ColStatus, change.status.String())
	p.set(ColSubmittedAt, nullTime(change.submittedAt))
	p.set(ColWithdrawnAt, nullTime(change.withdrawnAt))
	p.set(ColWithdrawReason, change.withdrawReason)
}

func (p *planner) finalStatus() {
	fs := p.rec.input.finalSubmitted
	if fs == nil {
		return
	}
	var next time.Time
	if *fs {
		switch {
		case p.rec.input.status.finalSubmittedAt != nil:
			next = *p.rec.input.status.finalSubmittedAt
		case !p.prev.FinalSubmittedAt.IsZero():
			next = p.prev.FinalSubmittedAt
		default:
			next = p.now
		}
	}
	if next.Equal(p.prev.FinalSubmittedAt) {
		return
	}
	p.diff(string(FacetFinalStatus))
	p.set(ColFinalSubmittedAt, nullTime(next))
}

// finishPaperRow applies the deployment's blindness policy and the
// modification time to any paper row write.
func (p *planner) finishPaperRow() {
	if len(p.plan.Paper) == 0 && !p.plan.Create {
		return
	}
	switch p.settings.Blindness {
	case BlindNever:
		p.set(ColBlind, false)
	case BlindAlways:
		p.set(ColBlind, true)
	}
	p.set(ColTimeModified, p.now)
}

func (p *planner) topics() {
	if !p.rec.Has(FacetTopics) || slices.Equal(p.rec.Topics, p.prev.Topics) {
		return
	}
	if p.existing != nil || len(p.rec.Topics) > 0 {
		p.diff(string(FacetTopics))
	}
	p.plan.ReplaceTopics = true
	p.plan.Topics = slices.Clone(p.rec.Topics)
}

func (p *planner) options() {
	if !p.rec.Has(FacetOptions) && !p.hasOptionDocuments() {
		return
	}
	for _, o := range p.registry.All() {
		slot := document.Slot(o.ID)
		if o.IsDocument() {
			_, given := p.rec.input.docRefs[slot]
			next := p.rec.Documents[slot]
			if !given && !p.rec.input.clearOptions {
				continue
			}
			if document.Same(next, p.prev.document(slot)) {
				continue
			}
			p.diff(o.JSONKey)
			p.plan.ClearOptions = append(p.plan.ClearOptions, o.ID)
			switch v := p.stage(next).(type) {
			case PendingDocument:
				p.plan.Options = append(p.plan.Options, OptionRow{OptionID: o.ID, Pending: true})
			case int64:
				p.plan.Options = append(p.plan.Options, OptionRow{OptionID: o.ID, Value: v})
			}
			continue
		}

		next, given := p.rec.Options[o.ID]
		if !given && !p.rec.input.clearOptions {
			continue
		}
		if options.Equal(next, p.prev.Options[o.ID]) {
			continue
		}
		p.diff(o.JSONKey)
		p.plan.ClearOptions = append(p.plan.ClearOptions, o.ID)
		for _, v := range next {
			p.plan.Options = append(p.plan.Options, OptionRow{OptionID: o.ID, Value: v.Value, Data: v.Data})
		}
	}
}

func (p *planner) hasOptionDocuments() bool {
	for slot := range p.rec.input.docRefs {
		if slot > 0 {
			return true
		}
	}
	return false
}

func (p *planner) conflicts() {
	next := mergeConflicts(p.rec, p.existing, p.actor)
	contacts, pc := conflictDiffs(next, p.prev.Conflicts)
	if !contacts && !pc {
		return
	}
	if contacts {
		p.diff(string(FacetContacts))
	}
	if pc {
		p.diff(string(FacetPCConflicts))
	}
	p.plan.ReplaceConflicts = true
	p.plan.Conflicts = next
	p.plan.People = make(map[string]Contact)
	for _, au := range p.rec.Authors {
		if au.Email != "" {
			p.plan.People[strings.ToLower(au.Email)] = Contact{Email: au.Email, First: au.First, Last: au.Last, Affiliation: au.Affiliation}
		}
	}
	for _, c := range p.rec.Contacts {
		email := strings.ToLower(c.Email)
		if have, ok := p.plan.People[email]; ok && c.First == "" && c.Last == "" {
			c.First, c.Last = have.First, have.Last
		}
		p.plan.People[email] = c
	}
}
