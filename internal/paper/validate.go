package paper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"papersub/internal/messages"
)

// validateRecord applies the business rules to a normalized record. It only
// appends to msgs.
func validateRecord(rec, existing *Record, actor Actor, settings Settings, now time.Time, msgs *messages.Set) {
	required := func(f Facet, empty func(*Record) bool, text string) {
		if rec.Has(f) {
			if empty(rec) {
				msgs.ErrorAt(string(f), text)
			}
		} else if existing == nil || empty(existing) {
			msgs.ErrorAt(string(f), text)
		}
	}
	required(FacetTitle, func(r *Record) bool { return r.Title == "" }, "Each submission must have a title.")
	if !settings.NoAbstract {
		required(FacetAbstract, func(r *Record) bool { return r.Abstract == "" }, "Each submission must have an abstract.")
	}
	required(FacetAuthors, func(r *Record) bool { return len(r.Authors) == 0 }, "Each submission must have at least one author.")

	validateAuthors(rec, settings, msgs)
	if rec.Has(FacetContacts) || rec.Has(FacetAuthors) {
		validateContacts(rec, existing, actor, msgs)
	}
	validateWarnings(rec, msgs)

	if rec.Has(FacetStatus) {
		if change, err := nextStatus(rec.input.status, existing, now); err != nil {
			msgs.ErrorAt("status", transitionMessage(existing.Status, change.status))
		}
	}
	if rec.input.finalSubmitted != nil && *rec.input.finalSubmitted && rec.Outcome <= 0 {
		msgs.ErrorAt("final_status", "The final version can only be submitted for accepted papers.")
	}
}

func validateAuthors(rec *Record, settings Settings, msgs *messages.Set) {
	if !rec.Has(FacetAuthors) {
		return
	}
	facts := rec.input
	if settings.MaxAuthors > 0 && len(rec.Authors) > settings.MaxAuthors {
		msgs.ErrorAt("authors", fmt.Sprintf("Each submission can have at most %d authors.", settings.MaxAuthors))
	}
	if len(facts.badAuthors) > 0 {
		msgs.WarningAt("authors", "Some authors ignored.")
	}
	for _, au := range facts.badEmailAuthors {
		msgs.ErrorAt("authors", "")
		msgs.ErrorAt("auemail"+strconv.Itoa(au.Index), fmt.Sprintf("“%s” is not a valid email address.", au.Email))
	}
}

func validateContacts(rec, existing *Record, actor Actor, msgs *messages.Set) {
	for _, c := range rec.input.badContacts {
		msgs.ErrorAt("contacts", badContactText(c))
	}
	if existing == nil {
		return
	}

	merged := mergeConflicts(rec, existing, actor)
	hadContact := false
	for _, level := range existing.Conflicts {
		if level.IsContact() {
			hadContact = true
			break
		}
	}
	hasContact := false
	for _, level := range merged {
		if level.IsContact() {
			hasContact = true
			break
		}
	}
	if hadContact && !hasContact {
		msgs.ErrorAt("contacts", "Each submission must have at least one contact.")
	}
	if !actor.Admin && actor.Email != "" && existing.conflict(actor.Email).IsContact() &&
		!merged[strings.ToLower(actor.Email)].IsContact() {
		msgs.ErrorAt("contacts", "You can’t remove yourself as submission contact. (Ask another contact to remove you.)")
	}
}

func badContactText(c Contact) string {
	if c.Email == "" {
		name := strings.TrimSpace(c.First + " " + c.Last)
		if name == "" {
			name = "#" + c.Affiliation
		}
		return fmt.Sprintf("Contact %s has no associated email.", name)
	}
	return fmt.Sprintf("Contact email %s is invalid.", c.Email)
}

func validateWarnings(rec *Record, msgs *messages.Set) {
	facts := rec.input
	if len(facts.badTopics) > 0 {
		msgs.WarningAt("topics", fmt.Sprintf("Unknown topics ignored (%s).", strings.Join(facts.badTopics, ", ")))
	}
	if len(facts.badOptions) > 0 {
		msgs.WarningAt("options", fmt.Sprintf("Unknown options ignored (%s).", strings.Join(facts.badOptions, ", ")))
	}
	if len(facts.badPCConflicts) > 0 {
		msgs.WarningAt("pc_conflicts", fmt.Sprintf("Some PC conflicts ignored (%s are not PC members).", strings.Join(facts.badPCConflicts, ", ")))
	}
}
