package paper

import (
	"sort"
	"strings"
)

var conflictWords = map[string]ConflictLevel{
	"none": ConflictNone, "no": ConflictNone, "false": ConflictNone, "0": ConflictNone,
	"conflict": ConflictPCLow, "other": ConflictPCLow, "yes": ConflictPCLow, "true": ConflictPCLow, "1": ConflictPCLow,
	"collaborator": ConflictPCHigh, "advisor": ConflictPCHigh, "advisee": ConflictPCHigh,
	"institutional": ConflictPCHigh, "personal": ConflictPCHigh, "high": ConflictPCHigh,
	"chair": ConflictChair, "pinned": ConflictChair,
}

// parseConflictValue maps an imported PC conflict value to a level. ok is
// false for encodings that cannot be understood.
func parseConflictValue(v jsonShape) (ConflictLevel, bool) {
	switch v.kind {
	case shapeBool:
		if v.b {
			return ConflictPCLow, true
		}
		return ConflictNone, true
	case shapeNumber:
		n, ok := v.int64()
		if ok && n >= 0 && n <= int64(ConflictPCHigh) {
			return ConflictLevel(n), true
		}
	case shapeString:
		level, ok := conflictWords[strings.ToLower(strings.TrimSpace(v.str))]
		return level, ok
	}
	return ConflictNone, false
}

// conflictName is the exported spelling of a PC conflict level.
func conflictName(level ConflictLevel) string {
	switch level {
	case ConflictPCLow:
		return "conflict"
	case ConflictPCHigh:
		return "collaborator"
	case ConflictChair:
		return "chair"
	}
	return ""
}

// mergeConflicts computes the conflict table a save would store. Each email
// gets the highest level among its PC conflict, contact and author entries,
// each taken from the input when present and from the stored record
// otherwise. A non-administrator cannot clear a chair mark.
func mergeConflicts(in, existing *Record, actor Actor) map[string]ConflictLevel {
	out := make(map[string]ConflictLevel)
	raise := func(email string, level ConflictLevel) {
		email = strings.ToLower(email)
		if out[email] < level {
			out[email] = level
		}
	}

	if in.Has(FacetPCConflicts) {
		for email, level := range in.PCConflicts {
			out[strings.ToLower(email)] = level
		}
	} else if existing != nil {
		for email, level := range existing.Conflicts {
			if level.IsPC() {
				out[email] = level
			}
		}
	}

	if in.Has(FacetContacts) {
		for _, c := range in.Contacts {
			raise(c.Email, ConflictContact)
		}
	} else if existing != nil {
		declined := make(map[string]bool)
		if in.Has(FacetAuthors) {
			for _, au := range in.Authors {
				if au.Contact != nil && !*au.Contact {
					declined[strings.ToLower(au.Email)] = true
				}
			}
		}
		for email, level := range existing.Conflicts {
			if level.IsContact() && !declined[email] {
				raise(email, ConflictContact)
			}
		}
	}

	if in.Has(FacetAuthors) {
		for _, au := range in.Authors {
			if au.Email == "" {
				continue
			}
			if au.Contact != nil && *au.Contact {
				raise(au.Email, ConflictContact)
			} else {
				raise(au.Email, ConflictAuthor)
			}
		}
	} else if existing != nil {
		for email, level := range existing.Conflicts {
			if level == ConflictAuthor {
				raise(email, ConflictAuthor)
			}
		}
		for _, au := range existing.Authors {
			if au.Email != "" {
				raise(au.Email, ConflictAuthor)
			}
		}
	}

	if existing != nil && !actor.Admin {
		for email, level := range existing.Conflicts {
			if level == ConflictChair {
				raise(email, ConflictChair)
			}
		}
	}

	for email, level := range out {
		if level == ConflictNone {
			delete(out, email)
		}
	}
	return out
}

// conflictDiffs compares two conflict tables and names the changed facets.
func conflictDiffs(next, prev map[string]ConflictLevel) (contacts, pc bool) {
	emails := make(map[string]struct{}, len(next)+len(prev))
	for email := range next {
		emails[email] = struct{}{}
	}
	for email := range prev {
		emails[email] = struct{}{}
	}
	for email := range emails {
		n, p := next[email], prev[email]
		if n == p {
			continue
		}
		if n.IsAuthor() || p.IsAuthor() {
			contacts = true
		}
		if n.IsPC() || p.IsPC() {
			pc = true
		}
	}
	return contacts, pc
}

func sortedEmails(m map[string]ConflictLevel) []string {
	emails := make([]string, 0, len(m))
	for email := range m {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}
