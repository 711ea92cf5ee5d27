// Package paper turns imported submission JSON into stored submissions:
// normalize, validate, resolve documents, plan the writes, execute them.
package paper

import (
	"strings"
	"time"

	"papersub/internal/document"
	"papersub/internal/options"
)

// ConflictLevel orders a person's relationship to a submission.
type ConflictLevel int

const (
	ConflictNone ConflictLevel = iota
	ConflictPCLow
	ConflictPCHigh
	ConflictAuthor
	ConflictContact
	ConflictChair
)

// IsPC reports a PC conflict, including chair marks.
func (l ConflictLevel) IsPC() bool {
	return l == ConflictPCLow || l == ConflictPCHigh || l == ConflictChair
}

func (l ConflictLevel) IsAuthor() bool {
	return l == ConflictAuthor || l == ConflictContact
}

func (l ConflictLevel) IsContact() bool {
	return l == ConflictContact
}

// Status is the current submission state. Withdrawn always means the
// record was submitted before it was withdrawn.
type Status int

const (
	StatusDraft Status = iota
	StatusSubmitted
	StatusWithdrawn
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusWithdrawn:
		return "withdrawn"
	}
	return "draft"
}

type Author struct {
	First       string
	Last        string
	Email       string
	Affiliation string
	// Contact is nil when the input did not say.
	Contact *bool
	Index   int
}

func (a Author) empty() bool {
	return a.First == "" && a.Last == "" && a.Email == "" && a.Affiliation == ""
}

func (a Author) Name() string {
	return strings.TrimSpace(a.First + " " + a.Last)
}

type Contact struct {
	Email       string
	First       string
	Last        string
	Affiliation string
}

// Facet names one independently diffed part of a submission. The same
// names are reported as changed-facet diffs.
type Facet string

const (
	FacetTitle         Facet = "title"
	FacetAbstract      Facet = "abstract"
	FacetCollaborators Facet = "collaborators"
	FacetAuthors       Facet = "authors"
	FacetContacts      Facet = "contacts"
	FacetTopics        Facet = "topics"
	FacetOptions       Facet = "options"
	FacetPCConflicts   Facet = "pc_conflicts"
	FacetStatus        Facet = "status"
	FacetFinalStatus   Facet = "final_status"
	FacetSubmission    Facet = "submission"
	FacetFinal         Facet = "final"
	FacetNonBlind      Facet = "nonblind"
)

// Record is the canonical form of one submission. Stored records have every
// facet; normalized input records only have the facets the input named.
type Record struct {
	ID            int64
	Title         string
	Abstract      string
	Collaborators string
	Authors       []Author
	// Contacts lists explicitly named contacts on input, and contact
	// accounts with their names on stored records.
	Contacts []Contact
	Topics   []int
	Options  map[int][]options.Value
	// Documents holds the submission, final and document option slots.
	Documents map[document.Slot]document.Document
	// PCConflicts holds the PC conflicts named by the input.
	PCConflicts map[string]ConflictLevel
	// Conflicts is the stored per-email conflict table.
	Conflicts map[string]ConflictLevel

	Status           Status
	SubmittedAt      time.Time
	WithdrawnAt      time.Time
	WithdrawReason   string
	FinalSubmittedAt time.Time
	Outcome          int
	NonBlind         bool

	input *inputFacts
}

// inputFacts is what normalization learned beyond the canonical fields.
type inputFacts struct {
	present         map[Facet]bool
	badAuthors      []Author
	badEmailAuthors []Author
	badContacts     []Contact
	badTopics       []string
	badOptions      []string
	badPCConflicts  []string
	status          statusInput
	finalSubmitted  *bool
	nonBlind        *bool
	docRefs         map[document.Slot]*document.Ref
	clearOptions    bool
}

// Has reports whether the facet is part of the record. Stored records have
// every facet.
func (r *Record) Has(f Facet) bool {
	return r.input == nil || r.input.present[f]
}

func (r *Record) mark(f Facet) {
	r.input.present[f] = true
}

// AuthorByEmail finds an author by case-insensitive email.
func (r *Record) AuthorByEmail(email string) (Author, bool) {
	if r == nil || email == "" {
		return Author{}, false
	}
	for _, au := range r.Authors {
		if strings.EqualFold(au.Email, email) {
			return au, true
		}
	}
	return Author{}, false
}

func (r *Record) document(slot document.Slot) document.Document {
	if r == nil || r.Documents == nil {
		return document.Document{}
	}
	return r.Documents[slot]
}

func (r *Record) conflict(email string) ConflictLevel {
	if r == nil {
		return ConflictNone
	}
	return r.Conflicts[strings.ToLower(email)]
}

// Actor is the user on whose behalf the pipeline runs.
type Actor struct {
	Email string
	Admin bool
}

// Account is an entry of the account directory.
type Account struct {
	ID          int64
	Email       string
	First       string
	Last        string
	Affiliation string
	PC          bool
	Admin       bool
}

type Blindness int

const (
	BlindNever Blindness = iota
	BlindOptional
	BlindAlways
)

func ParseBlindness(s string) Blindness {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never", "open":
		return BlindNever
	case "optional":
		return BlindOptional
	}
	return BlindAlways
}

// Settings is the deployment's submission form policy.
type Settings struct {
	NoAbstract           bool
	MaxAuthors           int
	Blindness            Blindness
	RequireCollaborators bool
	// AddTopics lets imports create unknown topics.
	AddTopics bool
}
