package paper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"papersub/internal/document"
	"papersub/internal/messages"
	"papersub/internal/options"
	"papersub/internal/topics"
)

// Export is the JSON form of a stored submission. It is accepted back as
// import input.
type Export struct {
	PID              int64              `json:"pid"`
	Title            string             `json:"title"`
	Decision         *int               `json:"decision,omitempty"`
	Status           string             `json:"status"`
	Withdrawn        bool               `json:"withdrawn,omitempty"`
	WithdrawnAt      int64              `json:"withdrawn_at,omitempty"`
	WithdrawReason   string             `json:"withdraw_reason,omitempty"`
	Submitted        bool               `json:"submitted"`
	Draft            bool               `json:"draft,omitempty"`
	SubmittedAt      int64              `json:"submitted_at,omitempty"`
	Authors          []ExportAuthor     `json:"authors"`
	Contacts         []ExportContact    `json:"contacts,omitempty"`
	NonBlind         *bool              `json:"nonblind,omitempty"`
	Abstract         *string            `json:"abstract,omitempty"`
	Topics           []string           `json:"topics,omitempty"`
	Submission       *document.Exported `json:"submission,omitempty"`
	Final            *document.Exported `json:"final,omitempty"`
	FinalSubmitted   bool               `json:"final_submitted,omitempty"`
	FinalSubmittedAt int64              `json:"final_submitted_at,omitempty"`
	Options          map[string]any     `json:"options,omitempty"`
	PCConflicts      map[string]string  `json:"pc_conflicts,omitempty"`
	Collaborators    string             `json:"collaborators,omitempty"`
}

type ExportAuthor struct {
	First       string `json:"first,omitempty"`
	Last        string `json:"last,omitempty"`
	Email       string `json:"email,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	Contact     bool   `json:"contact,omitempty"`
}

type ExportContact struct {
	Email       string `json:"email"`
	First       string `json:"first,omitempty"`
	Last        string `json:"last,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

type ExportOptions struct {
	HideDocIDs  bool
	WithContent bool
}

type exporter struct {
	resolver *document.Resolver
	registry *options.Registry
	topics   *topics.Set
	settings Settings
}

func (e exporter) export(ctx context.Context, rec *Record, opts ExportOptions) (*Export, error) {
	out := &Export{
		PID:            rec.ID,
		Title:          rec.Title,
		Status:         rec.Status.String(),
		WithdrawReason: rec.WithdrawReason,
		Submitted:      rec.Status == StatusSubmitted,
		Withdrawn:      rec.Status == StatusWithdrawn,
		Draft:          rec.Status == StatusDraft,
		Authors:        []ExportAuthor{},
		Collaborators:  rec.Collaborators,
	}
	if rec.Outcome != 0 {
		decision := rec.Outcome
		out.Decision = &decision
		if out.Submitted {
			out.Status = "rejected"
			if rec.Outcome > 0 {
				out.Status = "accepted"
			}
		}
	}
	if !rec.SubmittedAt.IsZero() {
		out.SubmittedAt = rec.SubmittedAt.Unix()
	}
	if !rec.WithdrawnAt.IsZero() {
		out.WithdrawnAt = rec.WithdrawnAt.Unix()
	}

	authorEmails := make(map[string]bool, len(rec.Authors))
	for _, au := range rec.Authors {
		authorEmails[strings.ToLower(au.Email)] = true
		out.Authors = append(out.Authors, ExportAuthor{
			First:       au.First,
			Last:        au.Last,
			Email:       au.Email,
			Affiliation: au.Affiliation,
			Contact:     rec.conflict(au.Email).IsContact(),
		})
	}
	for _, c := range rec.Contacts {
		if authorEmails[strings.ToLower(c.Email)] || !rec.conflict(c.Email).IsContact() {
			continue
		}
		out.Contacts = append(out.Contacts, ExportContact(c))
	}

	if e.settings.Blindness == BlindOptional {
		nonBlind := rec.NonBlind
		out.NonBlind = &nonBlind
	}
	if !e.settings.NoAbstract || rec.Abstract != "" {
		abstract := rec.Abstract
		out.Abstract = &abstract
	}
	for _, id := range rec.Topics {
		if name, ok := e.topics.Name(id); ok {
			out.Topics = append(out.Topics, name)
		} else {
			out.Topics = append(out.Topics, strconv.Itoa(id))
		}
	}

	docOpts := document.ExportOptions{HideDocIDs: opts.HideDocIDs, WithContent: opts.WithContent}
	var err error
	if out.Submission, err = e.resolver.Export(ctx, rec.document(document.SlotSubmission), docOpts); err != nil {
		return nil, err
	}
	if out.Final, err = e.resolver.Export(ctx, rec.document(document.SlotFinal), docOpts); err != nil {
		return nil, err
	}
	if !rec.FinalSubmittedAt.IsZero() {
		out.FinalSubmitted = true
		out.FinalSubmittedAt = rec.FinalSubmittedAt.Unix()
	}

	for _, o := range e.registry.All() {
		if o.IsDocument() {
			doc, err := e.resolver.Export(ctx, rec.document(document.Slot(o.ID)), docOpts)
			if err != nil {
				return nil, err
			}
			if doc != nil {
				out.setOption(o.JSONKey, doc)
			}
			continue
		}
		if v, ok := o.Export(rec.Options[o.ID]); ok {
			out.setOption(o.JSONKey, v)
		}
	}

	for _, email := range sortedEmails(rec.Conflicts) {
		if level := rec.Conflicts[email]; level.IsPC() {
			if out.PCConflicts == nil {
				out.PCConflicts = make(map[string]string)
			}
			out.PCConflicts[email] = conflictName(level)
		}
	}
	return out, nil
}

func (e *Export) setOption(key string, v any) {
	if e.Options == nil {
		e.Options = make(map[string]any)
	}
	e.Options[key] = v
}

// authorWarnings flags author entries that were probably typed into the
// wrong fields.
func authorWarnings(rec *Record, msgs *messages.Set) {
	for i, au := range rec.Authors {
		field := "author" + strconv.Itoa(i+1)
		if au.Email == "" && au.Affiliation != "" && validEmail(au.Affiliation) {
			msgs.WarningAt(field, "")
			msgs.WarningAt("authors", fmt.Sprintf("Author #%d: you may have entered an email address in the affiliation field.", i+1))
			continue
		}
		if au.First == "" && au.Last == "" && au.Email == "" && au.Affiliation != "" {
			msgs.WarningAt(field, "")
			msgs.WarningAt("authors", fmt.Sprintf("Author #%d has only an affiliation. Enter affiliations in parentheses after the author’s name.", i+1))
		}
	}
}
