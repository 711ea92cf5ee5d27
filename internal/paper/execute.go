package paper

import (
	"context"
	"errors"
	"fmt"

	"papersub/internal/document"
)

var errNoIdentity = errors.New("could not create paper")

// execute applies plan inside tx in dependency order and returns the paper
// id, newly assigned when the plan creates the paper.
func execute(ctx context.Context, tx Tx, plan *WritePlan) (int64, error) {
	paperID := plan.PaperID

	docIDs := make(map[document.Slot]int64, len(plan.Documents))
	inserted := make([]int64, 0, len(plan.Documents))
	for _, doc := range plan.Documents {
		if plan.Create {
			doc.PaperID = 0
		} else {
			doc.PaperID = paperID
		}
		id, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return 0, fmt.Errorf("insert document: %w", err)
		}
		docIDs[doc.Slot] = id
		inserted = append(inserted, id)
	}

	set := make([]Assignment, len(plan.Paper))
	for i, a := range plan.Paper {
		if slot, ok := a.Value.(PendingDocument); ok {
			a.Value = docIDs[document.Slot(slot)]
		}
		set[i] = a
	}

	switch {
	case plan.Create:
		id, err := tx.InsertPaper(ctx, paperID, set)
		if err != nil {
			return 0, fmt.Errorf("insert paper: %w", err)
		}
		if id <= 0 {
			return 0, errNoIdentity
		}
		paperID = id
		if len(inserted) > 0 {
			if err := tx.RehomeDocuments(ctx, paperID, inserted); err != nil {
				return 0, fmt.Errorf("rehome documents: %w", err)
			}
		}
	case len(set) > 0:
		updated, err := tx.UpdatePaper(ctx, paperID, set)
		if err != nil {
			return 0, fmt.Errorf("update paper %d: %w", paperID, err)
		}
		if !updated {
			exists, err := tx.PaperExists(ctx, paperID)
			if err != nil {
				return 0, fmt.Errorf("check paper %d: %w", paperID, err)
			}
			if !exists {
				if _, err := tx.InsertPaper(ctx, paperID, set); err != nil {
					return 0, fmt.Errorf("reinsert paper %d: %w", paperID, err)
				}
			}
		}
	}

	if plan.ReplaceTopics {
		if err := tx.ReplaceTopics(ctx, paperID, plan.Topics); err != nil {
			return 0, fmt.Errorf("replace topics: %w", err)
		}
	}

	if len(plan.ClearOptions) > 0 {
		if err := tx.DeleteOptions(ctx, paperID, plan.ClearOptions); err != nil {
			return 0, fmt.Errorf("delete options: %w", err)
		}
	}
	if len(plan.Options) > 0 {
		rows := make([]OptionRow, len(plan.Options))
		for i, row := range plan.Options {
			if row.Pending {
				row.Value = docIDs[document.Slot(row.OptionID)]
				row.Pending = false
			}
			rows[i] = row
		}
		if err := tx.InsertOptions(ctx, paperID, rows); err != nil {
			return 0, fmt.Errorf("insert options: %w", err)
		}
	}

	if plan.ReplaceConflicts {
		rows, err := conflictRows(ctx, tx, plan)
		if err != nil {
			return 0, err
		}
		if err := tx.ReplaceConflicts(ctx, paperID, rows); err != nil {
			return 0, fmt.Errorf("replace conflicts: %w", err)
		}
	}
	return paperID, nil
}

// conflictRows ensures an account for every author and contact and looks up
// the accounts of PC members. PC emails without an account are not stored.
func conflictRows(ctx context.Context, tx Tx, plan *WritePlan) ([]ConflictRow, error) {
	emails := sortedEmails(plan.Conflicts)
	rows := make([]ConflictRow, 0, len(emails))
	var lookup []string
	for _, email := range emails {
		level := plan.Conflicts[email]
		if !level.IsAuthor() {
			lookup = append(lookup, email)
			continue
		}
		person, ok := plan.People[email]
		if !ok {
			person = Contact{Email: email}
		}
		acct, err := tx.EnsureAccount(ctx, person)
		if err != nil {
			return nil, fmt.Errorf("ensure account %s: %w", email, err)
		}
		rows = append(rows, ConflictRow{AccountID: acct.ID, Email: email, Level: level})
	}
	if len(lookup) > 0 {
		accounts, err := tx.AccountsByEmail(ctx, lookup)
		if err != nil {
			return nil, fmt.Errorf("lookup accounts: %w", err)
		}
		for _, email := range lookup {
			if acct, ok := accounts[email]; ok {
				rows = append(rows, ConflictRow{AccountID: acct.ID, Email: email, Level: plan.Conflicts[email]})
			}
		}
	}
	return rows, nil
}
