package paper

import (
	"context"
	"errors"

	"papersub/internal/document"
	"papersub/internal/topics"
)

var (
	ErrNotFound  = errors.New("paper not found")
	ErrForbidden = errors.New("not a contact for this paper")
)

// Store opens the transactions a save runs in.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// AccountDirectory creates or fetches user accounts by email.
type AccountDirectory interface {
	PCMembers(ctx context.Context) ([]Account, error)
	// AccountsByEmail returns the known accounts keyed by lowercased email.
	AccountsByEmail(ctx context.Context, emails []string) (map[string]Account, error)
	EnsureAccount(ctx context.Context, c Contact) (Account, error)
}

// Tx is one relational transaction. Every write of a save goes through a
// single Tx so a failure leaves the stored submission untouched.
type Tx interface {
	topics.Store
	document.Catalog
	AccountDirectory

	// LockPaper takes a transaction scoped exclusive lock on the paper id.
	LockPaper(ctx context.Context, paperID int64) error
	// LoadPaper returns ErrNotFound for unknown ids. Option values are
	// returned in Options, including document options.
	LoadPaper(ctx context.Context, paperID int64) (*Record, error)

	InsertDocument(ctx context.Context, doc document.Document) (int64, error)
	RehomeDocuments(ctx context.Context, paperID int64, docIDs []int64) error

	// UpdatePaper reports whether a row was updated.
	UpdatePaper(ctx context.Context, paperID int64, set []Assignment) (bool, error)
	PaperExists(ctx context.Context, paperID int64) (bool, error)
	// InsertPaper inserts with paperID, or with a fresh id when paperID is 0.
	InsertPaper(ctx context.Context, paperID int64, set []Assignment) (int64, error)

	ReplaceTopics(ctx context.Context, paperID int64, topicIDs []int) error
	DeleteOptions(ctx context.Context, paperID int64, optionIDs []int) error
	InsertOptions(ctx context.Context, paperID int64, rows []OptionRow) error
	ReplaceConflicts(ctx context.Context, paperID int64, rows []ConflictRow) error

	Commit() error
	Rollback() error
}

// Column is a writable column of the paper row.
type Column string

const (
	ColTitle             Column = "title"
	ColAbstract          Column = "abstract"
	ColCollaborators     Column = "collaborators"
	ColAuthorInformation Column = "author_information"
	ColBlind             Column = "blind"
	ColSubmission        Column = "paper_storage_id"
	ColFinal             Column = "final_storage_id"
	ColStatus            Column = "status"
	ColSubmittedAt       Column = "submitted_at"
	ColWithdrawnAt       Column = "withdrawn_at"
	ColWithdrawReason    Column = "withdraw_reason"
	ColFinalSubmittedAt  Column = "final_submitted_at"
	ColTimeModified      Column = "time_modified"
)

// Assignment sets one column. Values are string, bool, int64, time.Time or
// nil for NULL.
type Assignment struct {
	Column Column
	Value  any
}

type OptionRow struct {
	OptionID int
	Value    int64
	Data     string
	// Pending rows take Value from the id of the pending document in the
	// option's slot.
	Pending bool
}

type ConflictRow struct {
	AccountID int64
	Email     string
	Level     ConflictLevel
}
