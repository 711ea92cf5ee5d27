package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"papersub/internal/document"
	"papersub/internal/options"
	"papersub/internal/paper"
	"papersub/internal/topics"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (paper.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// UpsertAccount creates or updates a directory entry, used to seed PC
// members and administrators.
func (s *PostgresStore) UpsertAccount(ctx context.Context, a paper.Account) (paper.Account, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, first_name, last_name, affiliation, is_pc, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ((LOWER(email))) DO UPDATE
		SET first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name, affiliation=EXCLUDED.affiliation,
		    is_pc=EXCLUDED.is_pc, is_admin=EXCLUDED.is_admin
		RETURNING id
	`, a.Email, a.First, a.Last, a.Affiliation, a.PC, a.Admin).Scan(&a.ID)
	if err != nil {
		return paper.Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return a, nil
}

// Tx runs every statement of one save inside a single database transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback tx: %w", err)
	}
	return nil
}

func (t *Tx) LockPaper(ctx context.Context, paperID int64) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('paper:' || $1::text, 0))`, paperID)
	if err != nil {
		return fmt.Errorf("lock paper %d: %w", paperID, err)
	}
	return nil
}

func (t *Tx) ListTopics(ctx context.Context) ([]topics.Topic, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, name FROM topics ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	items := make([]topics.Topic, 0)
	for rows.Next() {
		var item topics.Topic
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return items, nil
}

func (t *Tx) InsertTopic(ctx context.Context, name string) (int, error) {
	var id int
	if err := t.tx.QueryRowContext(ctx, `INSERT INTO topics (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}
	return id, nil
}

const accountColumns = `id, email, first_name, last_name, affiliation, is_pc, is_admin`

func scanAccount(row interface{ Scan(...any) error }) (paper.Account, error) {
	var a paper.Account
	err := row.Scan(&a.ID, &a.Email, &a.First, &a.Last, &a.Affiliation, &a.PC, &a.Admin)
	return a, err
}

func (t *Tx) PCMembers(ctx context.Context) ([]paper.Account, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_pc ORDER BY LOWER(email) ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pc members: %w", err)
	}
	defer rows.Close()

	items := make([]paper.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pc member: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pc members: %w", err)
	}
	return items, nil
}

func (t *Tx) AccountsByEmail(ctx context.Context, emails []string) (map[string]paper.Account, error) {
	out := make(map[string]paper.Account, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	lowered := make([]string, len(emails))
	for i, email := range emails {
		lowered[i] = strings.ToLower(email)
	}
	rows, err := t.tx.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = ANY($1)`, lowered)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out[strings.ToLower(a.Email)] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// EnsureAccount returns the account for c.Email, creating it when missing.
// Blank names on an existing account are filled from c.
func (t *Tx) EnsureAccount(ctx context.Context, c paper.Contact) (paper.Account, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO accounts (email, first_name, last_name, affiliation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ((LOWER(email))) DO UPDATE
		SET first_name=CASE WHEN accounts.first_name = '' THEN EXCLUDED.first_name ELSE accounts.first_name END,
		    last_name=CASE WHEN accounts.last_name = '' THEN EXCLUDED.last_name ELSE accounts.last_name END,
		    affiliation=CASE WHEN accounts.affiliation = '' THEN EXCLUDED.affiliation ELSE accounts.affiliation END
		RETURNING `+accountColumns, c.Email, c.First, c.Last, c.Affiliation)
	a, err := scanAccount(row)
	if err != nil {
		return paper.Account{}, fmt.Errorf("ensure account %s: %w", c.Email, err)
	}
	return a, nil
}

const documentColumns = `id, paper_id, slot, sha2, size, mimetype, filename, uploaded_at, blob_key, filter, original_id, original_sha2, original_uploaded_at`

func scanDocument(row interface{ Scan(...any) error }) (document.Document, error) {
	var doc document.Document
	var slot int
	var originalAt sql.NullTime
	err := row.Scan(&doc.ID, &doc.PaperID, &slot, &doc.Hash, &doc.Size, &doc.Mimetype, &doc.Filename,
		&doc.Timestamp, &doc.BlobKey, &doc.Filter, &doc.OriginalID, &doc.OriginalHash, &originalAt)
	if err != nil {
		return document.Document{}, err
	}
	doc.Slot = document.Slot(slot)
	if originalAt.Valid {
		doc.OriginalTimestamp = originalAt.Time
	}
	return doc, nil
}

func (t *Tx) DocumentByID(ctx context.Context, paperID, docID int64) (document.Document, bool, error) {
	doc, err := scanDocument(t.tx.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM paper_documents WHERE id=$1 AND paper_id=$2`, docID, paperID))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, fmt.Errorf("get document: %w", err)
	}
	return doc, true, nil
}

func (t *Tx) DocumentByHash(ctx context.Context, paperID int64, slot document.Slot, hash string) (document.Document, bool, error) {
	doc, err := scanDocument(t.tx.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM paper_documents
		WHERE paper_id=$1 AND slot=$2 AND sha2=$3
		ORDER BY id ASC
		LIMIT 1
	`, paperID, int(slot), hash))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, fmt.Errorf("find document by hash: %w", err)
	}
	return doc, true, nil
}

func (t *Tx) InsertDocument(ctx context.Context, doc document.Document) (int64, error) {
	uploadedAt := doc.Timestamp
	if uploadedAt.IsZero() {
		uploadedAt = time.Now().UTC()
	}
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO paper_documents (paper_id, slot, sha2, size, mimetype, filename, uploaded_at, blob_key, filter, original_id, original_sha2, original_uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, doc.PaperID, int(doc.Slot), doc.Hash, doc.Size, doc.Mimetype, doc.Filename, uploadedAt,
		doc.BlobKey, doc.Filter, doc.OriginalID, doc.OriginalHash, nullTime(doc.OriginalTimestamp)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (t *Tx) RehomeDocuments(ctx context.Context, paperID int64, docIDs []int64) error {
	if len(docIDs) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE paper_documents SET paper_id=$1 WHERE id = ANY($2)`, paperID, docIDs); err != nil {
		return fmt.Errorf("rehome documents: %w", err)
	}
	return nil
}

func (t *Tx) LoadPaper(ctx context.Context, paperID int64) (*paper.Record, error) {
	var (
		rec                       = &paper.Record{ID: paperID}
		authorInformation, status string
		blind                     bool
		submissionID, finalID     sql.NullInt64
		submittedAt, withdrawnAt  sql.NullTime
		finalSubmittedAt          sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT title, abstract, collaborators, author_information, blind, paper_storage_id, final_storage_id,
		       status, submitted_at, withdrawn_at, COALESCE(withdraw_reason, ''), final_submitted_at, outcome
		FROM papers
		WHERE id=$1
	`, paperID).Scan(&rec.Title, &rec.Abstract, &rec.Collaborators, &authorInformation, &blind, &submissionID, &finalID,
		&status, &submittedAt, &withdrawnAt, &rec.WithdrawReason, &finalSubmittedAt, &rec.Outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, paper.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load paper: %w", err)
	}

	rec.Authors = paper.ParseAuthorInformation(authorInformation)
	rec.NonBlind = !blind
	switch status {
	case "submitted":
		rec.Status = paper.StatusSubmitted
	case "withdrawn":
		rec.Status = paper.StatusWithdrawn
	default:
		rec.Status = paper.StatusDraft
	}
	rec.SubmittedAt = submittedAt.Time
	rec.WithdrawnAt = withdrawnAt.Time
	rec.FinalSubmittedAt = finalSubmittedAt.Time

	rec.Documents = make(map[document.Slot]document.Document)
	for slot, id := range map[document.Slot]sql.NullInt64{document.SlotSubmission: submissionID, document.SlotFinal: finalID} {
		if !id.Valid || id.Int64 <= 0 {
			continue
		}
		doc, found, err := t.DocumentByID(ctx, paperID, id.Int64)
		if err != nil {
			return nil, err
		}
		if found {
			rec.Documents[slot] = doc
		}
	}

	if rec.Topics, err = t.paperTopics(ctx, paperID); err != nil {
		return nil, err
	}
	if rec.Options, err = t.paperOptions(ctx, paperID); err != nil {
		return nil, err
	}
	if err := t.paperConflicts(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (t *Tx) paperTopics(ctx context.Context, paperID int64) ([]int, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT topic_id FROM paper_topics WHERE paper_id=$1 ORDER BY topic_id ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list paper topics: %w", err)
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan paper topic: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paper topics: %w", err)
	}
	return ids, nil
}

func (t *Tx) paperOptions(ctx context.Context, paperID int64) (map[int][]options.Value, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT option_id, value, data FROM paper_options WHERE paper_id=$1 ORDER BY option_id ASC, id ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list paper options: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]options.Value)
	for rows.Next() {
		var id int
		var v options.Value
		if err := rows.Scan(&id, &v.Value, &v.Data); err != nil {
			return nil, fmt.Errorf("scan paper option: %w", err)
		}
		out[id] = append(out[id], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paper options: %w", err)
	}
	return out, nil
}

func (t *Tx) paperConflicts(ctx context.Context, rec *paper.Record) error {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT a.email, a.first_name, a.last_name, a.affiliation, c.level
		FROM paper_conflicts c
		JOIN accounts a ON a.id = c.account_id
		WHERE c.paper_id=$1
		ORDER BY LOWER(a.email) ASC
	`, rec.ID)
	if err != nil {
		return fmt.Errorf("list paper conflicts: %w", err)
	}
	defer rows.Close()

	rec.Conflicts = make(map[string]paper.ConflictLevel)
	for rows.Next() {
		var c paper.Contact
		var level int
		if err := rows.Scan(&c.Email, &c.First, &c.Last, &c.Affiliation, &level); err != nil {
			return fmt.Errorf("scan paper conflict: %w", err)
		}
		rec.Conflicts[strings.ToLower(c.Email)] = paper.ConflictLevel(level)
		if paper.ConflictLevel(level).IsContact() {
			rec.Contacts = append(rec.Contacts, c)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate paper conflicts: %w", err)
	}
	return nil
}

var paperColumns = map[paper.Column]bool{
	paper.ColTitle:             true,
	paper.ColAbstract:          true,
	paper.ColCollaborators:     true,
	paper.ColAuthorInformation: true,
	paper.ColBlind:             true,
	paper.ColSubmission:        true,
	paper.ColFinal:             true,
	paper.ColStatus:            true,
	paper.ColSubmittedAt:       true,
	paper.ColWithdrawnAt:       true,
	paper.ColWithdrawReason:    true,
	paper.ColFinalSubmittedAt:  true,
	paper.ColTimeModified:      true,
}

func columnArgs(set []paper.Assignment) ([]string, []any, error) {
	cols := make([]string, 0, len(set))
	args := make([]any, 0, len(set))
	for _, a := range set {
		if !paperColumns[a.Column] {
			return nil, nil, fmt.Errorf("unknown paper column %q", a.Column)
		}
		cols = append(cols, string(a.Column))
		if ts, ok := a.Value.(time.Time); ok {
			args = append(args, nullTime(ts))
			continue
		}
		args = append(args, a.Value)
	}
	return cols, args, nil
}

func (t *Tx) UpdatePaper(ctx context.Context, paperID int64, set []paper.Assignment) (bool, error) {
	if len(set) == 0 {
		return t.PaperExists(ctx, paperID)
	}
	cols, args, err := columnArgs(set)
	if err != nil {
		return false, fmt.Errorf("update paper: %w", err)
	}
	assignments := make([]string, len(cols))
	for i, col := range cols {
		assignments[i] = fmt.Sprintf("%s=$%d", col, i+1)
	}
	args = append(args, paperID)
	result, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE papers SET %s WHERE id=$%d`, strings.Join(assignments, ", "), len(args)), args...)
	if err != nil {
		return false, fmt.Errorf("update paper: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update paper rows affected: %w", err)
	}
	return affected > 0, nil
}

func (t *Tx) PaperExists(ctx context.Context, paperID int64) (bool, error) {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM papers WHERE id=$1)`, paperID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check paper exists: %w", err)
	}
	return exists, nil
}

func (t *Tx) InsertPaper(ctx context.Context, paperID int64, set []paper.Assignment) (int64, error) {
	cols, args, err := columnArgs(set)
	if err != nil {
		return 0, fmt.Errorf("insert paper: %w", err)
	}
	if paperID > 0 {
		cols = append(cols, "id")
		args = append(args, paperID)
	}

	query := `INSERT INTO papers DEFAULT VALUES RETURNING id`
	if len(cols) > 0 {
		placeholders := make([]string, len(cols))
		for i := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		query = fmt.Sprintf(`INSERT INTO papers (%s) VALUES (%s) RETURNING id`, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert paper: %w", err)
	}

	// Explicit ids bypass the sequence; move it past them.
	if paperID > 0 {
		if _, err := t.tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('papers', 'id'), GREATEST((SELECT MAX(id) FROM papers), 1))
		`); err != nil {
			return 0, fmt.Errorf("advance paper sequence: %w", err)
		}
	}
	return id, nil
}

func (t *Tx) ReplaceTopics(ctx context.Context, paperID int64, topicIDs []int) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM paper_topics WHERE paper_id=$1`, paperID); err != nil {
		return fmt.Errorf("delete paper topics: %w", err)
	}
	for _, id := range topicIDs {
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO paper_topics (paper_id, topic_id) VALUES ($1, $2)`, paperID, id); err != nil {
			return fmt.Errorf("insert paper topic: %w", err)
		}
	}
	return nil
}

func (t *Tx) DeleteOptions(ctx context.Context, paperID int64, optionIDs []int) error {
	if len(optionIDs) == 0 {
		return nil
	}
	ids := make([]int32, len(optionIDs))
	for i, id := range optionIDs {
		ids[i] = int32(id)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM paper_options WHERE paper_id=$1 AND option_id = ANY($2)`, paperID, ids); err != nil {
		return fmt.Errorf("delete paper options: %w", err)
	}
	return nil
}

func (t *Tx) InsertOptions(ctx context.Context, paperID int64, rows []paper.OptionRow) error {
	for _, row := range rows {
		if row.Pending {
			return fmt.Errorf("insert paper option %d: document not resolved", row.OptionID)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO paper_options (paper_id, option_id, value, data)
			VALUES ($1, $2, $3, $4)
		`, paperID, row.OptionID, row.Value, row.Data); err != nil {
			return fmt.Errorf("insert paper option %d: %w", row.OptionID, err)
		}
	}
	return nil
}

func (t *Tx) ReplaceConflicts(ctx context.Context, paperID int64, rows []paper.ConflictRow) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM paper_conflicts WHERE paper_id=$1`, paperID); err != nil {
		return fmt.Errorf("delete paper conflicts: %w", err)
	}
	for _, row := range rows {
		if row.Level <= paper.ConflictNone {
			continue
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO paper_conflicts (paper_id, account_id, level)
			VALUES ($1, $2, $3)
		`, paperID, row.AccountID, int(row.Level)); err != nil {
			return fmt.Errorf("insert paper conflict %s: %w", row.Email, err)
		}
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
