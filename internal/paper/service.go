package paper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"papersub/internal/document"
	"papersub/internal/lock"
	"papersub/internal/logger"
	"papersub/internal/messages"
	"papersub/internal/options"
	"papersub/internal/topics"
)

// SavedEvent describes a committed save.
type SavedEvent struct {
	PaperID int64
	Created bool
	Diffs   []string
	Paper   *Export
	Actor   Actor
}

// Observer is notified after a save commits. Failures are logged and do
// not affect the save.
type Observer interface {
	PaperSaved(ctx context.Context, ev SavedEvent) error
}

// Result is the outcome of Save. Saved is false when messages contain an
// error; Paper is the stored submission after a successful save.
type Result struct {
	PaperID  int64
	Saved    bool
	Created  bool
	Diffs    []string
	Messages *messages.Set
	Paper    *Export
}

type Service struct {
	store     Store
	locker    lock.Locker
	vocab     *topics.Vocabulary
	registry  *options.Registry
	resolver  *document.Resolver
	settings  Settings
	log       *logger.Logger
	observers []Observer
	now       func() time.Time
}

func NewService(st Store, locker lock.Locker, vocab *topics.Vocabulary, registry *options.Registry, resolver *document.Resolver, settings Settings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:    st,
		locker:   locker,
		vocab:    vocab,
		registry: registry,
		resolver: resolver,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// AddObserver registers o for committed saves. Observers run in
// registration order.
func (s *Service) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

func lockKey(paperID int64) string {
	return "paper:" + strconv.FormatInt(paperID, 10)
}

func rejected(paperID int64, msgs *messages.Set) *Result {
	return &Result{PaperID: paperID, Messages: msgs}
}

// Save imports one submission document for actor. paperID names the
// submission to update, or 0 to create one or to use the document's own
// pid. The returned error is reserved for infrastructure failures,
// ErrNotFound and ErrForbidden; rejected input yields a Result with
// Saved false.
func (s *Service) Save(ctx context.Context, actor Actor, paperID int64, raw []byte) (*Result, error) {
	msgs := messages.New()
	in, err := parseInput(raw)
	if err != nil {
		msgs.ErrorAt("json", fmt.Sprintf("Invalid submission JSON: %s.", err))
		return rejected(paperID, msgs), nil
	}
	if in.get("error").truthy() || in.get("error_html").truthy() {
		msgs.ErrorAt("error", "Refusing to save submission with error.")
		return rejected(paperID, msgs), nil
	}
	inputID, key, ok := inputPaperID(in)
	switch {
	case !ok:
		formatError(msgs, key)
		return rejected(paperID, msgs), nil
	case paperID == 0:
		paperID = inputID
	case inputID != 0 && inputID != paperID:
		msgs.ErrorAt(key, "Saving submission with different ID.")
		return rejected(paperID, msgs), nil
	}

	if paperID > 0 {
		unlock, err := s.locker.Lock(ctx, lockKey(paperID))
		if err != nil {
			return nil, fmt.Errorf("lock paper %d: %w", paperID, err)
		}
		defer unlock()
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin save: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	existing, err := s.loadForWrite(ctx, tx, actor, paperID)
	if err != nil {
		return nil, err
	}
	vocabulary, err := s.vocab.Load(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	n := &normalizer{
		ctx:      ctx,
		tx:       tx,
		vocab:    s.vocab,
		topics:   vocabulary,
		registry: s.registry,
		settings: s.settings,
		actor:    actor,
		existing: existing,
		now:      now,
		msgs:     msgs,
	}
	rec, err := n.normalize(in)
	if err != nil {
		return nil, err
	}
	rec.ID = paperID
	validateRecord(rec, existing, actor, s.settings, now, msgs)
	// Document failures stay local to their slot, so resolution runs
	// before the gate and its messages join the rejected result.
	if err := resolveDocuments(ctx, tx, s.resolver, rec, existing, msgs); err != nil {
		return nil, err
	}
	if msgs.HasError() {
		return rejected(paperID, msgs), nil
	}

	plan := planWrites(rec, existing, actor, s.settings, s.registry, now)
	savedID, err := execute(ctx, tx, plan)
	if err != nil {
		return nil, err
	}
	stored, err := tx.LoadPaper(ctx, savedID)
	if err != nil {
		return nil, fmt.Errorf("reload paper %d: %w", savedID, err)
	}
	if err := s.attachDocumentOptions(ctx, tx, stored); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save: %w", err)
	}
	committed = true

	if n.createdTopics {
		s.vocab.Invalidate()
	}
	out, err := s.exporter(n.topics).export(ctx, stored, ExportOptions{})
	if err != nil {
		return nil, err
	}
	authorWarnings(stored, msgs)
	if s.settings.RequireCollaborators && stored.Outcome <= 0 {
		for _, w := range collaboratorWarnings(stored.Collaborators) {
			msgs.WarningAt("collaborators", w)
		}
	}

	result := &Result{
		PaperID:  savedID,
		Saved:    true,
		Created:  plan.Create,
		Diffs:    plan.Diffs,
		Messages: msgs,
		Paper:    out,
	}
	s.log.Info("paper saved", "paper_id", savedID, "created", plan.Create, "diffs", plan.Diffs, "actor", actor.Email)
	if plan.Create || len(plan.Diffs) > 0 {
		s.notify(ctx, SavedEvent{PaperID: savedID, Created: plan.Create, Diffs: plan.Diffs, Paper: out, Actor: actor})
	}
	return result, nil
}

// loadForWrite locks and loads the stored submission. It returns nil for
// a submission that does not exist yet and may be created by actor.
func (s *Service) loadForWrite(ctx context.Context, tx Tx, actor Actor, paperID int64) (*Record, error) {
	if paperID <= 0 {
		return nil, nil
	}
	if err := tx.LockPaper(ctx, paperID); err != nil {
		return nil, fmt.Errorf("lock paper %d: %w", paperID, err)
	}
	existing, err := tx.LoadPaper(ctx, paperID)
	if errors.Is(err, ErrNotFound) {
		if !actor.Admin {
			return nil, ErrNotFound
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load paper %d: %w", paperID, err)
	}
	if !canEdit(actor, existing) {
		return nil, ErrForbidden
	}
	if err := s.attachDocumentOptions(ctx, tx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func canEdit(actor Actor, rec *Record) bool {
	return actor.Admin || rec.conflict(actor.Email).IsAuthor()
}

// attachDocumentOptions moves document option values, which store a
// document id, into the record's document slots.
func (s *Service) attachDocumentOptions(ctx context.Context, cat document.Catalog, rec *Record) error {
	if rec.Documents == nil {
		rec.Documents = make(map[document.Slot]document.Document)
	}
	for _, o := range s.registry.All() {
		if !o.IsDocument() {
			continue
		}
		values := rec.Options[o.ID]
		delete(rec.Options, o.ID)
		if len(values) == 0 {
			continue
		}
		doc, found, err := cat.DocumentByID(ctx, rec.ID, values[0].Value)
		if err != nil {
			return fmt.Errorf("load document %d: %w", values[0].Value, err)
		}
		if found {
			rec.Documents[document.Slot(o.ID)] = doc
		}
	}
	return nil
}

func (s *Service) exporter(set *topics.Set) exporter {
	return exporter{resolver: s.resolver, registry: s.registry, topics: set, settings: s.settings}
}

func (s *Service) notify(ctx context.Context, ev SavedEvent) {
	for _, o := range s.observers {
		if err := o.PaperSaved(ctx, ev); err != nil {
			s.log.Warn("paper observer failed", "paper_id", ev.PaperID, "error", err)
		}
	}
}

// Export returns the stored form of a submission visible to actor.
func (s *Service) Export(ctx context.Context, actor Actor, paperID int64, opts ExportOptions) (*Export, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin export: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := tx.LoadPaper(ctx, paperID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load paper %d: %w", paperID, err)
	}
	if !canEdit(actor, rec) {
		return nil, ErrForbidden
	}
	if err := s.attachDocumentOptions(ctx, tx, rec); err != nil {
		return nil, err
	}
	set, err := s.vocab.Load(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	return s.exporter(set).export(ctx, rec, opts)
}
