package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"papersub/internal/document"
	"papersub/internal/lock"
	"papersub/internal/options"
	"papersub/internal/topics"
)

type memPaper struct {
	row       map[Column]any
	outcome   int
	topics    []int
	options   map[int][]OptionRow
	conflicts map[string]ConflictRow
}

func (p *memPaper) clone() *memPaper {
	out := &memPaper{
		row:       make(map[Column]any, len(p.row)),
		outcome:   p.outcome,
		topics:    append([]int(nil), p.topics...),
		options:   make(map[int][]OptionRow, len(p.options)),
		conflicts: make(map[string]ConflictRow, len(p.conflicts)),
	}
	for k, v := range p.row {
		out.row[k] = v
	}
	for k, v := range p.options {
		out.options[k] = append([]OptionRow(nil), v...)
	}
	for k, v := range p.conflicts {
		out.conflicts[k] = v
	}
	return out
}

type memState struct {
	papers    map[int64]*memPaper
	docs      map[int64]document.Document
	topics    []topics.Topic
	accounts  map[string]Account
	nextPaper int64
	nextDoc   int64
	nextAcct  int64
}

func (s *memState) clone() *memState {
	out := &memState{
		papers:    make(map[int64]*memPaper, len(s.papers)),
		docs:      make(map[int64]document.Document, len(s.docs)),
		topics:    append([]topics.Topic(nil), s.topics...),
		accounts:  make(map[string]Account, len(s.accounts)),
		nextPaper: s.nextPaper,
		nextDoc:   s.nextDoc,
		nextAcct:  s.nextAcct,
	}
	for k, v := range s.papers {
		out.papers[k] = v.clone()
	}
	for k, v := range s.docs {
		out.docs[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	return out
}

// memDB is an in-memory Store. Each transaction works on a copy that
// replaces the committed state on Commit.
type memDB struct {
	state     *memState
	calls     []string
	commits   int
	rollbacks int

	insertPaperFn      func(context.Context, int64, []Assignment) (int64, error)
	replaceConflictsFn func(context.Context, int64, []ConflictRow) error
}

func newMemDB() *memDB {
	db := &memDB{state: &memState{
		papers:   map[int64]*memPaper{},
		docs:     map[int64]document.Document{},
		accounts: map[string]Account{},
		topics: []topics.Topic{
			{ID: 1, Name: "Databases"},
			{ID: 2, Name: "Machine Learning"},
			{ID: 3, Name: "NLP"},
		},
	}}
	db.addAccount(Account{Email: "pc@x.edu", First: "Pat", Last: "Member", PC: true})
	db.addAccount(Account{Email: "chair@x.edu", First: "Cam", Last: "Chair", PC: true, Admin: true})
	db.addAccount(Account{Email: "a@x.edu", First: "Ada", Last: "Author", PC: true})
	return db
}

func (db *memDB) addAccount(a Account) Account {
	db.state.nextAcct++
	a.ID = db.state.nextAcct
	db.state.accounts[strings.ToLower(a.Email)] = a
	return a
}

func (db *memDB) Begin(context.Context) (Tx, error) {
	return &memTx{db: db, st: db.state.clone()}, nil
}

func (db *memDB) paper(t *testing.T, id int64) *memPaper {
	t.Helper()
	p, ok := db.state.papers[id]
	if !ok {
		t.Fatalf("paper %d not stored", id)
	}
	return p
}

func (db *memDB) conflictLevel(t *testing.T, id int64, email string) ConflictLevel {
	t.Helper()
	return db.paper(t, id).conflicts[strings.ToLower(email)].Level
}

type memTx struct {
	db   *memDB
	st   *memState
	done bool
}

func (tx *memTx) record(call string) {
	tx.db.calls = append(tx.db.calls, call)
}

func (tx *memTx) ListTopics(context.Context) ([]topics.Topic, error) {
	return append([]topics.Topic(nil), tx.st.topics...), nil
}

func (tx *memTx) InsertTopic(_ context.Context, name string) (int, error) {
	id := len(tx.st.topics) + 1
	tx.st.topics = append(tx.st.topics, topics.Topic{ID: id, Name: name})
	return id, nil
}

func (tx *memTx) DocumentByID(_ context.Context, paperID, docID int64) (document.Document, bool, error) {
	doc, ok := tx.st.docs[docID]
	if !ok || doc.PaperID != paperID {
		return document.Document{}, false, nil
	}
	return doc, true, nil
}

func (tx *memTx) DocumentByHash(_ context.Context, paperID int64, slot document.Slot, hash string) (document.Document, bool, error) {
	ids := make([]int64, 0, len(tx.st.docs))
	for id := range tx.st.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		doc := tx.st.docs[id]
		if doc.PaperID == paperID && doc.Slot == slot && doc.Hash == hash {
			return doc, true, nil
		}
	}
	return document.Document{}, false, nil
}

func (tx *memTx) PCMembers(context.Context) ([]Account, error) {
	var out []Account
	for _, a := range tx.st.accounts {
		if a.PC {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (tx *memTx) AccountsByEmail(_ context.Context, emails []string) (map[string]Account, error) {
	out := make(map[string]Account)
	for _, email := range emails {
		if a, ok := tx.st.accounts[strings.ToLower(email)]; ok {
			out[strings.ToLower(email)] = a
		}
	}
	return out, nil
}

func (tx *memTx) EnsureAccount(_ context.Context, c Contact) (Account, error) {
	tx.record("EnsureAccount " + strings.ToLower(c.Email))
	key := strings.ToLower(c.Email)
	if a, ok := tx.st.accounts[key]; ok {
		return a, nil
	}
	tx.st.nextAcct++
	a := Account{ID: tx.st.nextAcct, Email: c.Email, First: c.First, Last: c.Last, Affiliation: c.Affiliation}
	tx.st.accounts[key] = a
	return a, nil
}

func (tx *memTx) LockPaper(_ context.Context, paperID int64) error {
	tx.record(fmt.Sprintf("LockPaper %d", paperID))
	return nil
}

func rowString(row map[Column]any, col Column) string {
	s, _ := row[col].(string)
	return s
}

func rowTime(row map[Column]any, col Column) time.Time {
	t, _ := row[col].(time.Time)
	return t
}

func (tx *memTx) LoadPaper(_ context.Context, paperID int64) (*Record, error) {
	p, ok := tx.st.papers[paperID]
	if !ok {
		return nil, ErrNotFound
	}
	rec := &Record{
		ID:               paperID,
		Title:            rowString(p.row, ColTitle),
		Abstract:         rowString(p.row, ColAbstract),
		Collaborators:    rowString(p.row, ColCollaborators),
		Authors:          ParseAuthorInformation(rowString(p.row, ColAuthorInformation)),
		Topics:           append([]int{}, p.topics...),
		Options:          make(map[int][]options.Value),
		Documents:        make(map[document.Slot]document.Document),
		Conflicts:        make(map[string]ConflictLevel),
		SubmittedAt:      rowTime(p.row, ColSubmittedAt),
		WithdrawnAt:      rowTime(p.row, ColWithdrawnAt),
		WithdrawReason:   rowString(p.row, ColWithdrawReason),
		FinalSubmittedAt: rowTime(p.row, ColFinalSubmittedAt),
		Outcome:          p.outcome,
	}
	switch rowString(p.row, ColStatus) {
	case "submitted":
		rec.Status = StatusSubmitted
	case "withdrawn":
		rec.Status = StatusWithdrawn
	}
	if blind, ok := p.row[ColBlind].(bool); ok {
		rec.NonBlind = !blind
	}
	for col, slot := range map[Column]document.Slot{ColSubmission: document.SlotSubmission, ColFinal: document.SlotFinal} {
		if id, ok := p.row[col].(int64); ok && id > 0 {
			rec.Documents[slot] = tx.st.docs[id]
		}
	}
	for id, rows := range p.options {
		for _, row := range rows {
			rec.Options[id] = append(rec.Options[id], options.Value{Value: row.Value, Data: row.Data})
		}
	}
	for _, email := range sortedConflictEmails(p.conflicts) {
		row := p.conflicts[email]
		rec.Conflicts[email] = row.Level
		if row.Level.IsContact() {
			a := tx.st.accounts[email]
			rec.Contacts = append(rec.Contacts, Contact{Email: a.Email, First: a.First, Last: a.Last, Affiliation: a.Affiliation})
		}
	}
	return rec, nil
}

func sortedConflictEmails(m map[string]ConflictRow) []string {
	emails := make([]string, 0, len(m))
	for email := range m {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

func (tx *memTx) InsertDocument(_ context.Context, doc document.Document) (int64, error) {
	tx.record("InsertDocument")
	tx.st.nextDoc++
	doc.ID = tx.st.nextDoc
	tx.st.docs[doc.ID] = doc
	return doc.ID, nil
}

func (tx *memTx) RehomeDocuments(_ context.Context, paperID int64, docIDs []int64) error {
	tx.record("RehomeDocuments")
	for _, id := range docIDs {
		doc := tx.st.docs[id]
		doc.PaperID = paperID
		tx.st.docs[id] = doc
	}
	return nil
}

func (tx *memTx) UpdatePaper(_ context.Context, paperID int64, set []Assignment) (bool, error) {
	tx.record("UpdatePaper")
	p, ok := tx.st.papers[paperID]
	if !ok {
		return false, nil
	}
	for _, a := range set {
		p.row[a.Column] = a.Value
	}
	return true, nil
}

func (tx *memTx) PaperExists(_ context.Context, paperID int64) (bool, error) {
	_, ok := tx.st.papers[paperID]
	return ok, nil
}

func (tx *memTx) InsertPaper(ctx context.Context, paperID int64, set []Assignment) (int64, error) {
	tx.record("InsertPaper")
	if tx.db.insertPaperFn != nil {
		return tx.db.insertPaperFn(ctx, paperID, set)
	}
	if paperID == 0 {
		paperID = tx.st.nextPaper + 1
	}
	if _, ok := tx.st.papers[paperID]; ok {
		return 0, errors.New("duplicate paper id")
	}
	if paperID > tx.st.nextPaper {
		tx.st.nextPaper = paperID
	}
	p := &memPaper{
		row:       map[Column]any{ColStatus: "draft"},
		options:   map[int][]OptionRow{},
		conflicts: map[string]ConflictRow{},
	}
	for _, a := range set {
		p.row[a.Column] = a.Value
	}
	tx.st.papers[paperID] = p
	return paperID, nil
}

func (tx *memTx) ReplaceTopics(_ context.Context, paperID int64, topicIDs []int) error {
	tx.record("ReplaceTopics")
	tx.st.papers[paperID].topics = append([]int(nil), topicIDs...)
	return nil
}

func (tx *memTx) DeleteOptions(_ context.Context, paperID int64, optionIDs []int) error {
	tx.record("DeleteOptions")
	for _, id := range optionIDs {
		delete(tx.st.papers[paperID].options, id)
	}
	return nil
}

func (tx *memTx) InsertOptions(_ context.Context, paperID int64, rows []OptionRow) error {
	tx.record("InsertOptions")
	p := tx.st.papers[paperID]
	for _, row := range rows {
		p.options[row.OptionID] = append(p.options[row.OptionID], row)
	}
	return nil
}

func (tx *memTx) ReplaceConflicts(ctx context.Context, paperID int64, rows []ConflictRow) error {
	tx.record("ReplaceConflicts")
	if tx.db.replaceConflictsFn != nil {
		if err := tx.db.replaceConflictsFn(ctx, paperID, rows); err != nil {
			return err
		}
	}
	p := tx.st.papers[paperID]
	p.conflicts = make(map[string]ConflictRow, len(rows))
	for _, row := range rows {
		p.conflicts[strings.ToLower(row.Email)] = row
	}
	return nil
}

func (tx *memTx) Commit() error {
	tx.db.state = tx.st
	tx.db.commits++
	tx.done = true
	return nil
}

func (tx *memTx) Rollback() error {
	if !tx.done {
		tx.db.rollbacks++
		tx.done = true
	}
	return nil
}

type memBlobs struct {
	objects map[string][]byte
	puts    int
}

func (m *memBlobs) Put(_ context.Context, hash string, content []byte, _ string) (string, error) {
	m.puts++
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[hash] = append([]byte(nil), content...)
	return hash, nil
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return content, nil
}

type recordingLocker struct {
	lock.Locker
	keys []string
}

func (l *recordingLocker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	l.keys = append(l.keys, key)
	return l.Locker.Lock(ctx, key)
}

type recordingObserver struct {
	events []SavedEvent
	err    error
}

func (o *recordingObserver) PaperSaved(_ context.Context, ev SavedEvent) error {
	o.events = append(o.events, ev)
	return o.err
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock advances by a minute on every reading.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Minute)
	return c.now
}

func testRegistry(t *testing.T) *options.Registry {
	t.Helper()
	reg, err := options.NewRegistry([]options.Option{
		{ID: 1, Name: "Artifact available", JSONKey: "artifact", Abbr: "art", Type: options.TypeCheckbox},
		{ID: 2, Name: "Supplementary material", JSONKey: "supplement", Type: options.TypeDocument},
		{ID: 3, Name: "Track", Type: options.TypeSelector, Choices: []string{"Research", "Industry"}},
		{ID: 4, Name: "Camera notes", JSONKey: "camera_notes", Type: options.TypeText, Final: true},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

type testEnv struct {
	db       *memDB
	blobs    *memBlobs
	locker   *recordingLocker
	observer *recordingObserver
	clock    *testClock
	svc      *Service
}

func newTestEnv(t *testing.T, settings Settings) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       newMemDB(),
		blobs:    &memBlobs{},
		locker:   &recordingLocker{Locker: lock.NewLocal()},
		observer: &recordingObserver{},
		clock:    &testClock{now: testStart},
	}
	resolver := document.NewResolver(env.blobs, document.WithClock(env.clock.Now))
	env.svc = NewService(env.db, env.locker, topics.NewVocabulary(), testRegistry(t), resolver, settings, nil)
	env.svc.now = env.clock.Now
	env.svc.AddObserver(env.observer)
	return env
}

var (
	admin  = Actor{Email: "chair@x.edu", Admin: true}
	author = Actor{Email: "jo@x.edu"}
)

func (env *testEnv) save(t *testing.T, actor Actor, paperID int64, raw string) *Result {
	t.Helper()
	res, err := env.svc.Save(context.Background(), actor, paperID, []byte(raw))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return res
}

func (env *testEnv) mustSave(t *testing.T, actor Actor, paperID int64, raw string) *Result {
	t.Helper()
	res := env.save(t, actor, paperID, raw)
	if !res.Saved {
		t.Fatalf("Save() rejected: %s", res.Messages)
	}
	return res
}
