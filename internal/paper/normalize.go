package paper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"papersub/internal/document"
	"papersub/internal/messages"
	"papersub/internal/options"
	"papersub/internal/topics"
)

// normalizer converts one parsed input document to a Record. It appends
// problems to msgs and returns errors only for storage failures.
type normalizer struct {
	ctx      context.Context
	tx       Tx
	vocab    *topics.Vocabulary
	topics   *topics.Set
	registry *options.Registry
	settings Settings
	actor    Actor
	existing *Record
	now      time.Time
	msgs     *messages.Set

	rec           *Record
	pcMembers     map[string]Account
	byEmail       map[string]int
	createdTopics bool
}

func formatError(msgs *messages.Set, field string) {
	msgs.ErrorAt(field, fmt.Sprintf("Format error [%s]", field))
}

func optionField(o options.Option) string {
	return "opt" + strconv.Itoa(o.ID)
}

// inputPaperID reads pid or id. ok is false for a malformed value.
func inputPaperID(in jsonShape) (id int64, key string, ok bool) {
	key, v := in.first("pid", "id")
	switch v.kind {
	case shapeMissing, shapeNull:
		return 0, key, true
	case shapeNumber:
		n, isInt := v.int64()
		if !isInt {
			return 0, key, false
		}
		if n <= 0 {
			return 0, key, true
		}
		return n, key, true
	}
	return 0, key, false
}

func (n *normalizer) normalize(in jsonShape) (*Record, error) {
	n.rec = &Record{
		Options:     make(map[int][]options.Value),
		Documents:   make(map[document.Slot]document.Document),
		PCConflicts: make(map[string]ConflictLevel),
		input: &inputFacts{
			present: make(map[Facet]bool),
			docRefs: make(map[document.Slot]*document.Ref),
		},
	}
	if n.existing != nil {
		n.rec.ID = n.existing.ID
		n.rec.Outcome = n.existing.Outcome
	}
	n.byEmail = make(map[string]int)

	n.normalizeString(in, FacetTitle, &n.rec.Title, simplify)
	n.normalizeString(in, FacetAbstract, &n.rec.Abstract, strings.TrimSpace)
	n.normalizeString(in, FacetCollaborators, &n.rec.Collaborators, cleanCollaborators)
	n.normalizeAuthors(in.get("authors"))
	n.normalizeStatus(in)
	n.normalizeNonBlind(in.get("nonblind"))
	if err := n.normalizeTopics(in.get("topics")); err != nil {
		return nil, err
	}
	n.normalizeOptions(in.get("options"))
	if err := n.normalizePCConflicts(in.get("pc_conflicts")); err != nil {
		return nil, err
	}
	n.checkContactAuthors()
	n.normalizeContacts(in.get("contacts"))
	n.inheritContacts()
	n.normalizeDocument(in.get("submission"), document.SlotSubmission, FacetSubmission)
	n.normalizeDocument(in.get("final"), document.SlotFinal, FacetFinal)
	return n.rec, nil
}

func (n *normalizer) normalizeString(in jsonShape, f Facet, dst *string, clean func(string) string) {
	v := in.get(string(f))
	switch v.kind {
	case shapeMissing, shapeNull:
	case shapeString:
		*dst = clean(v.str)
		n.rec.mark(f)
	default:
		formatError(n.msgs, string(f))
	}
}

func (n *normalizer) normalizeAuthors(v jsonShape) {
	switch v.kind {
	case shapeMissing, shapeNull:
		return
	case shapeArray:
	default:
		formatError(n.msgs, "authors")
		return
	}
	n.rec.mark(FacetAuthors)
	n.rec.Authors = []Author{}
	facts := n.rec.input
	for _, elem := range v.arr {
		var au Author
		switch elem.kind {
		case shapeString:
			au = parseAuthorText(elem.str)
			au.Index = -1
		case shapeObject:
			var ok bool
			if au, ok = parseAuthorObject(elem); !ok {
				formatError(n.msgs, "authors")
				continue
			}
		default:
			formatError(n.msgs, "authors")
			continue
		}

		if au.Email != "" && au.First == "" && au.Last == "" {
			if old, ok := n.existing.AuthorByEmail(au.Email); ok {
				au.First, au.Last = old.First, old.Last
				if au.Affiliation == "" {
					au.Affiliation = old.Affiliation
				}
			}
		}
		if au.Index < 0 {
			au.Index = len(n.rec.Authors) + len(facts.badAuthors)
		}
		if au.empty() {
			facts.badAuthors = append(facts.badAuthors, au)
			continue
		}
		n.rec.Authors = append(n.rec.Authors, au)
		if au.Email != "" {
			n.byEmail[strings.ToLower(au.Email)] = len(n.rec.Authors) - 1
			if _, stored := n.existing.AuthorByEmail(au.Email); !validEmail(au.Email) && !stored {
				facts.badEmailAuthors = append(facts.badEmailAuthors, au)
			}
		}
	}
}

func (n *normalizer) normalizeStatus(in jsonShape) {
	st := &n.rec.input.status
	flag := func(key string) *bool {
		v := in.get(key)
		if !v.present() || v.kind == shapeNull {
			return nil
		}
		b, ok := v.friendlyBool()
		if !ok {
			formatError(n.msgs, key)
			return nil
		}
		return &b
	}
	st.withdrawn = flag("withdrawn")
	st.submitted = flag("submitted")
	st.draft = flag("draft")
	if !st.given() {
		if v := in.get("status"); v.kind == shapeString {
			yes := true
			switch strings.ToLower(strings.TrimSpace(v.str)) {
			case "submitted", "accepted", "rejected":
				st.submitted = &yes
			case "withdrawn":
				st.withdrawn = &yes
			case "draft", "inprogress":
				st.draft = &yes
			default:
				n.msgs.ErrorAt("status", fmt.Sprintf("Unknown status “%s”.", v.str))
			}
		} else if v.present() && v.kind != shapeNull {
			formatError(n.msgs, "status")
		}
	}
	if st.given() {
		n.rec.mark(FacetStatus)
	}

	st.submittedAt = n.timestamp(in.get("submitted_at"))
	st.withdrawnAt = n.timestamp(in.get("withdrawn_at"))
	st.finalSubmittedAt = n.timestamp(in.get("final_submitted_at"))
	if v := in.get("withdraw_reason"); v.kind == shapeString {
		reason := strings.TrimSpace(v.str)
		st.withdrawReason = &reason
	} else if v.present() && v.kind != shapeNull {
		formatError(n.msgs, "withdraw_reason")
	}
	if fs := flag("final_submitted"); fs != nil {
		n.rec.input.finalSubmitted = fs
		n.rec.mark(FacetFinalStatus)
	}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// timestamp reads unix seconds or a date string. Values that cannot be
// understood become the current time.
func (n *normalizer) timestamp(v jsonShape) *time.Time {
	var t time.Time
	switch v.kind {
	case shapeMissing, shapeNull:
		return nil
	case shapeNumber:
		if f, err := v.num.Float64(); err == nil && f > 0 {
			t = time.Unix(int64(f), 0)
		}
	case shapeString:
		s := strings.TrimSpace(v.str)
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			if secs > 0 {
				t = time.Unix(secs, 0)
			}
			break
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t = parsed
				break
			}
		}
	}
	if t.IsZero() {
		t = n.now
	}
	t = t.UTC()
	return &t
}

func (n *normalizer) normalizeNonBlind(v jsonShape) {
	if !v.present() {
		return
	}
	b, ok := v.friendlyBool()
	if !ok {
		formatError(n.msgs, "nonblind")
		return
	}
	n.rec.NonBlind = b
	n.rec.input.nonBlind = &b
	n.rec.mark(FacetNonBlind)
}

func (n *normalizer) normalizeTopics(v jsonShape) error {
	var keys []string
	switch v.kind {
	case shapeMissing, shapeNull:
		return nil
	case shapeBool:
		if v.b {
			formatError(n.msgs, "topics")
			return nil
		}
	case shapeString:
		for _, line := range strings.Split(strings.ReplaceAll(v.str, "\r", ""), "\n") {
			if line = simplify(line); line != "" {
				keys = append(keys, line)
			}
		}
	case shapeArray:
		for _, elem := range v.arr {
			if !elem.truthy() {
				continue
			}
			key, ok := elem.scalarKey()
			if !ok {
				formatError(n.msgs, "topics")
				continue
			}
			keys = append(keys, key)
		}
	case shapeObject:
		for _, m := range v.obj {
			if m.val.truthy() {
				keys = append(keys, m.key)
			}
		}
	default:
		formatError(n.msgs, "topics")
		return nil
	}

	n.rec.mark(FacetTopics)
	seen := make(map[int]bool)
	n.rec.Topics = []int{}
	for _, key := range keys {
		ids := n.topics.Find(key)
		if len(ids) == 0 && n.settings.AddTopics {
			if _, err := strconv.Atoi(key); err != nil {
				set, err := n.vocab.Create(n.ctx, n.tx, key)
				if err != nil {
					return err
				}
				n.topics = set
				n.createdTopics = true
				ids = set.Find(key)
			}
		}
		if len(ids) != 1 {
			n.rec.input.badTopics = append(n.rec.input.badTopics, key)
			continue
		}
		if !seen[ids[0]] {
			seen[ids[0]] = true
			n.rec.Topics = append(n.rec.Topics, ids[0])
		}
	}
	sort.Ints(n.rec.Topics)
	return nil
}

func (n *normalizer) normalizeOptions(v jsonShape) {
	var members []member
	switch {
	case v.kind == shapeMissing || v.kind == shapeNull:
		return
	case v.kind == shapeObject:
		members = v.obj
	case v.kind == shapeArray && len(v.arr) == 1 && v.arr[0].kind == shapeObject:
		members = v.arr[0].obj
	case v.kind == shapeBool && !v.b:
		n.rec.input.clearOptions = true
	default:
		formatError(n.msgs, "options")
		return
	}
	n.rec.mark(FacetOptions)

	for _, m := range members {
		matches := n.registry.Find(m.key)
		if len(matches) != 1 {
			n.rec.input.badOptions = append(n.rec.input.badOptions, m.key)
			continue
		}
		o := matches[0]
		if o.Final && n.rec.Outcome <= 0 {
			continue
		}
		if o.IsDocument() {
			ref, ok := n.documentRef(m.val)
			if !ok {
				n.msgs.ErrorAt(optionField(o), fmt.Sprintf("%s: Format error.", o.Name))
				continue
			}
			n.rec.input.docRefs[document.Slot(o.ID)] = ref
			continue
		}
		values, err := o.Parse(m.val.value())
		if err != nil {
			n.msgs.ErrorAt(optionField(o), fmt.Sprintf("%s: %s", o.Name, err))
			continue
		}
		n.rec.Options[o.ID] = values
	}
}

func (n *normalizer) pcMember(email string) (Account, bool, error) {
	if n.pcMembers == nil {
		members, err := n.tx.PCMembers(n.ctx)
		if err != nil {
			return Account{}, false, fmt.Errorf("list pc members: %w", err)
		}
		n.pcMembers = make(map[string]Account, len(members))
		for _, m := range members {
			n.pcMembers[strings.ToLower(m.Email)] = m
		}
	}
	acct, ok := n.pcMembers[strings.ToLower(strings.TrimSpace(email))]
	return acct, ok, nil
}

func (n *normalizer) normalizePCConflicts(v jsonShape) error {
	var members []member
	switch v.kind {
	case shapeMissing, shapeNull:
		return nil
	case shapeBool:
		if v.b {
			formatError(n.msgs, "pc_conflicts")
			return nil
		}
	case shapeObject:
		members = v.obj
	case shapeArray:
		for _, elem := range v.arr {
			if elem.kind != shapeString {
				formatError(n.msgs, "pc_conflicts")
				continue
			}
			members = append(members, member{key: elem.str, val: jsonShape{kind: shapeBool, b: true}})
		}
	default:
		formatError(n.msgs, "pc_conflicts")
		return nil
	}
	n.rec.mark(FacetPCConflicts)

	facts := n.rec.input
	for _, m := range members {
		email := strings.ToLower(strings.TrimSpace(m.key))
		_, isPC, err := n.pcMember(email)
		if err != nil {
			return err
		}
		if !isPC {
			facts.badPCConflicts = append(facts.badPCConflicts, m.key)
			continue
		}
		switch m.val.kind {
		case shapeBool, shapeNumber, shapeString:
		default:
			formatError(n.msgs, "pc_conflicts")
			continue
		}
		level, ok := parseConflictValue(m.val)
		if !ok {
			n.msgs.WarningAt("pc_conflicts", fmt.Sprintf("Unknown conflict type for %s, treated as “other”.", m.key))
			level = ConflictPCLow
		}
		if level == ConflictChair && !n.actor.Admin && n.existing.conflict(email) != ConflictChair {
			n.msgs.WarningAt("pc_conflicts", fmt.Sprintf("Only administrators can mark chair conflicts (%s).", m.key))
			level = ConflictPCLow
		}
		n.rec.PCConflicts[email] = level
	}
	return nil
}

// validContact accepts syntactically valid emails and people already
// trusted as authors or contacts of the stored record.
func (n *normalizer) validContact(email string) bool {
	if email == "" {
		return false
	}
	if validEmail(email) || strings.EqualFold(email, n.actor.Email) {
		return true
	}
	return n.existing.conflict(email).IsAuthor()
}

func (n *normalizer) checkContactAuthors() {
	for _, au := range n.rec.Authors {
		if au.Contact != nil && *au.Contact && !n.validContact(au.Email) {
			n.rec.input.badContacts = append(n.rec.input.badContacts, Contact{
				Email: au.Email, First: au.First, Last: au.Last, Affiliation: au.Affiliation,
			})
		}
	}
}

func (n *normalizer) normalizeContacts(v jsonShape) {
	var entries []member
	switch v.kind {
	case shapeMissing, shapeNull:
		return
	case shapeArray:
		for _, elem := range v.arr {
			entries = append(entries, member{val: elem})
		}
	case shapeObject:
		entries = v.obj
	default:
		formatError(n.msgs, "contacts")
		return
	}
	n.rec.mark(FacetContacts)
	n.rec.Contacts = []Contact{}

	for _, e := range entries {
		if !e.val.truthy() {
			continue
		}
		var c Contact
		switch e.val.kind {
		case shapeBool, shapeNumber:
			c.Email = e.key
		case shapeString:
			text := strings.TrimSpace(e.val.str)
			if e.key == "" && !n.validContact(text) {
				au := parseAuthorText(text)
				c = Contact{Email: au.Email, First: au.First, Last: au.Last, Affiliation: au.Affiliation}
			} else if e.key == "" {
				c.Email = text
			} else {
				c.Email = e.key
			}
		case shapeObject:
			au, ok := parseAuthorObject(e.val)
			if !ok {
				formatError(n.msgs, "contacts")
				continue
			}
			c = Contact{Email: au.Email, First: au.First, Last: au.Last, Affiliation: au.Affiliation}
			if c.Email == "" {
				c.Email = e.key
			}
		default:
			formatError(n.msgs, "contacts")
			continue
		}
		c.Email = strings.TrimSpace(c.Email)
		if c.Email == "" {
			formatError(n.msgs, "contacts")
			continue
		}
		if !n.validContact(c.Email) {
			n.rec.input.badContacts = append(n.rec.input.badContacts, c)
			continue
		}
		if i, ok := n.byEmail[strings.ToLower(c.Email)]; ok {
			au := n.rec.Authors[i]
			if c.First == "" && c.Last == "" {
				c.First, c.Last = au.First, au.Last
			}
			if c.Affiliation == "" {
				c.Affiliation = au.Affiliation
			}
		}
		n.addContact(c)
	}
}

func (n *normalizer) addContact(c Contact) {
	for _, have := range n.rec.Contacts {
		if strings.EqualFold(have.Email, c.Email) {
			return
		}
	}
	n.rec.Contacts = append(n.rec.Contacts, c)
}

// inheritContacts carries stored contactness to input authors that do not
// say otherwise, and makes sure the acting user stays or becomes a contact
// when they edit as a plain author or create a new submission.
func (n *normalizer) inheritContacts() {
	if n.existing != nil && n.rec.Has(FacetAuthors) {
		yes := true
		for email, level := range n.existing.Conflicts {
			if !level.IsContact() {
				continue
			}
			if i, ok := n.byEmail[email]; ok && n.rec.Authors[i].Contact == nil {
				n.rec.Authors[i].Contact = &yes
			}
		}
	}

	if n.actor.Admin || n.actor.Email == "" {
		return
	}
	switch {
	case n.existing == nil:
	case n.existing.conflict(n.actor.Email) == ConflictAuthor:
		if !n.rec.Has(FacetContacts) {
			n.rec.Contacts = []Contact{}
			for _, email := range sortedEmails(n.existing.Conflicts) {
				if n.existing.Conflicts[email].IsContact() {
					n.rec.Contacts = append(n.rec.Contacts, Contact{Email: email})
				}
			}
		}
	default:
		return
	}
	n.rec.mark(FacetContacts)
	n.addContact(Contact{Email: n.actor.Email})
}

func (n *normalizer) documentRef(v jsonShape) (*document.Ref, bool) {
	switch {
	case v.kind == shapeNull || (v.kind == shapeBool && !v.b):
		return nil, true
	case v.kind == shapeArray && len(v.arr) == 1:
		v = v.arr[0]
	}
	if v.kind != shapeObject {
		return nil, false
	}
	var ref document.Ref
	if err := v.decodeInto(&ref); err != nil {
		return nil, false
	}
	return &ref, true
}

func (n *normalizer) normalizeDocument(v jsonShape, slot document.Slot, f Facet) {
	if !v.present() {
		return
	}
	ref, ok := n.documentRef(v)
	if !ok {
		formatError(n.msgs, string(f))
		return
	}
	n.rec.input.docRefs[slot] = ref
	n.rec.mark(f)
}
