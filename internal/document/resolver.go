package document

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"papersub/internal/messages"
)

// Ref is an imported document reference.
type Ref struct {
	DocID             int64   `json:"docid,omitempty"`
	Hash              string  `json:"hash,omitempty"`
	SHA1              string  `json:"sha1,omitempty"`
	Content           *string `json:"content,omitempty"`
	ContentBase64     string  `json:"content_base64,omitempty"`
	ContentFile       string  `json:"content_file,omitempty"`
	Mimetype          string  `json:"mimetype,omitempty"`
	Filename          string  `json:"filename,omitempty"`
	Timestamp         int64   `json:"timestamp,omitempty"`
	Filter            int     `json:"filter,omitempty"`
	OriginalID        int64   `json:"original_id,omitempty"`
	OriginalHash      string  `json:"original_hash,omitempty"`
	PreserveTimestamp bool    `json:"preserve_timestamp,omitempty"`
	Error             string  `json:"error,omitempty"`
	ErrorHTML         string  `json:"error_html,omitempty"`
}

func (r Ref) hasContent() bool {
	return r.Content != nil || r.ContentBase64 != "" || r.ContentFile != ""
}

// Catalog looks up stored document rows of one submission.
type Catalog interface {
	DocumentByID(ctx context.Context, paperID, docID int64) (Document, bool, error)
	DocumentByHash(ctx context.Context, paperID int64, slot Slot, hash string) (Document, bool, error)
}

// BlobStore stores bytes by content address. Put must be idempotent.
type BlobStore interface {
	Put(ctx context.Context, hash string, content []byte, mimetype string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

var ErrVetoed = errors.New("document vetoed")

// Veto returns an error that rejects a document with a user visible reason.
func Veto(reason string) error {
	return fmt.Errorf("%w: %s", ErrVetoed, reason)
}

func vetoReason(err error) string {
	text := err.Error()
	if errors.Is(err, ErrVetoed) {
		text = strings.TrimPrefix(text, ErrVetoed.Error())
		text = strings.TrimPrefix(text, ": ")
	}
	if text == "" {
		return "Document rejected."
	}
	return text
}

// ImportHook may rewrite a reference before it is resolved. Returning an
// error vetoes the document.
type ImportHook func(ref Ref, slot Slot) (Ref, error)

// ExportHook may rewrite an exported document. Returning ErrVetoed omits it.
type ExportHook func(out Exported, doc Document) (Exported, error)

type Resolver struct {
	blobs               BlobStore
	importHooks         []ImportHook
	exportHooks         []ExportHook
	allowAnyContentFile bool
	contentFilePrefix   string
	now                 func() time.Time
}

type Option func(*Resolver)

func AllowAnyContentFile(allow bool) Option {
	return func(r *Resolver) { r.allowAnyContentFile = allow }
}

func ContentFilePrefix(prefix string) Option {
	return func(r *Resolver) { r.contentFilePrefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(blobs BlobStore, opts ...Option) *Resolver {
	r := &Resolver{blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.importHooks = []ImportHook{r.checkContentFile}
	return r
}

// OnDocumentImport registers a hook. Hooks run in registration order after
// the built-in content_file check; the first veto wins.
func (r *Resolver) OnDocumentImport(hook ImportHook) {
	r.importHooks = append(r.importHooks, hook)
}

func (r *Resolver) OnDocumentExport(hook ExportHook) {
	r.exportHooks = append(r.exportHooks, hook)
}

var unsafeContentFile = regexp.MustCompile(`^/|(^|/)\.\.(/|$)`)

func (r *Resolver) checkContentFile(ref Ref, _ Slot) (Ref, error) {
	if ref.ContentFile == "" {
		return ref, nil
	}
	if !r.allowAnyContentFile && unsafeContentFile.MatchString(ref.ContentFile) {
		return ref, Veto("Bad content_file: only simple filenames allowed.")
	}
	if r.contentFilePrefix != "" {
		ref.ContentFile = r.contentFilePrefix + ref.ContentFile
	}
	return ref, nil
}

// Request describes where a resolved document will live.
type Request struct {
	PaperID int64
	Slot    Slot
	Field   string
	Current Document
}

// Resolve turns ref into a stored or pending document. Problems with the
// reference are reported as local errors on req.Field and yield the empty
// document; the returned error is reserved for catalog failures.
func (r *Resolver) Resolve(ctx context.Context, cat Catalog, ref Ref, req Request, msgs *messages.Set) (Document, error) {
	if ref.Error != "" || ref.ErrorHTML != "" {
		text := ref.ErrorHTML
		if text == "" {
			text = "Upload error."
		}
		msgs.LocalErrorAt(req.Field, text)
		return Document{}, nil
	}

	for _, hook := range r.importHooks {
		next, err := hook(ref, req.Slot)
		if err != nil {
			msgs.LocalErrorAt(req.Field, vetoReason(err))
			return Document{}, nil
		}
		ref = next
	}

	hash := ref.Hash
	if hash == "" {
		hash = ref.SHA1
	}
	if hash != "" {
		normalized, ok := NormalizeHash(hash)
		if !ok {
			msgs.LocalErrorAt(req.Field, fmt.Sprintf("Bad document hash “%s”.", hash))
			return Document{}, nil
		}
		hash = normalized
	}

	if ref.DocID > 0 && req.PaperID > 0 {
		doc, found, err := cat.DocumentByID(ctx, req.PaperID, ref.DocID)
		if err != nil {
			return Document{}, fmt.Errorf("lookup document %d: %w", ref.DocID, err)
		}
		if found && doc.Slot == req.Slot && (hash == "" || doc.Hash == hash) {
			return doc, nil
		}
		if !ref.hasContent() && hash == "" {
			msgs.LocalErrorAt(req.Field, "Stale document reference.")
			return Document{}, nil
		}
	}
	if hash != "" && req.PaperID > 0 {
		doc, found, err := cat.DocumentByHash(ctx, req.PaperID, req.Slot, hash)
		if err != nil {
			return Document{}, fmt.Errorf("lookup document by hash: %w", err)
		}
		if found {
			return doc, nil
		}
	}
	if !ref.hasContent() {
		if ref.DocID > 0 || hash != "" {
			msgs.LocalErrorAt(req.Field, "Stale document reference.")
		} else {
			msgs.LocalErrorAt(req.Field, "Empty document.")
		}
		return Document{}, nil
	}
	return r.upload(ctx, cat, ref, hash, req, msgs)
}

func (r *Resolver) upload(ctx context.Context, cat Catalog, ref Ref, claimed string, req Request, msgs *messages.Set) (Document, error) {
	content, err := readContent(ref)
	if err != nil {
		msgs.LocalErrorAt(req.Field, err.Error())
		return Document{}, nil
	}
	if len(content) == 0 {
		msgs.LocalErrorAt(req.Field, "Empty document.")
		return Document{}, nil
	}
	hash := HashContent(content)
	if claimed != "" && strings.HasPrefix(claimed, hashPrefix) && claimed != hash {
		msgs.LocalErrorAt(req.Field, "Document content does not match its hash.")
		return Document{}, nil
	}
	if req.PaperID > 0 {
		existing, found, err := cat.DocumentByHash(ctx, req.PaperID, req.Slot, hash)
		if err != nil {
			return Document{}, fmt.Errorf("lookup document by hash: %w", err)
		}
		if found {
			return existing, nil
		}
	}

	doc := Document{
		PaperID:   req.PaperID,
		Slot:      req.Slot,
		Hash:      hash,
		Size:      int64(len(content)),
		Mimetype:  ref.Mimetype,
		Filename:  ref.Filename,
		Timestamp: r.now().UTC().Truncate(time.Second),
	}
	if doc.Mimetype == "" {
		doc.Mimetype = strings.SplitN(mimetype.Detect(content).String(), ";", 2)[0]
	}
	if ref.Timestamp > 0 {
		doc.Timestamp = time.Unix(ref.Timestamp, 0).UTC()
	}
	if ref.Filter != 0 {
		if err := r.linkOriginal(ctx, cat, ref, req, &doc); err != nil {
			return Document{}, err
		}
	}

	key, err := r.blobs.Put(ctx, hash, content, doc.Mimetype)
	if err != nil {
		msgs.LocalErrorAt(req.Field, "Document could not be stored.")
		return Document{}, nil
	}
	doc.BlobKey = key
	return doc, nil
}

func (r *Resolver) linkOriginal(ctx context.Context, cat Catalog, ref Ref, req Request, doc *Document) error {
	doc.Filter = ref.Filter
	var (
		original Document
		found    bool
		err      error
	)
	switch {
	case req.PaperID <= 0:
	case ref.OriginalID > 0:
		original, found, err = cat.DocumentByID(ctx, req.PaperID, ref.OriginalID)
	case ref.OriginalHash != "":
		if hash, ok := NormalizeHash(ref.OriginalHash); ok {
			original, found, err = cat.DocumentByHash(ctx, req.PaperID, req.Slot, hash)
		}
	case !req.Current.IsEmpty() && !req.Current.IsPending():
		original, found = req.Current, true
	}
	if err != nil {
		return fmt.Errorf("lookup original document: %w", err)
	}
	if !found {
		return nil
	}
	doc.OriginalID = original.ID
	doc.OriginalHash = original.Hash
	doc.OriginalTimestamp = original.Timestamp
	if ref.PreserveTimestamp {
		doc.Timestamp = original.Timestamp
	}
	return nil
}

func readContent(ref Ref) ([]byte, error) {
	switch {
	case ref.Content != nil:
		return []byte(*ref.Content), nil
	case ref.ContentBase64 != "":
		content, err := base64.StdEncoding.DecodeString(ref.ContentBase64)
		if err != nil {
			return nil, errors.New("Bad content_base64.")
		}
		return content, nil
	default:
		content, err := os.ReadFile(ref.ContentFile)
		if err != nil {
			return nil, fmt.Errorf("Cannot read content_file “%s”.", ref.ContentFile)
		}
		return content, nil
	}
}

// Exported is the JSON form of a document in an exported submission.
type Exported struct {
	DocID         int64  `json:"docid,omitempty"`
	Mimetype      string `json:"mimetype,omitempty"`
	Hash          string `json:"hash,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	Size          int64  `json:"size,omitempty"`
	Filename      string `json:"filename,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

type ExportOptions struct {
	HideDocIDs  bool
	WithContent bool
}

// Export renders doc through the export hooks. It returns nil for an empty
// or vetoed document.
func (r *Resolver) Export(ctx context.Context, doc Document, opts ExportOptions) (*Exported, error) {
	if doc.IsEmpty() {
		return nil, nil
	}
	out := Exported{
		Mimetype: doc.Mimetype,
		Hash:     doc.Hash,
		Size:     doc.Size,
		Filename: doc.Filename,
	}
	if !opts.HideDocIDs {
		out.DocID = doc.ID
	}
	if !doc.Timestamp.IsZero() {
		out.Timestamp = doc.Timestamp.Unix()
	}
	if opts.WithContent && doc.BlobKey != "" {
		content, err := r.blobs.Get(ctx, doc.BlobKey)
		if err != nil {
			return nil, fmt.Errorf("read document %d content: %w", doc.ID, err)
		}
		out.ContentBase64 = base64.StdEncoding.EncodeToString(content)
	}
	for _, hook := range r.exportHooks {
		next, err := hook(out, doc)
		if errors.Is(err, ErrVetoed) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("export document %d: %w", doc.ID, err)
		}
		out = next
	}
	if out == (Exported{}) {
		return nil, nil
	}
	return &out, nil
}
