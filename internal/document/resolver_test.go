package document

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"papersub/internal/messages"
)

type fakeCatalog struct {
	docs []Document
}

func (f *fakeCatalog) DocumentByID(_ context.Context, paperID, docID int64) (Document, bool, error) {
	for _, doc := range f.docs {
		if doc.PaperID == paperID && doc.ID == docID {
			return doc, true, nil
		}
	}
	return Document{}, false, nil
}

func (f *fakeCatalog) DocumentByHash(_ context.Context, paperID int64, slot Slot, hash string) (Document, bool, error) {
	for _, doc := range f.docs {
		if doc.PaperID == paperID && doc.Slot == slot && doc.Hash == hash {
			return doc, true, nil
		}
	}
	return Document{}, false, nil
}

type memBlobs struct {
	objects map[string][]byte
	puts    int
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (m *memBlobs) Put(_ context.Context, hash string, content []byte, _ string) (string, error) {
	m.puts++
	if m.putErr != nil {
		return "", m.putErr
	}
	key := objectKey(hash)
	m.objects[key] = append([]byte(nil), content...)
	return key, nil
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return content, nil
}

func strptr(s string) *string { return &s }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(blobs BlobStore, opts ...Option) *Resolver {
	return NewResolver(blobs, append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestResolveUploadsNewContent(t *testing.T) {
	blobs := newMemBlobs()
	r := newTestResolver(blobs)
	msgs := messages.New()

	doc, err := r.Resolve(context.Background(), &fakeCatalog{}, Ref{
		Content:  strptr("%PDF-1.4\n%fake paper\n"),
		Filename: "paper.pdf",
	}, Request{PaperID: 7, Slot: SlotSubmission, Field: "submission"}, msgs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if msgs.HasError() {
		t.Fatalf("unexpected messages: %s", msgs)
	}
	if !doc.IsPending() || doc.PaperID != 7 || doc.Mimetype != "application/pdf" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if !strings.HasPrefix(doc.Hash, "sha2-") || doc.Size != 21 || !doc.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected document %+v", doc)
	}
	if blobs.puts != 1 || doc.BlobKey == "" {
		t.Fatalf("expected one blob write, got %d (%q)", blobs.puts, doc.BlobKey)
	}
}

func TestResolveDeduplicatesByHash(t *testing.T) {
	content := "same bytes"
	existing := Document{ID: 41, PaperID: 7, Slot: SlotSubmission, Hash: HashContent([]byte(content)), Size: int64(len(content))}
	cat := &fakeCatalog{docs: []Document{existing}}
	blobs := newMemBlobs()
	r := newTestResolver(blobs)

	for _, ref := range []Ref{
		{Content: strptr(content)},
		{ContentBase64: base64.StdEncoding.EncodeToString([]byte(content))},
		{Hash: existing.Hash},
		{Hash: strings.TrimPrefix(existing.Hash, "sha2-")},
		{DocID: 41, Hash: existing.Hash},
	} {
		msgs := messages.New()
		doc, err := r.Resolve(context.Background(), cat, ref, Request{PaperID: 7, Slot: SlotSubmission, Field: "submission"}, msgs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if doc.ID != 41 || msgs.HasError() {
			t.Fatalf("Resolve(%+v) = %+v (%s), want existing document", ref, doc, msgs)
		}
	}
	if blobs.puts != 0 {
		t.Fatalf("dedup must not store bytes, puts = %d", blobs.puts)
	}

	// Same content in another slot is a different document.
	doc, err := r.Resolve(context.Background(), cat, Ref{Content: strptr(content)}, Request{PaperID: 7, Slot: SlotFinal, Field: "final"}, messages.New())
	if err != nil || !doc.IsPending() {
		t.Fatalf("final slot = %+v, %v", doc, err)
	}
}

func TestResolveStaleReference(t *testing.T) {
	cat := &fakeCatalog{docs: []Document{{ID: 41, PaperID: 7, Hash: HashContent([]byte("a"))}}}
	r := newTestResolver(newMemBlobs())
	msgs := messages.New()

	doc, err := r.Resolve(context.Background(), cat, Ref{DocID: 41, Hash: HashContent([]byte("b"))}, Request{PaperID: 7, Field: "submission"}, msgs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !doc.IsEmpty() || !msgs.HasErrorAt("submission") || msgs.HasError() {
		t.Fatalf("expected stale reference, got %+v (%s)", doc, msgs)
	}

	// Stale docid with content falls through to upload.
	msgs = messages.New()
	doc, err = r.Resolve(context.Background(), cat, Ref{DocID: 99, Content: strptr("fresh")}, Request{PaperID: 7, Field: "submission"}, msgs)
	if err != nil || !doc.IsPending() || msgs.HasError() {
		t.Fatalf("expected upload fallback, got %+v, %v (%s)", doc, err, msgs)
	}
}

func TestResolveContentFileChecks(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "paper.txt"), []byte("plain text body"), 0o644); err != nil {
		t.Fatalf("write content file: %v", err)
	}
	r := newTestResolver(newMemBlobs(), ContentFilePrefix(dir+"/"))

	for _, bad := range []string{"/etc/passwd", "../secret", "a/../../b"} {
		msgs := messages.New()
		doc, err := r.Resolve(context.Background(), &fakeCatalog{}, Ref{ContentFile: bad}, Request{Field: "submission"}, msgs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !doc.IsEmpty() || !strings.Contains(msgs.String(), "only simple filenames") {
			t.Fatalf("content_file %q: got %+v (%s)", bad, doc, msgs)
		}
	}

	msgs := messages.New()
	doc, err := r.Resolve(context.Background(), &fakeCatalog{}, Ref{ContentFile: "paper.txt"}, Request{Field: "submission"}, msgs)
	if err != nil || !doc.IsPending() || msgs.HasError() {
		t.Fatalf("expected prefixed file to load, got %+v, %v (%s)", doc, err, msgs)
	}
	if !strings.HasPrefix(doc.Mimetype, "text/plain") {
		t.Fatalf("Mimetype = %q", doc.Mimetype)
	}
}

func TestImportHooksFirstVetoWins(t *testing.T) {
	r := newTestResolver(newMemBlobs())
	var calls []string
	r.OnDocumentImport(func(ref Ref, _ Slot) (Ref, error) {
		calls = append(calls, "rename")
		ref.Filename = "renamed.pdf"
		return ref, nil
	})
	r.OnDocumentImport(func(ref Ref, _ Slot) (Ref, error) {
		calls = append(calls, "veto")
		if !strings.HasSuffix(ref.Filename, ".pdf") {
			t.Fatalf("hook saw %q, earlier hook output not applied", ref.Filename)
		}
		return ref, Veto("PDF only.")
	})
	r.OnDocumentImport(func(ref Ref, _ Slot) (Ref, error) {
		calls = append(calls, "late")
		return ref, nil
	})

	msgs := messages.New()
	doc, err := r.Resolve(context.Background(), &fakeCatalog{}, Ref{Content: strptr("x")}, Request{Field: "opt_slides"}, msgs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !doc.IsEmpty() || msgs.String() != "opt_slides: PDF only." {
		t.Fatalf("expected veto, got %+v (%s)", doc, msgs)
	}
	if strings.Join(calls, ",") != "rename,veto" {
		t.Fatalf("hook calls = %v", calls)
	}
}

func TestResolveLinksFilteredOriginal(t *testing.T) {
	original := Document{ID: 5, PaperID: 7, Slot: SlotSubmission, Hash: HashContent([]byte("orig")), Timestamp: time.Unix(1600000000, 0).UTC()}
	r := newTestResolver(newMemBlobs())

	doc, err := r.Resolve(context.Background(), &fakeCatalog{docs: []Document{original}}, Ref{
		Content:           strptr("stamped"),
		Filter:            1,
		PreserveTimestamp: true,
	}, Request{PaperID: 7, Slot: SlotSubmission, Field: "submission", Current: original}, messages.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if doc.OriginalID != 5 || doc.OriginalHash != original.Hash || !doc.Timestamp.Equal(original.Timestamp) {
		t.Fatalf("provenance not linked: %+v", doc)
	}
}

func TestResolveStorageFailureDegradesSlot(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("disk full")
	r := newTestResolver(blobs)
	msgs := messages.New()

	doc, err := r.Resolve(context.Background(), &fakeCatalog{}, Ref{Content: strptr("x")}, Request{Field: "final"}, msgs)
	if err != nil {
		t.Fatalf("storage failures must stay local, got %v", err)
	}
	if !doc.IsEmpty() || !msgs.HasErrorAt("final") || msgs.HasError() {
		t.Fatalf("got %+v (%s)", doc, msgs)
	}

	msgs = messages.New()
	doc, _ = r.Resolve(context.Background(), &fakeCatalog{}, Ref{Error: "x"}, Request{Field: "final"}, msgs)
	if !doc.IsEmpty() || msgs.String() != "final: Upload error." {
		t.Fatalf("error ref: %+v (%s)", doc, msgs)
	}
}

func TestExportRunsHooks(t *testing.T) {
	blobs := newMemBlobs()
	key, _ := blobs.Put(context.Background(), HashContent([]byte("abc")), []byte("abc"), "text/plain")
	doc := Document{ID: 9, Hash: HashContent([]byte("abc")), Size: 3, Mimetype: "text/plain", BlobKey: key, Timestamp: fixedNow}
	r := newTestResolver(blobs)
	r.OnDocumentExport(func(out Exported, _ Document) (Exported, error) {
		out.Filename = "exported.txt"
		return out, nil
	})

	out, err := r.Export(context.Background(), doc, ExportOptions{WithContent: true})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if out == nil || out.DocID != 9 || out.Filename != "exported.txt" || out.ContentBase64 != "YWJj" || out.Timestamp != fixedNow.Unix() {
		t.Fatalf("Export() = %+v", out)
	}

	r.OnDocumentExport(func(out Exported, _ Document) (Exported, error) {
		return out, ErrVetoed
	})
	if out, err := r.Export(context.Background(), doc, ExportOptions{}); err != nil || out != nil {
		t.Fatalf("vetoed Export() = %+v, %v", out, err)
	}
	if out, err := r.Export(context.Background(), Document{}, ExportOptions{}); err != nil || out != nil {
		t.Fatalf("empty Export() = %+v, %v", out, err)
	}
}

func TestNormalizeHash(t *testing.T) {
	full := HashContent([]byte("x"))
	cases := []struct {
		in, want string
	}{
		{full, full},
		{strings.ToUpper(full[5:]), full},
		{"sha1-" + strings.Repeat("a", 40), strings.Repeat("a", 40)},
		{strings.Repeat("b", 40), strings.Repeat("b", 40)},
		{"nope", ""},
	}
	for _, tc := range cases {
		got, ok := NormalizeHash(tc.in)
		if got != tc.want || ok != (tc.want != "") {
			t.Fatalf("NormalizeHash(%q) = %q, %v", tc.in, got, ok)
		}
	}
	if key := objectKey(full); key != "documents/"+full[5:7]+"/"+full[5:] {
		t.Fatalf("objectKey() = %q", key)
	}
}
