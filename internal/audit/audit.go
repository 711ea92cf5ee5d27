// Package audit keeps a git history of every saved submission: one
// repository per paper, one commit per save holding the exported JSON.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"papersub/internal/paper"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	fileName   = "paper.json"
	branchName = "main"
)

type Entry struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	// Fields lists the exported keys the commit changed; History fills it.
	Fields []string `json:"fields,omitempty"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// PaperSaved commits the exported submission. A save that leaves the
// exported form unchanged adds no commit.
func (s *Service) PaperSaved(_ context.Context, ev paper.SavedEvent) error {
	if ev.Paper == nil {
		return nil
	}
	_, err := s.Commit(ev.PaperID, ev.Paper, ev.Actor.Email, commitMessage(ev))
	return err
}

func commitMessage(ev paper.SavedEvent) string {
	verb := "Update"
	if ev.Created {
		verb = "Create"
	}
	msg := fmt.Sprintf("%s submission #%d", verb, ev.PaperID)
	if len(ev.Diffs) > 0 {
		msg += "\n\nchanged: " + strings.Join(ev.Diffs, ", ")
	}
	if ev.Actor.Email != "" {
		msg += "\nactor: " + ev.Actor.Email
	}
	return msg
}

// Commit writes content to the paper's repository, creating it on first
// use. It returns a zero Entry when the content did not change.
func (s *Service) Commit(paperID int64, content any, author, message string) (Entry, error) {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(paperID)
	if err != nil {
		return Entry{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal paper: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, fileName), append(payload, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", fileName, err)
	}
	if _, err := worktree.Add(fileName); err != nil {
		return Entry{}, fmt.Errorf("git add paper: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return Entry{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return Entry{}, nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author, s.now()),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit paper: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj), nil
}

// History lists commits newest first. limit <= 0 means all. A paper that
// was never committed has an empty history.
func (s *Service) History(paperID int64, limit int) ([]Entry, error) {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(paperID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		fields, err := commitFields(commitObj)
		if err != nil {
			return err
		}
		entry := toEntry(commitObj)
		entry.Fields = fields
		items = append(items, entry)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the exported JSON recorded by a commit.
func (s *Service) ContentAt(paperID int64, hash string) (json.RawMessage, error) {
	lock := s.paperLock(paperID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(paperID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContent(commitObj)
}

// ChangedFields lists the top-level keys that differ between two exported
// forms, sorted.
func ChangedFields(from, to json.RawMessage) ([]string, error) {
	var before, after map[string]json.RawMessage
	if len(from) > 0 {
		if err := json.Unmarshal(from, &before); err != nil {
			return nil, fmt.Errorf("decode previous paper: %w", err)
		}
	}
	if err := json.Unmarshal(to, &after); err != nil {
		return nil, fmt.Errorf("decode paper: %w", err)
	}

	fields := make([]string, 0)
	for key, value := range after {
		if !sameJSON(before[key], value) {
			fields = append(fields, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields, nil
}

func commitFields(commitObj *object.Commit) ([]string, error) {
	content, err := readContent(commitObj)
	if err != nil {
		return nil, err
	}
	var previous json.RawMessage
	if commitObj.NumParents() > 0 {
		parent, err := commitObj.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("load parent commit: %w", err)
		}
		if previous, err = readContent(parent); err != nil {
			return nil, err
		}
	}
	return ChangedFields(previous, content)
}

func (s *Service) openOrInit(paperID int64) (*git.Repository, error) {
	path := s.repoPath(paperID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	// The first commit creates the branch HEAD points at.
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branchName, err)
	}
	return repo, nil
}

func (s *Service) repoPath(paperID int64) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("paper-%d", paperID))
}

func (s *Service) paperLock(paperID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[paperID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[paperID] = lock
	return lock
}

func signature(email string, when time.Time) *object.Signature {
	name := email
	if name == "" {
		name, email = "papersub", "papersub@localhost"
	}
	return &object.Signature{Name: name, Email: email, When: when}
}

func readContent(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(fileName)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", fileName, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return json.RawMessage(data), nil
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		Email:     commitObj.Author.Email,
		CreatedAt: commitObj.Author.When,
	}
}

func sameJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var left, right any
	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return string(a) == string(b)
	}
	l, _ := json.Marshal(left)
	r, _ := json.Marshal(right)
	return string(l) == string(r)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
