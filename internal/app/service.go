package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"papersub/internal/audit"
	"papersub/internal/auth"
	"papersub/internal/logger"
	"papersub/internal/messages"
	"papersub/internal/paper"
	"papersub/internal/rbac"
	"papersub/internal/search"
	"papersub/internal/session"
)

// Papers is the submission pipeline the API drives.
type Papers interface {
	Save(ctx context.Context, actor paper.Actor, paperID int64, raw []byte) (*paper.Result, error)
	Export(ctx context.Context, actor paper.Actor, paperID int64, opts paper.ExportOptions) (*paper.Export, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HistorySource interface {
	History(paperID int64, limit int) ([]audit.Entry, error)
	ContentAt(paperID int64, hash string) (json.RawMessage, error)
}

type SearchSource interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Service struct {
	tokenSecret []byte
	papers      Papers
	db          Pinger
	history     HistorySource
	search      SearchSource
	revocations session.Revocations
	log         *logger.Logger
}

type Options struct {
	TokenSecret string
	Papers      Papers
	DB          Pinger
	// History and Search are optional.
	History HistorySource
	Search  SearchSource
	// Revocations defaults to an in-process store.
	Revocations session.Revocations
	Log         *logger.Logger
}

func NewService(opts Options) *Service {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	revocations := opts.Revocations
	if revocations == nil {
		revocations = session.NewMemoryStore()
	}
	return &Service{
		tokenSecret: []byte(opts.TokenSecret),
		papers:      opts.Papers,
		db:          opts.DB,
		history:     opts.History,
		search:      opts.Search,
		revocations: revocations,
		log:         log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// Authenticate verifies a bearer token and rejects revoked ones.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return auth.Claims{}, err
	}
	revoked, err := s.revocations.Revoked(ctx, claims.JTI)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return claims, nil
}

// RevokeToken makes the token unusable before it expires.
func (s *Service) RevokeToken(ctx context.Context, claims auth.Claims) error {
	return s.revocations.Revoke(ctx, claims.JTI, time.Unix(claims.Exp, 0))
}

// SavedPaper is the response body of a successful save.
type SavedPaper struct {
	OK       bool               `json:"ok"`
	PaperID  int64              `json:"pid"`
	Created  bool               `json:"created"`
	Diffs    []string           `json:"diffs"`
	Messages []messages.Message `json:"messages"`
	Paper    *paper.Export      `json:"paper"`
}

func authorize(actor paper.Actor, action rbac.Action) error {
	if !rbac.Can(rbac.ForActor(actor.Admin), action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
	}
	return nil
}

func (s *Service) SavePaper(ctx context.Context, actor paper.Actor, paperID int64, raw []byte) (SavedPaper, error) {
	if err := authorize(actor, rbac.ActionSave); err != nil {
		return SavedPaper{}, err
	}
	result, err := s.papers.Save(ctx, actor, paperID, raw)
	if err != nil {
		if !errors.Is(err, paper.ErrNotFound) && !errors.Is(err, paper.ErrForbidden) {
			s.log.Error("save paper failed", "paper_id", paperID, "actor", actor.Email, "error", err)
		}
		return SavedPaper{}, err
	}
	if !result.Saved {
		return SavedPaper{}, validationError(result.PaperID, result.Messages)
	}

	out := SavedPaper{
		OK:       true,
		PaperID:  result.PaperID,
		Created:  result.Created,
		Diffs:    result.Diffs,
		Messages: []messages.Message{},
		Paper:    result.Paper,
	}
	if result.Messages != nil {
		out.Messages = result.Messages.Messages()
	}
	if out.Diffs == nil {
		out.Diffs = []string{}
	}
	return out, nil
}

func (s *Service) ExportPaper(ctx context.Context, actor paper.Actor, paperID int64, withContent bool) (*paper.Export, error) {
	if err := authorize(actor, rbac.ActionExport); err != nil {
		return nil, err
	}
	return s.papers.Export(ctx, actor, paperID, paper.ExportOptions{WithContent: withContent})
}

// PaperHistory lists the audit history of a paper visible to actor.
func (s *Service) PaperHistory(ctx context.Context, actor paper.Actor, paperID int64, limit int) ([]audit.Entry, error) {
	if err := authorize(actor, rbac.ActionHistory); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "HISTORY_DISABLED", "Submission history is not enabled", nil)
	}
	if _, err := s.papers.Export(ctx, actor, paperID, paper.ExportOptions{HideDocIDs: true}); err != nil {
		return nil, err
	}
	entries, err := s.history.History(paperID, limit)
	if err != nil {
		return nil, fmt.Errorf("paper history %d: %w", paperID, err)
	}
	return entries, nil
}

// PaperVersion returns the exported submission as recorded by one history entry.
func (s *Service) PaperVersion(ctx context.Context, actor paper.Actor, paperID int64, hash string) (json.RawMessage, error) {
	if err := authorize(actor, rbac.ActionHistory); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "HISTORY_DISABLED", "Submission history is not enabled", nil)
	}
	if _, err := s.papers.Export(ctx, actor, paperID, paper.ExportOptions{HideDocIDs: true}); err != nil {
		return nil, err
	}
	content, err := s.history.ContentAt(paperID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Submission version not found", nil)
	}
	return content, nil
}

func (s *Service) Search(ctx context.Context, actor paper.Actor, q search.Query) (search.Response, error) {
	if err := authorize(actor, rbac.ActionSearch); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}
