// Package app wires the record facade, cascade orchestrator, and the
// supporting services (auth, search, revisions, attachments, export) into the
// domain service behind the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"weldvault/api/internal/auth"
	"weldvault/api/internal/authpw"
	"weldvault/api/internal/config"
	"weldvault/api/internal/export"
	"weldvault/api/internal/files"
	"weldvault/api/internal/rbac"
	"weldvault/api/internal/record"
	"weldvault/api/internal/revisions"
	"weldvault/api/internal/search"
	"weldvault/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Actor is the audit identity this session stamps onto mutations.
func (s Session) Actor() record.Actor {
	return record.Actor{ID: s.UserID, Name: s.UserName, Role: s.Role}
}

// SessionStore holds refresh sessions. Implemented by the Redis store.
type SessionStore interface {
	Save(ctx context.Context, tokenHash string, actor record.Actor, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (record.Actor, error)
	Revoke(ctx context.Context, tokenHash string) error
}

// Collections is every collection the API serves. Anything else is a 404.
var Collections = []string{
	"projects",
	"projectParticipants",
	"weldLogs",
	"welds",
	"documentLibraries",
	"sections",
	"documents",
	"users",
}

// CascadePlan declares which dependent collections a soft delete propagates
// into. Deleting a record in a collection absent from this table touches only
// that record.
var CascadePlan = record.Plan{
	"projects": {
		{Collection: "projectParticipants", ForeignKey: "projectId"},
		{Collection: "weldLogs", ForeignKey: "projectId", Children: []record.Step{
			{Collection: "welds", ForeignKey: "weldLogId"},
		}},
		{Collection: "documentLibraries", ForeignKey: "projectId", Children: []record.Step{
			{Collection: "documents", ForeignKey: "libraryId"},
		}},
		{Collection: "sections", ForeignKey: "projectId", Children: []record.Step{
			{Collection: "documents", ForeignKey: "sectionId"},
		}},
	},
	"weldLogs": {
		{Collection: "welds", ForeignKey: "weldLogId"},
	},
	"documentLibraries": {
		{Collection: "documents", ForeignKey: "libraryId"},
	},
	"sections": {
		{Collection: "documents", ForeignKey: "sectionId"},
	},
}

// Deps carries the service collaborators. Sessions and Passwords are
// required; the rest degrade to disabled features when nil.
type Deps struct {
	Backend   record.Backend
	Publisher record.Publisher
	Watcher   record.Watcher
	Notifier  record.Notifier
	Sessions  SessionStore
	Passwords *authpw.Service
	Search    *search.Service
	Revisions *revisions.Service
	Files     *files.Store
	Exporter  *export.Service
	Pinger    interface{ Ping(ctx context.Context) error }
}

type Service struct {
	cfg      config.Config
	backend  record.Backend
	ops      map[string]*record.Ops
	cascader *record.Cascader
	deps     Deps
}

func NewService(cfg config.Config, deps Deps) *Service {
	opsCfg := record.OpsConfig{
		Notifier:  deps.Notifier,
		Publisher: deps.Publisher,
		Watcher:   deps.Watcher,
	}
	ops := make(map[string]*record.Ops, len(Collections))
	for _, collection := range Collections {
		ops[collection] = record.NewOps(deps.Backend, collection, opsCfg)
	}
	return &Service{
		cfg:     cfg,
		backend: deps.Backend,
		ops:     ops,
		cascader: record.NewCascader(deps.Backend, CascadePlan, record.CascaderConfig{
			Notifier:  deps.Notifier,
			Publisher: deps.Publisher,
		}),
		deps: deps,
	}
}

func (s *Service) collectionOps(collection string) (*record.Ops, error) {
	ops, ok := s.ops[collection]
	if !ok {
		return nil, domainError(http.StatusNotFound, "COLLECTION_UNKNOWN", fmt.Sprintf("Unknown collection %q", collection), nil)
	}
	return ops, nil
}

// Sessions

// SignUp registers a user and signs them in.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	if s.deps.Passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	actor, err := s.deps.Passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, actor)
}

// Login authenticates with email/password and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	if s.deps.Passwords == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	actor, err := s.deps.Passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, actor)
}

// Refresh rotates a refresh token into a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	actor, err := s.deps.Sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.deps.Sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, actor)
}

func (s *Service) issueSession(ctx context.Context, actor record.Actor) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  actor.ID,
		Name: actor.Name,
		Role: actor.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.deps.Sessions.Save(ctx, auth.HashToken(refresh), actor, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       actor.ID,
		UserName:     actor.Name,
		Role:         actor.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. The claims carry the full actor
// identity, so no storage round trip is needed.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the refresh session. Access tokens expire on their own.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.deps.Sessions.Revoke(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ChangePassword verifies and replaces the caller's password.
func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	if s.deps.Passwords == nil {
		return domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	}
	return s.deps.Passwords.ChangePassword(ctx, session.UserID, current, next)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Records

// CreateRecord writes a new record and returns its id. An explicit id makes
// the write an upsert.
func (s *Service) CreateRecord(ctx context.Context, session Session, collection string, data map[string]any, id string) (string, error) {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return "", err
	}
	createdID, err := ops.Create(ctx, session.Actor(), data, &record.CreateOptions{ID: id})
	if err != nil {
		return "", err
	}
	s.indexRecord(ctx, collection, createdID)
	return createdID, nil
}

// GetRecord returns one record as a response payload.
func (s *Service) GetRecord(ctx context.Context, collection, id string) (map[string]any, error) {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return nil, err
	}
	rec, err := ops.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordPayload(collection, rec), nil
}

// ListRecords runs a one-shot query.
func (s *Service) ListRecords(ctx context.Context, collection string, filters []record.Filter) ([]map[string]any, error) {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return nil, err
	}
	items, err := ops.List(ctx, filters...)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, rec := range items {
		payload = append(payload, recordPayload(collection, rec))
	}
	return payload, nil
}

// UpdateRecord merges a field patch into a record.
func (s *Service) UpdateRecord(ctx context.Context, session Session, collection, id string, patch map[string]any) error {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return err
	}
	if err := ops.Update(ctx, session.Actor(), id, patch); err != nil {
		return err
	}
	s.indexRecord(ctx, collection, id)
	return nil
}

// ArchiveRecord transitions a record to archived.
func (s *Service) ArchiveRecord(ctx context.Context, session Session, collection, id string) error {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return err
	}
	if err := ops.Archive(ctx, session.Actor(), id); err != nil {
		return err
	}
	s.indexRecord(ctx, collection, id)
	return nil
}

// RestoreRecord resets a record to active.
func (s *Service) RestoreRecord(ctx context.Context, session Session, collection, id string) error {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return err
	}
	if err := ops.Restore(ctx, session.Actor(), id); err != nil {
		return err
	}
	s.indexRecord(ctx, collection, id)
	return nil
}

// DeleteRecord removes a record. Collections with a cascade plan soft-delete
// the whole dependent hierarchy and report how many records were marked;
// anything else touches one record. hard physically erases a single record
// and its attachments.
func (s *Service) DeleteRecord(ctx context.Context, session Session, collection, id string, hard bool) (int, error) {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return 0, err
	}

	if hard {
		if err := ops.Remove(ctx, session.Actor(), id, true); err != nil {
			return 0, err
		}
		if collection == "documents" && s.deps.Files != nil {
			if err := s.deps.Files.DeleteAll(ctx, id); err != nil {
				return 0, fmt.Errorf("delete attachments for %s: %w", id, err)
			}
		}
		if s.deps.Search != nil {
			s.deps.Search.DeleteRecord(collection, id)
		}
		return 1, nil
	}

	if _, cascades := CascadePlan[collection]; cascades {
		affected, err := s.cascader.SoftDelete(ctx, session.Actor(), collection, id)
		if err != nil {
			return 0, err
		}
		if s.deps.Search != nil {
			s.deps.Search.DeleteRecord(collection, id)
			go s.deps.Search.ScrubDeleted(context.WithoutCancel(ctx), s.backend)
		}
		return affected, nil
	}

	if err := ops.Remove(ctx, session.Actor(), id, false); err != nil {
		return 0, err
	}
	if s.deps.Search != nil {
		s.deps.Search.DeleteRecord(collection, id)
	}
	return 1, nil
}

// Watch registers a live view of a collection query.
func (s *Service) Watch(ctx context.Context, collection string, filters []record.Filter, fn func([]map[string]any)) (func(), error) {
	ops, err := s.collectionOps(collection)
	if err != nil {
		return nil, err
	}
	return ops.Watch(ctx, filters, func(items []record.Record) {
		payload := make([]map[string]any, 0, len(items))
		for _, rec := range items {
			payload = append(payload, recordPayload(collection, rec))
		}
		fn(payload)
	})
}

func (s *Service) indexRecord(ctx context.Context, collection, id string) {
	if s.deps.Search == nil {
		return
	}
	rec, err := s.backend.Get(ctx, collection, id)
	if err != nil {
		return
	}
	s.deps.Search.IndexRecord(collection, rec)
}

// Search

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.deps.Search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	return s.deps.Search.Search(q), nil
}

// Revisions

// SaveRevision commits a document's current content to its history.
func (s *Service) SaveRevision(ctx context.Context, session Session, documentID, message string) (revisions.CommitInfo, error) {
	if s.deps.Revisions == nil {
		return revisions.CommitInfo{}, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revisions not configured", nil)
	}
	doc, err := s.backend.Get(ctx, "documents", documentID)
	if err != nil {
		return revisions.CommitInfo{}, err
	}
	content := revisions.Content{
		Title: doc.StringField("title"),
		Body:  doc.StringField("body"),
	}
	return s.deps.Revisions.Save(documentID, content, session.UserName, message)
}

func (s *Service) RevisionHistory(documentID string, limit int) ([]revisions.CommitInfo, error) {
	if s.deps.Revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revisions not configured", nil)
	}
	return s.deps.Revisions.History(documentID, limit)
}

func (s *Service) RevisionContent(documentID, hash string) (revisions.Content, error) {
	if s.deps.Revisions == nil {
		return revisions.Content{}, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revisions not configured", nil)
	}
	return s.deps.Revisions.ContentAt(documentID, hash)
}

// Attachments

func (s *Service) UploadAttachment(ctx context.Context, documentID, name, contentType string, size int64, content io.Reader) (files.Attachment, error) {
	if s.deps.Files == nil {
		return files.Attachment{}, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.backend.Get(ctx, "documents", documentID); err != nil {
		return files.Attachment{}, err
	}
	return s.deps.Files.Upload(ctx, documentID, name, contentType, size, content)
}

func (s *Service) ListAttachments(ctx context.Context, documentID string) ([]files.Attachment, error) {
	if s.deps.Files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	return s.deps.Files.List(ctx, documentID)
}

func (s *Service) AttachmentURL(ctx context.Context, key string) (string, error) {
	if s.deps.Files == nil {
		return "", domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	return s.deps.Files.PresignedURL(ctx, key, 15*time.Minute)
}

func (s *Service) DeleteAttachment(ctx context.Context, key string) error {
	if s.deps.Files == nil {
		return domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	return s.deps.Files.Delete(ctx, key)
}

// Export

func (s *Service) ExportWeldLog(ctx context.Context, weldLogID string, includeArchived bool) (*export.Result, error) {
	if s.deps.Exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	return s.deps.Exporter.Export(ctx, export.Request{WeldLogID: weldLogID, IncludeArchived: includeArchived})
}

// Ping reports backend reachability for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s.deps.Pinger != nil {
		return s.deps.Pinger.Ping(ctx)
	}
	return nil
}

// recordPayload flattens a record into the wire shape. The users collection
// never exposes password hashes.
func recordPayload(collection string, rec record.Record) map[string]any {
	payload := make(map[string]any, len(rec.Fields)+8)
	for k, v := range rec.Fields {
		payload[k] = v
	}
	if collection == "users" {
		delete(payload, "passwordHash")
	}
	payload["id"] = rec.ID
	payload["status"] = string(rec.Status)
	payload["createdAt"] = rec.CreatedAt
	payload["createdBy"] = rec.CreatedBy
	payload["updatedAt"] = rec.UpdatedAt
	payload["updatedBy"] = rec.UpdatedBy
	if rec.DeletedAt != nil {
		payload["deletedAt"] = *rec.DeletedAt
		payload["deletedBy"] = rec.DeletedBy
	}
	if rec.ArchivedAt != nil {
		payload["archivedAt"] = *rec.ArchivedAt
		payload["archivedBy"] = rec.ArchivedBy
	}
	if rec.RestoredAt != nil {
		payload["restoredAt"] = *rec.RestoredAt
		payload["restoredBy"] = rec.RestoredBy
	}
	return payload
}

// mapError translates service errors to HTTP error envelopes.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, record.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, record.ErrAuthRequired) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, record.ErrInvalidInput) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", record.FriendlyMessage(err), nil
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) {
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
