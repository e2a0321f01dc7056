package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"weldvault/api/internal/authpw"
	"weldvault/api/internal/config"
	"weldvault/api/internal/record"
	"weldvault/api/internal/store"
)

// fakeSessions is an in-memory SessionStore.
type fakeSessions struct {
	mu sync.Mutex
	m  map[string]sessionEntry
}

type sessionEntry struct {
	actor     record.Actor
	expiresAt time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{m: make(map[string]sessionEntry)}
}

func (f *fakeSessions) Save(_ context.Context, tokenHash string, actor record.Actor, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[tokenHash] = sessionEntry{actor: actor, expiresAt: expiresAt}
	return nil
}

func (f *fakeSessions) Lookup(_ context.Context, tokenHash string) (record.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.m[tokenHash]
	if !ok || time.Now().After(entry.expiresAt) {
		return record.Actor{}, errors.New("session not found")
	}
	return entry.actor, nil
}

func (f *fakeSessions) Revoke(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, tokenHash)
	return nil
}

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(record.Limits{})
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
	svc := NewService(cfg, Deps{
		Backend:   mem,
		Publisher: mem,
		Watcher:   mem,
		Sessions:  newFakeSessions(),
		Passwords: authpw.NewService(mem),
	})
	return svc, mem
}

func signUpTestUser(t *testing.T, svc *Service) Session {
	t.Helper()
	session, err := svc.SignUp(context.Background(), "avery@example.com", "longenough", "Avery")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	return session
}

func TestSignUpLoginRefreshLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session := signUpTestUser(t, svc)
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected token and refresh token")
	}
	if session.Role != "welder" {
		t.Fatalf("expected default welder role, got %q", session.Role)
	}

	login, err := svc.Login(ctx, "AVERY@example.com", "longenough")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if login.UserID != session.UserID {
		t.Fatal("login resolved a different user")
	}

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	// Rotation revokes the old token.
	if _, err := svc.Refresh(ctx, login.RefreshToken); err == nil {
		t.Fatal("expected old refresh token to be rejected")
	}

	if err := svc.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.Refresh(ctx, refreshed.RefreshToken); err == nil {
		t.Fatal("expected logged-out refresh token to be rejected")
	}
}

func TestSessionFromToken(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserID != session.UserID || parsed.UserName != "Avery" || parsed.Role != "welder" {
		t.Fatalf("unexpected session: %+v", parsed)
	}

	if _, err := svc.SessionFromToken(context.Background(), "garbage"); err == nil {
		t.Fatal("expected invalid token to be rejected")
	}
}

func TestCreateAndGetRecord(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	id, err := svc.CreateRecord(ctx, session, "projects", map[string]any{"name": "Refinery North", "code": "RN-01"}, "")
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	payload, err := svc.GetRecord(ctx, "projects", id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if payload["name"] != "Refinery North" || payload["status"] != "active" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["createdBy"] != session.UserID {
		t.Fatalf("expected createdBy %q, got %v", session.UserID, payload["createdBy"])
	}
}

func TestCreateRecordExplicitID(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)

	id, err := svc.CreateRecord(context.Background(), session, "projects", map[string]any{"name": "Pinned"}, "proj-fixed")
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if id != "proj-fixed" {
		t.Fatalf("expected explicit id, got %q", id)
	}
}

func TestListRecordsFilters(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	for _, name := range []string{"One", "Two"} {
		if _, err := svc.CreateRecord(ctx, session, "projects", map[string]any{"name": name}, ""); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	all, err := svc.ListRecords(ctx, "projects", nil)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(all))
	}

	one, err := svc.ListRecords(ctx, "projects", []record.Filter{record.Eq("name", "One")})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(one) != 1 || one[0]["name"] != "One" {
		t.Fatalf("unexpected filtered result: %v", one)
	}
}

func TestUpdateRecord(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	id, _ := svc.CreateRecord(ctx, session, "projects", map[string]any{"name": "Before"}, "")
	if err := svc.UpdateRecord(ctx, session, "projects", id, map[string]any{"name": "After"}); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	payload, _ := svc.GetRecord(ctx, "projects", id)
	if payload["name"] != "After" {
		t.Fatalf("patch not applied: %v", payload)
	}
	if payload["updatedBy"] != session.UserID {
		t.Fatalf("expected updatedBy stamp, got %v", payload["updatedBy"])
	}
}

func TestArchiveAndRestore(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	id, _ := svc.CreateRecord(ctx, session, "projects", map[string]any{"name": "P"}, "")

	if err := svc.ArchiveRecord(ctx, session, "projects", id); err != nil {
		t.Fatalf("ArchiveRecord failed: %v", err)
	}
	payload, _ := svc.GetRecord(ctx, "projects", id)
	if payload["status"] != "archived" {
		t.Fatalf("expected archived, got %v", payload["status"])
	}
	if _, ok := payload["archivedAt"]; !ok {
		t.Fatal("expected archivedAt stamp")
	}

	if err := svc.RestoreRecord(ctx, session, "projects", id); err != nil {
		t.Fatalf("RestoreRecord failed: %v", err)
	}
	payload, _ = svc.GetRecord(ctx, "projects", id)
	if payload["status"] != "active" {
		t.Fatalf("expected active, got %v", payload["status"])
	}
}

// seedHierarchy inserts a project with the full dependent tree: a participant,
// a weld log with welds, a library with a document, and a section with a
// document.
func seedHierarchy(t *testing.T, svc *Service, session Session) (projectID string, descendants int) {
	t.Helper()
	ctx := context.Background()

	create := func(collection string, data map[string]any) string {
		id, err := svc.CreateRecord(ctx, session, collection, data, "")
		if err != nil {
			t.Fatalf("seed %s: %v", collection, err)
		}
		return id
	}

	projectID = create("projects", map[string]any{"name": "Refinery North"})
	create("projectParticipants", map[string]any{"projectId": projectID, "userId": session.UserID})
	weldLogID := create("weldLogs", map[string]any{"projectId": projectID, "name": "Line 4"})
	create("welds", map[string]any{"weldLogId": weldLogID, "number": "W-001"})
	create("welds", map[string]any{"weldLogId": weldLogID, "number": "W-002"})
	libraryID := create("documentLibraries", map[string]any{"projectId": projectID, "name": "WPS"})
	create("documents", map[string]any{"libraryId": libraryID, "title": "WPS-17"})
	sectionID := create("sections", map[string]any{"projectId": projectID, "name": "Notes"})
	create("documents", map[string]any{"sectionId": sectionID, "title": "Kickoff"})

	// participant + weldLog + 2 welds + library + section + 2 documents
	return projectID, 8
}

func TestDeleteRecordCascades(t *testing.T) {
	svc, mem := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	projectID, descendants := seedHierarchy(t, svc, session)

	affected, err := svc.DeleteRecord(ctx, session, "projects", projectID, false)
	if err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if affected != descendants+1 {
		t.Fatalf("expected %d affected records, got %d", descendants+1, affected)
	}

	for _, collection := range []string{"projects", "projectParticipants", "weldLogs", "welds", "documentLibraries", "sections", "documents"} {
		recs, err := mem.FetchOnce(ctx, collection, nil)
		if err != nil {
			t.Fatalf("fetch %s: %v", collection, err)
		}
		for _, rec := range recs {
			if rec.Status != record.StatusDeleted {
				t.Errorf("%s/%s not deleted (status %s)", collection, rec.ID, rec.Status)
			}
			if rec.DeletedBy != session.UserID {
				t.Errorf("%s/%s missing delete stamp", collection, rec.ID)
			}
		}
	}

	// Rerunning the cascade rediscovers nothing: only the root is re-marked.
	again, err := svc.DeleteRecord(ctx, session, "projects", projectID, false)
	if err != nil {
		t.Fatalf("repeat DeleteRecord failed: %v", err)
	}
	if again != 1 {
		t.Fatalf("expected idempotent rerun to touch 1 record, got %d", again)
	}
}

func TestDeleteRecordNonCascading(t *testing.T) {
	svc, mem := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	id, _ := svc.CreateRecord(ctx, session, "welds", map[string]any{"number": "W-001"}, "")
	affected, err := svc.DeleteRecord(ctx, session, "welds", id, false)
	if err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected record, got %d", affected)
	}

	rec, err := mem.Get(ctx, "welds", id)
	if err != nil {
		t.Fatalf("soft-deleted record should still exist: %v", err)
	}
	if rec.Status != record.StatusDeleted {
		t.Fatalf("expected deleted status, got %s", rec.Status)
	}
}

func TestDeleteRecordHard(t *testing.T) {
	svc, mem := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	id, _ := svc.CreateRecord(ctx, session, "welds", map[string]any{"number": "W-001"}, "")
	affected, err := svc.DeleteRecord(ctx, session, "welds", id, true)
	if err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected record, got %d", affected)
	}
	if _, err := mem.Get(ctx, "welds", id); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected record to be gone, got %v", err)
	}
}

func TestUnknownCollection(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)

	_, err := svc.CreateRecord(context.Background(), session, "ghosts", map[string]any{}, "")
	if err == nil {
		t.Fatal("expected error for unknown collection")
	}
	status, code, _, _ := mapError(err)
	if status != 404 || code != "COLLECTION_UNKNOWN" {
		t.Fatalf("unexpected mapping: %d %s", status, code)
	}
}

func TestRecordPayloadHidesPasswordHash(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)

	users, err := svc.ListRecords(context.Background(), "users", nil)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if _, leaked := users[0]["passwordHash"]; leaked {
		t.Fatal("password hash leaked into payload")
	}
	if users[0]["id"] != session.UserID {
		t.Fatalf("unexpected user payload: %v", users[0])
	}
}

func TestWatchDeliversSnapshots(t *testing.T) {
	svc, _ := newTestService(t)
	session := signUpTestUser(t, svc)
	ctx := context.Background()

	var mu sync.Mutex
	var snapshots [][]map[string]any
	unsubscribe, err := svc.Watch(ctx, "projects", nil, func(items []map[string]any) {
		mu.Lock()
		snapshots = append(snapshots, items)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer unsubscribe()

	if _, err := svc.CreateRecord(ctx, session, "projects", map[string]any{"name": "P"}, ""); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) < 2 {
		t.Fatalf("expected initial + post-create snapshots, got %d", len(snapshots))
	}
	last := snapshots[len(snapshots)-1]
	if len(last) != 1 || last[0]["name"] != "P" {
		t.Fatalf("unexpected final snapshot: %v", last)
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{record.ErrNotFound, 404, "NOT_FOUND"},
		{record.ErrAuthRequired, 401, "UNAUTHORIZED"},
		{record.ErrInvalidInput, 422, "VALIDATION_ERROR"},
		{errors.New("boom"), 500, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
