package project

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository/sqlite"
)

type recordingCache struct {
	cache.Noop
	mu       sync.Mutex
	patterns []string
}

func (c *recordingCache) DeletePattern(_ context.Context, pattern string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	return 0, nil
}

func newTestService(t *testing.T) (Service, *sqlite.Store, *recordingCache) {
	t.Helper()
	store, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rc := &recordingCache{}
	svc := New(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)), WithCache(rc))
	return svc, store, rc
}

func seedUser(t *testing.T, store *sqlite.Store, email string) int64 {
	t.Helper()
	user := &domain.User{Email: email, PasswordHash: "x", IsActive: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user.ID
}

func TestCreateAndList(t *testing.T) {
	svc, store, rc := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "a@example.com")

	project, err := svc.Create(ctx, owner, CreateInput{Name: " my-app ", GithubURL: "https://github.com/u/r"})
	require.NoError(t, err)
	assert.Equal(t, "my-app", project.Name)
	assert.Equal(t, domain.ProjectActive, project.Status)
	assert.Equal(t, owner, project.UserID)
	assert.Contains(t, rc.patterns, "analytics:user:1:*")

	projects, err := svc.List(ctx, owner, domain.Page{Limit: 100})
	require.NoError(t, err)
	require.Len(t, projects, 1)

	_, err = svc.List(ctx, owner, domain.Page{Skip: -1, Limit: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	owner := seedUser(t, store, "a@example.com")

	_, err := svc.Create(context.Background(), owner, CreateInput{Name: "ok-name", GithubURL: "https://example.com/u/r"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.EqualError(t, err, "URL must be a GitHub repository (github.com)")

	_, err = svc.Create(context.Background(), owner, CreateInput{Name: "x", GithubURL: "https://github.com/u/r"})
	assert.EqualError(t, err, "Project name must be at least 3 characters")
}

func TestNonOwnerGetsNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "a@example.com")
	other := seedUser(t, store, "b@example.com")

	project, err := svc.Create(ctx, owner, CreateInput{Name: "app", GithubURL: "https://github.com/u/r"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, project.ID, other)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Update(ctx, project.ID, other, UpdateInput{Name: ptr("app"), GithubURL: ptr("https://github.com/u/r")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Update(ctx, project.ID, other, UpdateInput{Name: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound, "ownership is checked before the payload")
	assert.ErrorIs(t, svc.Delete(ctx, project.ID, other), domain.ErrNotFound)

	listed, err := svc.List(ctx, other, domain.Page{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestGetIncludesDeployments(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "a@example.com")
	project, err := svc.Create(ctx, owner, CreateInput{Name: "app", GithubURL: "https://github.com/u/r"})
	require.NoError(t, err)

	detail, err := svc.Get(ctx, project.ID, owner)
	require.NoError(t, err)
	assert.NotNil(t, detail.Deployments)
	assert.Empty(t, detail.Deployments)

	for i := 0; i < 2; i++ {
		require.NoError(t, store.CreateDeployment(ctx, &domain.Deployment{
			ProjectID: project.ID,
			Status:    domain.DeploymentPending,
			Logs:      "Deployment queued...\n",
			StartedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}
	detail, err = svc.Get(ctx, project.ID, owner)
	require.NoError(t, err)
	require.Len(t, detail.Deployments, 2)
	assert.Equal(t, int64(2), detail.Deployments[0].ID, "newest first")
}

func TestUpdateAndDelete(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "a@example.com")
	project, err := svc.Create(ctx, owner, CreateInput{Name: "app", GithubURL: "https://github.com/u/r"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, project.ID, owner, UpdateInput{Name: ptr(" renamed "), GithubURL: ptr("https://github.com/u/other.git"), Status: ptr("inactive")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, domain.ProjectInactive, updated.Status)

	kept, err := svc.Update(ctx, project.ID, owner, UpdateInput{Name: ptr("renamed again")})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectInactive, kept.Status)
	assert.Equal(t, "https://github.com/u/other.git", kept.GithubURL)

	require.NoError(t, store.CreateDeployment(ctx, &domain.Deployment{ProjectID: project.ID, Status: domain.DeploymentPending, StartedAt: time.Now().UTC()}))
	require.NoError(t, svc.Delete(ctx, project.ID, owner))
	_, err = svc.Get(ctx, project.ID, owner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetDeploymentByID(ctx, 1)
	assert.Error(t, err, "deployments are removed with their project")
}

func TestUpdateAppliesOnlyPresentFields(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "a@example.com")
	project, err := svc.Create(ctx, owner, CreateInput{Name: "app", GithubURL: "https://github.com/u/r"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, project.ID, owner, UpdateInput{Status: ptr("error")})
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectError, updated.Status)
	assert.Equal(t, "app", updated.Name)
	assert.Equal(t, "https://github.com/u/r", updated.GithubURL)

	_, err = svc.Update(ctx, project.ID, owner, UpdateInput{Name: ptr("  ")})
	assert.EqualError(t, err, "Project name is required")
	_, err = svc.Update(ctx, project.ID, owner, UpdateInput{Status: ptr("paused")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	detail, err := svc.Get(ctx, project.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "app", detail.Name)
	assert.Equal(t, domain.ProjectError, detail.Status)
}

func ptr(s string) *string { return &s }
