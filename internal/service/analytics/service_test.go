package analytics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository/sqlite"
)

var fixedNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *sqlite.Store
	svc   Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := New(store, store, store, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	return &fixture{t: t, store: store, svc: svc}
}

func (f *fixture) user(email string, created time.Time) int64 {
	u := &domain.User{Email: email, PasswordHash: "x", IsActive: true, CreatedAt: created}
	require.NoError(f.t, f.store.CreateUser(context.Background(), u))
	return u.ID
}

func (f *fixture) project(owner int64, name string, created time.Time) int64 {
	p := &domain.Project{UserID: owner, Name: name, GithubURL: "https://github.com/u/r", Status: domain.ProjectActive, CreatedAt: created}
	require.NoError(f.t, f.store.CreateProject(context.Background(), p))
	return p.ID
}

func (f *fixture) deployment(projectID int64, status domain.DeploymentStatus, started time.Time, took time.Duration) {
	d := &domain.Deployment{ProjectID: projectID, Status: status, StartedAt: started}
	if status.IsTerminal() {
		completed := started.Add(took)
		d.CompletedAt = &completed
	}
	require.NoError(f.t, f.store.CreateDeployment(context.Background(), d))
}

func TestValidateRange(t *testing.T) {
	err := ValidateRange(fixedNow, fixedNow.Add(-time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.EqualError(t, err, "Start date must be before end date")

	err = ValidateRange(fixedNow.AddDate(-2, 0, 0), fixedNow)
	assert.EqualError(t, err, "Date range cannot exceed 1 year")

	assert.NoError(t, ValidateRange(fixedNow.AddDate(0, 0, -365), fixedNow))
}

func TestUserStatsEmpty(t *testing.T) {
	f := newFixture(t)
	owner := f.user("a@example.com", fixedNow.AddDate(0, 0, -3))

	stats, err := f.svc.UserStats(context.Background(), owner, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Summary.TotalDeployments)
	assert.Equal(t, 0.0, stats.Summary.SuccessRate)
	assert.Equal(t, 30, stats.Period.Days)
	assert.Empty(t, stats.Projects)
}

func TestUserStats(t *testing.T) {
	f := newFixture(t)
	owner := f.user("a@example.com", fixedNow.AddDate(0, 0, -10))
	other := f.user("b@example.com", fixedNow.AddDate(0, 0, -10))

	p1 := f.project(owner, "alpha", fixedNow.AddDate(0, 0, -5))
	p2 := f.project(owner, "beta", fixedNow.AddDate(0, 0, -4))
	foreign := f.project(other, "gamma", fixedNow.AddDate(0, 0, -4))

	day1 := fixedNow.AddDate(0, 0, -2)
	day2 := fixedNow.AddDate(0, 0, -1)
	f.deployment(p1, domain.DeploymentSuccess, day1, 10*time.Second)
	f.deployment(p2, domain.DeploymentSuccess, day1, 20*time.Second)
	f.deployment(p2, domain.DeploymentFailed, day2, 30*time.Second)
	f.deployment(p2, domain.DeploymentPending, day2, 0)
	f.deployment(foreign, domain.DeploymentSuccess, day2, time.Second)

	stats, err := f.svc.UserStats(context.Background(), owner, time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Summary.TotalProjects)
	assert.Equal(t, 4, stats.Summary.TotalDeployments)
	assert.Equal(t, 50.0, stats.Summary.SuccessRate)
	assert.Equal(t, 20.0, stats.Summary.AvgDeploymentTimeSeconds)
	assert.Equal(t, map[string]int{"success": 2, "failed": 1, "pending": 1}, stats.DeploymentStatus)
	assert.Equal(t, map[string]int{"2025-03-13": 2, "2025-03-14": 2}, stats.DailyTrend)

	require.Len(t, stats.Projects, 2)
	assert.Equal(t, p2, stats.Projects[0].ID, "most deployed project first")
	assert.Equal(t, 3, stats.Projects[0].DeploymentCount)
}

func TestDailyTrendUsesLocation(t *testing.T) {
	tz := time.FixedZone("UTC+5", 5*3600)
	f := newFixture(t, WithLocation(tz))
	owner := f.user("a@example.com", fixedNow.AddDate(0, 0, -10))
	p := f.project(owner, "alpha", fixedNow.AddDate(0, 0, -5))
	f.deployment(p, domain.DeploymentSuccess, time.Date(2025, time.March, 13, 21, 0, 0, 0, time.UTC), time.Second)

	stats, err := f.svc.UserStats(context.Background(), owner, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2025-03-14": 1}, stats.DailyTrend)
}

func TestProjectStats(t *testing.T) {
	f := newFixture(t)
	owner := f.user("a@example.com", fixedNow.AddDate(0, -3, 0))
	p := f.project(owner, "alpha", fixedNow.AddDate(0, -2, 0))
	for i := 0; i < 6; i++ {
		f.deployment(p, domain.DeploymentSuccess, fixedNow.AddDate(0, 0, -40+i), 4*time.Second)
	}
	f.deployment(p, domain.DeploymentFailed, fixedNow.AddDate(0, 0, -1), 2*time.Second)

	stats, err := f.svc.ProjectStats(context.Background(), p, owner, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Summary.TotalDeployments)
	require.NotNil(t, stats.Summary.FailedDeployments)
	assert.Equal(t, 1, *stats.Summary.FailedDeployments)
	assert.Equal(t, 85.71, stats.Summary.SuccessRate)
	assert.Equal(t, map[string]int{"2025-02": 6, "2025-03": 1}, stats.MonthlyTrend)
	require.Len(t, stats.RecentDeployments, 5)
	assert.Equal(t, domain.DeploymentFailed, stats.RecentDeployments[0].Status)
	require.NotNil(t, stats.RecentDeployments[0].DurationSeconds)
	assert.Equal(t, 2.0, *stats.RecentDeployments[0].DurationSeconds)

	_, err = f.svc.ProjectStats(context.Background(), p, owner+1, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdminOverview(t *testing.T) {
	f := newFixture(t)
	old := f.user("old@example.com", time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC))
	lastMonth := f.user("feb@example.com", time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC))
	f.user("mar1@example.com", time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC))
	f.user("mar2@example.com", time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC))

	p1 := f.project(old, "one", fixedNow.AddDate(0, -1, 0))
	f.project(lastMonth, "two", fixedNow.AddDate(0, -1, 0))
	f.project(lastMonth, "three", fixedNow.AddDate(0, -1, 0))
	f.deployment(p1, domain.DeploymentSuccess, fixedNow.Add(-time.Hour), time.Second)
	f.deployment(p1, domain.DeploymentFailed, fixedNow.AddDate(0, 0, -2), time.Second)
	f.deployment(p1, domain.DeploymentSuccess, fixedNow.AddDate(0, 0, -20), time.Second)

	overview, err := f.svc.AdminOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, overview.Overview.TotalUsers)
	assert.Equal(t, 2, overview.Overview.ActiveUsersLast30Days)
	assert.Equal(t, 3, overview.Overview.TotalProjects)
	assert.Equal(t, 3, overview.Overview.TotalDeployments)
	assert.Equal(t, 66.67, overview.Overview.DeploymentSuccessRate)

	assert.Equal(t, 2, overview.Growth.NewUsersThisMonth)
	assert.Equal(t, 1, overview.Growth.NewUsersLastMonth)
	assert.Equal(t, 100.0, overview.Growth.UserGrowthPercentage)

	require.Len(t, overview.TopUsers, 2)
	assert.Equal(t, lastMonth, overview.TopUsers[0].UserID)
	assert.Equal(t, 2, overview.TopUsers[0].ProjectCount)

	assert.Len(t, overview.DeploymentTrendLast7Days, 7)
	assert.Equal(t, 1, overview.DeploymentTrendLast7Days["2025-03-15"])
	assert.Equal(t, 1, overview.DeploymentTrendLast7Days["2025-03-13"])
	assert.Equal(t, 0, overview.DeploymentTrendLast7Days["2025-03-14"])
}

func TestGrowth(t *testing.T) {
	assert.Equal(t, 0.0, growth(0, 0))
	assert.Equal(t, 100.0, growth(3, 0))
	assert.Equal(t, -50.0, growth(1, 2))
	assert.Equal(t, 0.0, percentage(5, 0))
}
