package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

const (
	defaultUserRange = 30 * 24 * time.Hour
	maxRange         = 365 * 24 * time.Hour
	topProjects      = 10
	topUsers         = 10
	recentLimit      = 5
	trendDays        = 7
)

// Option customises the aggregator.
type Option func(*Service)

// WithCache stores computed views for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithLocation sets the time zone used for day and month buckets.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service computes read-only deployment statistics.
type Service struct {
	users       repository.UserRepository
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	cache       cache.Cache
	ttl         time.Duration
	loc         *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

// New returns an analytics aggregator.
func New(users repository.UserRepository, projects repository.ProjectRepository, deployments repository.DeploymentRepository, logger *slog.Logger, opts ...Option) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{
		users:       users,
		projects:    projects,
		deployments: deployments,
		loc:         time.UTC,
		logger:      logger.With("component", "analytics"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// ValidateRange rejects inverted ranges and ranges longer than a year.
func ValidateRange(start, end time.Time) error {
	if start.After(end) {
		return domain.Invalid("Start date must be before end date")
	}
	if end.Sub(start) > maxRange {
		return domain.Invalid("Date range cannot exceed 1 year")
	}
	return nil
}

// UserStats summarises the owner's projects and deployments in [start, end].
// A zero end means now; a zero start means 30 days before end.
func (s Service) UserStats(ctx context.Context, ownerID int64, start, end time.Time) (domain.UserStats, error) {
	key := cache.UserStatsKey(ownerID, start, end)
	if end.IsZero() {
		end = s.now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-defaultUserRange)
	}
	if err := ValidateRange(start, end); err != nil {
		return domain.UserStats{}, err
	}
	return cache.Remember(ctx, s.cache, key, s.ttl, func(ctx context.Context) (domain.UserStats, error) {
		return s.userStats(ctx, ownerID, start, end)
	})
}

func (s Service) userStats(ctx context.Context, ownerID int64, start, end time.Time) (domain.UserStats, error) {
	projects, err := s.projects.ListProjectsCreatedBetween(ctx, ownerID, start, end)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("list projects: %w", err)
	}
	deployments, err := s.deployments.ListDeployments(ctx, domain.DeploymentFilter{
		OwnerID:     ownerID,
		StartedFrom: start,
		StartedTo:   end,
	}, domain.Page{})
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("list deployments: %w", err)
	}

	ids := make([]int64, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	counts, err := s.deployments.CountDeploymentsByProject(ctx, ids)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("count deployments: %w", err)
	}
	activity := make([]domain.ProjectActivity, 0, len(projects))
	for _, p := range projects {
		activity = append(activity, domain.ProjectActivity{ID: p.ID, Name: p.Name, Status: p.Status, DeploymentCount: counts[p.ID]})
	}
	sort.SliceStable(activity, func(i, j int) bool {
		if activity[i].DeploymentCount != activity[j].DeploymentCount {
			return activity[i].DeploymentCount > activity[j].DeploymentCount
		}
		return activity[i].ID < activity[j].ID
	})
	if len(activity) > topProjects {
		activity = activity[:topProjects]
	}

	summary, statuses := summarize(deployments)
	summary.TotalProjects = len(projects)
	return domain.UserStats{
		Period:           period(start, end),
		Summary:          summary,
		DeploymentStatus: statuses,
		DailyTrend:       s.bucket(deployments, "2006-01-02"),
		Projects:         activity,
	}, nil
}

// ProjectStats summarises one owned project's deployments in [start, end].
// A zero end means now; a zero start means the project's creation time.
func (s Service) ProjectStats(ctx context.Context, projectID, ownerID int64, start, end time.Time) (domain.ProjectStats, error) {
	project, err := s.projects.GetProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ProjectStats{}, domain.NotFound("Project not found")
		}
		return domain.ProjectStats{}, fmt.Errorf("load project: %w", err)
	}
	key := cache.ProjectStatsKey(ownerID, projectID, start, end)
	if end.IsZero() {
		end = s.now().UTC()
	}
	if start.IsZero() {
		start = project.CreatedAt
	}
	if err := ValidateRange(start, end); err != nil {
		return domain.ProjectStats{}, err
	}
	return cache.Remember(ctx, s.cache, key, s.ttl, func(ctx context.Context) (domain.ProjectStats, error) {
		deployments, err := s.deployments.ListDeployments(ctx, domain.DeploymentFilter{
			ProjectID:   projectID,
			StartedFrom: start,
			StartedTo:   end,
		}, domain.Page{})
		if err != nil {
			return domain.ProjectStats{}, fmt.Errorf("list deployments: %w", err)
		}
		summary, statuses := summarize(deployments)
		failed := statuses[domain.DeploymentFailed.String()]
		summary.FailedDeployments = &failed

		recent := make([]domain.RecentDeployment, 0, recentLimit)
		for i, d := range deployments {
			if i == recentLimit {
				break
			}
			row := domain.RecentDeployment{ID: d.ID, Status: d.Status, StartedAt: d.StartedAt, CompletedAt: d.CompletedAt}
			if dur, ok := d.Duration(); ok {
				secs := dur.Seconds()
				row.DurationSeconds = &secs
			}
			recent = append(recent, row)
		}
		return domain.ProjectStats{
			Project:           *project,
			Period:            period(start, end),
			Summary:           summary,
			DeploymentStatus:  statuses,
			MonthlyTrend:      s.bucket(deployments, "2006-01"),
			RecentDeployments: recent,
		}, nil
	})
}

// AdminOverview returns system-wide totals, growth and trends.
func (s Service) AdminOverview(ctx context.Context) (domain.AdminOverview, error) {
	return cache.Remember(ctx, s.cache, cache.AdminOverviewKey, s.ttl, s.adminOverview)
}

func (s Service) adminOverview(ctx context.Context) (domain.AdminOverview, error) {
	now := s.now().In(s.loc)
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	lastMonth := thisMonth.AddDate(0, -1, 0)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	var (
		users       domain.UserCounts
		projects    domain.ProjectCounts
		deployments domain.DeploymentCounts
		newThis     int
		newLast     int
		top         []domain.UserProjectCount
		daily       [trendDays]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.users.CountUsers(gctx, now.Add(-defaultUserRange))
		return err
	})
	g.Go(func() (err error) {
		projects, err = s.projects.CountProjects(gctx)
		return err
	})
	g.Go(func() (err error) {
		deployments, err = s.deployments.CountDeployments(gctx, now.Add(-24*time.Hour))
		return err
	})
	g.Go(func() (err error) {
		newThis, err = s.users.CountUsersCreatedBetween(gctx, thisMonth, now.Add(time.Second))
		return err
	})
	g.Go(func() (err error) {
		newLast, err = s.users.CountUsersCreatedBetween(gctx, lastMonth, thisMonth)
		return err
	})
	g.Go(func() (err error) {
		top, err = s.users.TopUsersByProjects(gctx, topUsers)
		return err
	})
	for i := 0; i < trendDays; i++ {
		day := today.AddDate(0, 0, -i)
		g.Go(func() (err error) {
			daily[i], err = s.deployments.CountDeploymentsStartedBetween(gctx, day, day.AddDate(0, 0, 1))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AdminOverview{}, fmt.Errorf("admin overview: %w", err)
	}

	trend := make(map[string]int, trendDays)
	for i, count := range daily {
		trend[today.AddDate(0, 0, -i).Format("2006-01-02")] = count
	}
	if top == nil {
		top = []domain.UserProjectCount{}
	}
	return domain.AdminOverview{
		Timestamp: s.now().UTC(),
		Overview: domain.OverviewTotals{
			TotalUsers:            users.Total,
			ActiveUsersLast30Days: users.Recent,
			TotalProjects:         projects.Total,
			TotalDeployments:      deployments.Total,
			DeploymentSuccessRate: percentage(deployments.Successful, deployments.Total),
		},
		Growth: domain.UserGrowth{
			NewUsersThisMonth:    newThis,
			NewUsersLastMonth:    newLast,
			UserGrowthPercentage: growth(newThis, newLast),
		},
		TopUsers:                 top,
		DeploymentTrendLast7Days: trend,
	}, nil
}

func (s Service) bucket(deployments []domain.Deployment, layout string) map[string]int {
	out := make(map[string]int)
	for _, d := range deployments {
		out[d.StartedAt.In(s.loc).Format(layout)]++
	}
	return out
}

func summarize(deployments []domain.Deployment) (domain.DeploymentSummary, map[string]int) {
	statuses := make(map[string]int)
	var (
		total    float64
		measured int
	)
	for _, d := range deployments {
		statuses[d.Status.String()]++
		if dur, ok := d.Duration(); ok {
			total += dur.Seconds()
			measured++
		}
	}
	summary := domain.DeploymentSummary{
		TotalDeployments: len(deployments),
		SuccessRate:      percentage(statuses[domain.DeploymentSuccess.String()], len(deployments)),
	}
	if measured > 0 {
		summary.AvgDeploymentTimeSeconds = round2(total / float64(measured))
	}
	return summary, statuses
}

func period(start, end time.Time) domain.Period {
	return domain.Period{Start: start, End: end, Days: int(end.Sub(start) / (24 * time.Hour))}
}

// percentage returns part/total*100 rounded to two decimals, or 0 when total
// is 0.
func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func growth(current, previous int) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return round2(float64(current-previous) / float64(previous) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
