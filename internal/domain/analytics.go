package domain

import "time"

// Period is an inclusive analytics date range.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// DeploymentSummary holds the rollups shared by user and project stats.
type DeploymentSummary struct {
	TotalProjects            int     `json:"total_projects,omitempty"`
	TotalDeployments         int     `json:"total_deployments"`
	SuccessRate              float64 `json:"success_rate"`
	AvgDeploymentTimeSeconds float64 `json:"avg_deployment_time_seconds"`
	FailedDeployments        *int    `json:"failed_deployments,omitempty"`
}

// ProjectActivity is one row of the per-user project ranking.
type ProjectActivity struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Status          ProjectStatus `json:"status"`
	DeploymentCount int           `json:"deployment_count"`
}

// UserStats is the analytics view scoped to one owner.
type UserStats struct {
	Period           Period            `json:"period"`
	Summary          DeploymentSummary `json:"summary"`
	DeploymentStatus map[string]int    `json:"deployment_status"`
	DailyTrend       map[string]int    `json:"daily_trend"`
	Projects         []ProjectActivity `json:"projects"`
}

// RecentDeployment is a deployment row with its computed duration.
type RecentDeployment struct {
	ID              int64            `json:"id"`
	Status          DeploymentStatus `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at"`
	DurationSeconds *float64         `json:"duration_seconds"`
}

// ProjectStats is the analytics view scoped to one project.
type ProjectStats struct {
	Project           Project            `json:"project"`
	Period            Period             `json:"period"`
	Summary           DeploymentSummary  `json:"summary"`
	DeploymentStatus  map[string]int     `json:"deployment_status"`
	MonthlyTrend      map[string]int     `json:"monthly_trend"`
	RecentDeployments []RecentDeployment `json:"recent_deployments"`
}

// OverviewTotals are the unscoped system totals.
type OverviewTotals struct {
	TotalUsers            int     `json:"total_users"`
	ActiveUsersLast30Days int     `json:"active_users_last_30_days"`
	TotalProjects         int     `json:"total_projects"`
	TotalDeployments      int     `json:"total_deployments"`
	DeploymentSuccessRate float64 `json:"deployment_success_rate"`
}

// UserGrowth is the month over month new user comparison.
type UserGrowth struct {
	NewUsersThisMonth    int     `json:"new_users_this_month"`
	NewUsersLastMonth    int     `json:"new_users_last_month"`
	UserGrowthPercentage float64 `json:"user_growth_percentage"`
}

// AdminOverview is the system-wide analytics view.
type AdminOverview struct {
	Timestamp                time.Time          `json:"timestamp"`
	Overview                 OverviewTotals     `json:"overview"`
	Growth                   UserGrowth         `json:"growth"`
	TopUsers                 []UserProjectCount `json:"top_users"`
	DeploymentTrendLast7Days map[string]int     `json:"deployment_trend_last_7_days"`
}

// StorageEstimate is the simulated storage usage shown in admin stats.
type StorageEstimate struct {
	TotalMB       int     `json:"total_mb"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// SystemStats is the admin dashboard payload.
type SystemStats struct {
	Users       UserCounts       `json:"users"`
	Projects    ProjectCounts    `json:"projects"`
	Deployments DeploymentCounts `json:"deployments"`
	Storage     StorageEstimate  `json:"storage"`
	Timestamp   time.Time        `json:"timestamp"`
}
