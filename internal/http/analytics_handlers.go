package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
)

var errDateFormat = domain.Invalid("Invalid date format. Use ISO format (YYYY-MM-DD)")

// dateLayouts are tried in order. Date-only values mean midnight UTC.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", time.DateOnly}

func parseDateParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errDateFormat
}

func dateRange(req *http.Request) (time.Time, time.Time, error) {
	query := req.URL.Query()
	start, err := parseDateParam(query.Get("start_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDateParam(query.Get("end_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func (r *Router) handleUserStats(w http.ResponseWriter, req *http.Request) {
	start, end, err := dateRange(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	stats, err := r.analytics.UserStats(req.Context(), caller(req), start, end)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleProjectStats(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	start, end, err := dateRange(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	stats, err := r.analytics.ProjectStats(req.Context(), id, caller(req), start, end)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleAdminOverview(w http.ResponseWriter, req *http.Request) {
	overview, err := r.analytics.AdminOverview(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
