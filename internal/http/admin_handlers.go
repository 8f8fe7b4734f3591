package httpx

import (
	"context"
	"fmt"
	"net/http"

	"github.com/splax/clouddeploy/internal/domain"
)

func (r *Router) handleAdminListUsers(w http.ResponseWriter, req *http.Request) {
	page, err := pageFromQuery(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	users, err := r.admin.ListUsers(req.Context(), page)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (r *Router) handleAdminGetUser(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	user, err := r.admin.GetUser(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type userAction func(ctx context.Context, actorID, id int64) (*domain.User, error)

// userFlagHandler adapts an admin user mutation; format receives the email.
func (r *Router) userFlagHandler(action userAction, format string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := pathID(req, "id")
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		user, err := action(req.Context(), caller(req), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeMessage(w, http.StatusOK, fmt.Sprintf(format, user.Email))
	}
}

func (r *Router) handleAdminDeactivate(w http.ResponseWriter, req *http.Request) {
	r.userFlagHandler(r.admin.Deactivate, "User %s deactivated")(w, req)
}

func (r *Router) handleAdminActivate(w http.ResponseWriter, req *http.Request) {
	r.userFlagHandler(r.admin.Activate, "User %s activated")(w, req)
}

func (r *Router) handleAdminMakeAdmin(w http.ResponseWriter, req *http.Request) {
	r.userFlagHandler(r.admin.MakeAdmin, "User %s is now an admin")(w, req)
}

func (r *Router) handleAdminRemoveAdmin(w http.ResponseWriter, req *http.Request) {
	r.userFlagHandler(r.admin.RemoveAdmin, "Admin privileges removed from %s")(w, req)
}

func (r *Router) handleAdminStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.admin.Stats(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleAdminListDeployments(w http.ResponseWriter, req *http.Request) {
	page, err := pageFromQuery(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	var status *domain.DeploymentStatus
	if raw := req.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseDeploymentStatus(raw)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		status = &parsed
	}
	deployments, err := r.admin.ListDeployments(req.Context(), status, page)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (r *Router) handleAdminCancelDeployment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if _, err := r.admin.CancelDeployment(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeMessage(w, http.StatusOK, "Deployment cancelled successfully")
}

func (r *Router) handleAdminListProjects(w http.ResponseWriter, req *http.Request) {
	page, err := pageFromQuery(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	var status *domain.ProjectStatus
	if raw := req.URL.Query().Get("status"); raw != "" {
		parsed, err := domain.ParseProjectStatus(raw)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		status = &parsed
	}
	projects, err := r.admin.ListProjects(req.Context(), status, page)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleAdminDeleteProject(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	deleted, err := r.admin.DeleteProject(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("Project %s deleted by admin", deleted.Name))
}
