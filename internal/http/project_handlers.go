package httpx

import (
	"net/http"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/service/project"
)

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	page, err := pageFromQuery(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	projects, err := r.projects.List(req.Context(), caller(req), page)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload project.CreateInput
	if !decodeJSON(w, req, &payload) {
		return
	}
	created, err := r.projects.Create(req.Context(), caller(req), payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleGetProject(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	found, err := r.projects.Get(req.Context(), id, caller(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (r *Router) handleUpdateProject(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	var payload project.UpdateInput
	if !decodeJSON(w, req, &payload) {
		return
	}
	updated, err := r.projects.Update(req.Context(), id, caller(req), payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if err := r.projects.Delete(req.Context(), id, caller(req)); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
