package httpx

import (
	"net/http"

	"github.com/splax/clouddeploy/internal/domain"
)

func (r *Router) handleTriggerDeployment(w http.ResponseWriter, req *http.Request) {
	projectID, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	deployment, err := r.deploy.Trigger(req.Context(), projectID, caller(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, deployment)
}

func (r *Router) handleListDeployments(w http.ResponseWriter, req *http.Request) {
	projectID, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	page, err := pageFromQuery(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	deployments, err := r.deploy.ListByProject(req.Context(), projectID, caller(req), page)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (r *Router) handleGetDeployment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	deployment, err := r.deploy.Get(req.Context(), id, caller(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (r *Router) handleDeploymentLogs(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	text, err := r.deploy.Logs(req.Context(), id, caller(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": text})
}

func (r *Router) handleCancelDeployment(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if _, err := r.deploy.Cancel(req.Context(), id, caller(req)); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeMessage(w, http.StatusOK, "Deployment cancelled successfully")
}
