package handlers

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pbn-studio/engine/internal/api/types"
	"github.com/pbn-studio/engine/internal/services"
	appErr "github.com/pbn-studio/engine/pkg/errors"
)

const missingFields = "Missing required fields"

type ProjectsHandler struct {
	svc services.ProjectService
}

func NewProjectsHandler(svc services.ProjectService) *ProjectsHandler {
	return &ProjectsHandler{svc: svc}
}

func projectID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, appErr.New(appErr.CodeNotFound, "Project not found")
	}
	return id, nil
}

func toInput(req *types.ProjectRequest) *services.ProjectInput {
	return &services.ProjectInput{
		Name:            req.Name,
		SystemPrompt:    req.SystemPrompt,
		UserPrompt:      req.UserPrompt,
		SiteCount:       req.SiteCount,
		IntervalSeconds: req.Interval,
	}
}

func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListProjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.ProjectRequest
	if err := decode(r, &req, missingFields); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.CreateProject(r.Context(), toInput(&req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, types.CreatedProjectResponse{ProjectID: p.ID.String()})
}

func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := projectID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.GetProject(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (h *ProjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := projectID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.ProjectRequest
	if err := decode(r, &req, missingFields); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.svc.UpdateProject(r.Context(), id, toInput(&req)); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, types.MessageResponse{Message: "Project updated"})
}

func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := projectID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteProject(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, types.MessageResponse{Message: "Project deleted"})
}

func (h *ProjectsHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := projectID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.svc.RunProject(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, types.MessageResponse{Message: "Project started"})
}

func (h *ProjectsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s)
}

// Export streams the progress log as CSV. It renders into a buffer first so a failure
// can still be answered with a JSON error.
func (h *ProjectsHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := projectID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.svc.ExportCSV(r.Context(), id, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "project-"+id.String()+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
