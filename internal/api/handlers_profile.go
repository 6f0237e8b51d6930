package api

import (
	"errors"
	"net/http"
	"strings"

	"taskboard/internal/core"
	"taskboard/internal/store"
)

type employeeResponse struct {
	ID             string `json:"id"`
	UID            string `json:"uid,omitempty"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	Linked         bool   `json:"linked"`
}

type projectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createEmployeeRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	ProfilePicture string `json:"profile_picture"`
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

type linkProfileRequest struct {
	EmployeeID string `json:"employee_id"`
	UID        string `json:"uid"`
}

// handleGetProfile returns the employee linked to the signed-in user, or to
// ?uid= when given.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	if uid == "" {
		uid = currentUID(r)
	}
	if uid == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "uid is required without a signed-in user")
		return
	}
	emp, err := s.store.GetEmployeeByUID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrEmployeeNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no employee is linked to this account")
			return
		}
		s.logger.Error("get profile", "uid", uid, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, employeeToResponse(emp))
}

func (s *Server) handleLinkProfile(w http.ResponseWriter, r *http.Request) {
	var req linkProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	employeeID := strings.TrimSpace(req.EmployeeID)
	uid := currentUID(r)
	if uid == "" {
		uid = strings.TrimSpace(req.UID)
	}
	if employeeID == "" || uid == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "employee_id and uid are required")
		return
	}
	emp, err := s.store.LinkEmployee(r.Context(), employeeID, uid)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmployeeNotFound):
			writeError(w, http.StatusNotFound, "not_found", "employee not found")
		case errors.Is(err, store.ErrEmployeeLinked):
			writeError(w, http.StatusConflict, "conflict", "employee or account is already linked")
		default:
			s.logger.Error("link employee", "employee_id", employeeID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to link employee")
		}
		return
	}
	s.logger.Info("employee linked", "employee_id", employeeID, "uid", uid)
	writeJSON(w, http.StatusOK, employeeToResponse(emp))
}

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := s.store.ListEmployees(r.Context())
	if err != nil {
		s.logger.Error("list employees", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list employees")
		return
	}
	res := make([]employeeResponse, 0, len(employees))
	for _, emp := range employees {
		res = append(res, employeeToResponse(emp))
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCreateEmployee adds an unlinked employee record. Accounts claim it
// later through the profile link.
func (s *Server) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req createEmployeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	emp := &core.Employee{
		ID:             core.NewID(),
		Name:           strings.TrimSpace(req.Name),
		Email:          strings.TrimSpace(req.Email),
		Role:           strings.TrimSpace(req.Role),
		ProfilePicture: strings.TrimSpace(req.ProfilePicture),
	}
	if emp.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if err := s.store.InsertEmployee(r.Context(), emp); err != nil {
		s.logger.Error("insert employee", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert employee")
		return
	}
	s.logger.Info("employee created", "employee_id", emp.ID)
	writeJSON(w, http.StatusCreated, employeeToResponse(emp))
}

func (s *Server) handleListUnlinked(w http.ResponseWriter, r *http.Request) {
	employees, err := s.store.ListUnlinkedEmployees(r.Context())
	if err != nil {
		s.logger.Error("list unlinked employees", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list employees")
		return
	}
	res := make([]employeeResponse, 0, len(employees))
	for _, emp := range employees {
		res = append(res, employeeToResponse(emp))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListActiveProjects(r.Context())
	if err != nil {
		s.logger.Error("list projects", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list projects")
		return
	}
	res := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		res = append(res, projectResponse{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := &core.Project{
		ID:          core.NewID(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Active:      true,
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if err := s.store.InsertProject(r.Context(), p); err != nil {
		s.logger.Error("insert project", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert project")
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse{ID: p.ID, Name: p.Name, Description: p.Description})
}

func employeeToResponse(emp *core.Employee) employeeResponse {
	return employeeResponse{
		ID:             emp.ID,
		UID:            emp.UID,
		Email:          emp.Email,
		Name:           emp.Name,
		Role:           emp.Role,
		ProfilePicture: emp.ProfilePicture,
		Linked:         emp.Linked(),
	}
}
