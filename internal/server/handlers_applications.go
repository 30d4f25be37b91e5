package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bobmcallan/passage/internal/interfaces"
	"github.com/bobmcallan/passage/internal/models"
	"github.com/bobmcallan/passage/internal/services/application"
)

const applicationsPrefix = "/api/v1/applications/"

type createApplicationRequest struct {
	Name        string `json:"name"`
	RedirectURI string `json:"redirect_uri"`
}

type updateApplicationRequest struct {
	Name        *string `json:"name"`
	RedirectURI *string `json:"redirect_uri"`
}

// applicationWithSecret is returned when a secret is generated. The secret
// is shown once and cannot be read back.
type applicationWithSecret struct {
	*models.Application
	Secret string `json:"secret"`
}

type secretResponse struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// handleApplications handles GET (list) and POST (create) on /api/v1/applications.
func (s *Server) handleApplications(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	session := requireSession(w, r)
	if session == nil {
		return
	}

	if r.Method == http.MethodGet {
		apps, err := s.apps.List(r.Context(), session.UID)
		if err != nil {
			s.writeApplicationError(w, err)
			return
		}
		if apps == nil {
			apps = []*models.Application{}
		}
		WriteJSON(w, http.StatusOK, apps)
		return
	}

	var req createApplicationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	app, secret, err := s.apps.Create(r.Context(), session.UID, req.Name, req.RedirectURI)
	if err != nil {
		s.writeApplicationError(w, err)
		return
	}
	noStore(w)
	WriteJSON(w, http.StatusCreated, applicationWithSecret{Application: app, Secret: secret})
}

// routeApplication dispatches /api/v1/applications/{id} and /api/v1/applications/{id}/secret.
func (s *Server) routeApplication(w http.ResponseWriter, r *http.Request) {
	id := PathParam(r, applicationsPrefix, "")
	if id == "" {
		WriteError(w, http.StatusNotFound, "Application not found")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, applicationsPrefix+id)
	switch rest {
	case "", "/":
		s.handleApplication(w, r, id)
	case "/secret":
		s.handleApplicationSecret(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleApplication handles GET and PATCH on a single application.
func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPatch) {
		return
	}
	session := requireSession(w, r)
	if session == nil {
		return
	}

	if r.Method == http.MethodGet {
		app, err := s.apps.Get(r.Context(), session.UID, id)
		if err != nil {
			s.writeApplicationError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, app)
		return
	}

	var req updateApplicationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Name == nil && req.RedirectURI == nil {
		WriteError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	var (
		app *models.Application
		err error
	)
	if req.Name != nil {
		if app, err = s.apps.UpdateName(r.Context(), session.UID, id, *req.Name); err != nil {
			s.writeApplicationError(w, err)
			return
		}
	}
	if req.RedirectURI != nil {
		if app, err = s.apps.UpdateRedirectURI(r.Context(), session.UID, id, *req.RedirectURI); err != nil {
			s.writeApplicationError(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, app)
}

// handleApplicationSecret handles POST /api/v1/applications/{id}/secret.
func (s *Server) handleApplicationSecret(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	session := requireSession(w, r)
	if session == nil {
		return
	}

	secret, err := s.apps.RegenerateSecret(r.Context(), session.UID, id)
	if err != nil {
		s.writeApplicationError(w, err)
		return
	}
	noStore(w)
	WriteJSON(w, http.StatusOK, secretResponse{ID: id, Secret: secret})
}

func (s *Server) writeApplicationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrForbidden):
		WriteError(w, http.StatusForbidden, "Application is owned by another user")
	case errors.Is(err, interfaces.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Application not found")
	default:
		s.logger.Error().Err(err).Msg("Application request failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
