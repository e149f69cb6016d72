package licenseserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/CloudNativeWorks/isul-sdk/licenseserver/registry"
)

// Error codes understood by the SDK client.
const (
	codeInvalidRequest     = "INVALID_REQUEST"
	codeInvalidLicense     = "INVALID_LICENSE"
	codeLicenseExpired     = "LICENSE_EXPIRED"
	codeSeatLimit          = "SEAT_LIMIT"
	codeInvalidToken       = "INVALID_TOKEN"
	codeActivationNotFound = "ACTIVATION_NOT_FOUND"
	codeDeactivated        = "DEACTIVATED"
	codeUnauthorized       = "UNAUTHORIZED"
	codeInternal           = "INTERNAL"
)

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func internalError(err error) *apiError {
	return &apiError{Status: http.StatusInternalServerError, Code: codeInternal, Message: err.Error()}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type dataBody struct {
	Data interface{} `json:"data"`
}

func renderError(w http.ResponseWriter, r *http.Request, e *apiError) {
	var body errorBody
	body.Error.Code = e.Code
	body.Error.Message = e.Message
	render.Status(r, e.Status)
	render.JSON(w, r, body)
}

func renderData(w http.ResponseWriter, r *http.Request, v interface{}) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, dataBody{Data: v})
}

type activateRequest struct {
	LicenseKey     string `json:"license_key" validate:"required"`
	ProductID      string `json:"product_id" validate:"required"`
	ProductVersion string `json:"product_version"`
	Fingerprint    string `json:"fingerprint" validate:"required"`
	Hostname       string `json:"hostname"`
	OS             string `json:"os"`
}

func (a *activateRequest) Bind(r *http.Request) error {
	if hdr := r.Header.Get("X-Product-Id"); hdr != "" && hdr != a.ProductID {
		return errors.New("X-Product-Id header does not match product_id")
	}
	return requestValidator.Struct(a)
}

type tokenRequest struct {
	Token       string `json:"token" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"required"`
}

func (t *tokenRequest) Bind(*http.Request) error {
	return requestValidator.Struct(t)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())
	r.Get("/signin", s.handleSignInPage)
	r.Get("/offline", s.handleOfflinePage)
	r.Post("/offline", s.handleOfflineActivate)

	r.Route("/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/activate", s.handleActivate)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/deactivate", s.handleDeactivate)
		if s.adminToken != "" {
			r.With(s.requireAdmin).Get("/licenses/{key}/activations", s.handleListActivations)
		}
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := render.Bind(r, &req); err != nil {
		renderError(w, r, &apiError{Status: http.StatusBadRequest, Code: codeInvalidRequest, Message: err.Error()})
		return
	}
	signed, act, aerr := s.activate(r.Context(), req)
	if aerr != nil {
		renderError(w, r, aerr)
		return
	}
	renderData(w, r, map[string]string{
		"token":         signed,
		"activation_id": act.ID,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := render.Bind(r, &req); err != nil {
		renderError(w, r, &apiError{Status: http.StatusBadRequest, Code: codeInvalidRequest, Message: err.Error()})
		return
	}
	_, act, aerr := s.activationFor(r.Context(), req.Token, req.Fingerprint)
	if aerr != nil {
		renderError(w, r, aerr)
		return
	}

	lic, ok := s.catalog.Lookup(act.LicenseKey)
	if !ok || lic.Disabled {
		renderError(w, r, &apiError{Status: http.StatusGone, Code: codeDeactivated, Message: "license has been revoked"})
		return
	}
	if lic.Expired(s.clock()) {
		renderError(w, r, &apiError{Status: http.StatusForbidden, Code: codeLicenseExpired, Message: "license expired"})
		return
	}

	if err := s.registry.Ping(r.Context(), act.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			renderError(w, r, &apiError{Status: http.StatusNotFound, Code: codeActivationNotFound, Message: "activation not found"})
			return
		}
		renderError(w, r, internalError(err))
		return
	}
	signed, err := s.issue(lic, act)
	if err != nil {
		renderError(w, r, internalError(err))
		return
	}
	s.metrics.activations.WithLabelValues("renewed").Inc()
	renderData(w, r, map[string]string{"token": signed})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := render.Bind(r, &req); err != nil {
		renderError(w, r, &apiError{Status: http.StatusBadRequest, Code: codeInvalidRequest, Message: err.Error()})
		return
	}
	_, act, aerr := s.activationFor(r.Context(), req.Token, req.Fingerprint)
	if aerr != nil {
		renderError(w, r, aerr)
		return
	}
	if err := s.registry.Deregister(r.Context(), act.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			renderError(w, r, &apiError{Status: http.StatusNotFound, Code: codeActivationNotFound, Message: "activation not found"})
			return
		}
		renderError(w, r, internalError(err))
		return
	}
	s.metrics.activations.WithLabelValues("deactivated").Inc()
	s.logger.Info("Activation released", "activation_id", act.ID)
	renderData(w, r, map[string]bool{"deactivated": true})
}

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.List(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		renderError(w, r, internalError(err))
		return
	}
	if list == nil {
		list = []registry.Activation{}
	}
	renderData(w, r, list)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			renderError(w, r, &apiError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
