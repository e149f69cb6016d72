// Package licenseserver implements the ISUL license service: the HTTP API the
// SDK activates against and a minimal sign-in WebUI.
package licenseserver

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
	"github.com/CloudNativeWorks/isul-sdk/licenseserver/registry"
)

const defaultIssuer = "isul-licenseserver"

// Server is the license service.
type Server struct {
	catalog    *Catalog
	registry   registry.Registry
	signer     ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	tokenTTL   time.Duration
	issuer     string
	adminToken string
	clock      func() time.Time
	logger     *slog.Logger
	metrics    *metrics

	seatMu sync.Mutex // serializes seat checks with registration
	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the activation registry. Default: in-memory.
func WithRegistry(r registry.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithTokenTTL sets the lifetime of issued tokens. Tokens never outlive their
// license. Zero issues tokens that expire only with the license.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.clock = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithAdminToken enables the activation listing endpoint, protected by the
// given bearer token.
func WithAdminToken(t string) Option {
	return func(s *Server) {
		s.adminToken = t
	}
}

// WithIssuer sets the iss claim of issued tokens.
func WithIssuer(iss string) Option {
	return func(s *Server) {
		s.issuer = iss
	}
}

// New creates a Server that honours the licenses in catalog and signs tokens
// with signer.
func New(catalog *Catalog, signer ed25519.PrivateKey, opts ...Option) *Server {
	s := &Server{
		catalog:  catalog,
		signer:   signer,
		tokenTTL: 30 * 24 * time.Hour,
		issuer:   defaultIssuer,
		clock:    time.Now,
		logger:   slog.Default(),
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = registry.NewMemoryRegistry(registry.WithClock(s.clock))
	}
	s.publicKey = signer.Public().(ed25519.PublicKey)
	s.router = s.routes()
	return s
}

// Open builds a Server from cfg, connecting the configured registry.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("private key is required")
	}
	signer, err := token.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	var reg registry.Registry
	switch cfg.Registry {
	case "", "memory":
		reg = registry.NewMemoryRegistry()
	case "postgres":
		if reg, err = registry.OpenPostgres(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
	case "mongo":
		if reg, err = registry.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown registry %q: want memory, postgres or mongo", cfg.Registry)
	}

	return New(catalog, signer,
		WithRegistry(reg),
		WithTokenTTL(cfg.TokenTTL),
		WithAdminToken(cfg.AdminToken),
		WithIssuer(cfg.Issuer),
		WithLogger(logger),
	), nil
}

// Handler returns the HTTP handler serving the API and WebUI.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PublicKey returns the key SDK clients use to verify issued tokens.
func (s *Server) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Catalog returns the license catalogue.
func (s *Server) Catalog() *Catalog {
	return s.catalog
}

// Registry returns the activation registry.
func (s *Server) Registry() registry.Registry {
	return s.registry
}

// PruneStale removes activations of every catalogued license that have not
// checked in for olderThan.
func (s *Server) PruneStale(ctx context.Context, olderThan time.Duration) (int, error) {
	total := 0
	for _, key := range s.catalog.Keys() {
		n, err := s.registry.Prune(ctx, key, olderThan)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("Pruned stale activations", "count", total, "older_than", olderThan)
	}
	return total, nil
}

// Close releases the registry.
func (s *Server) Close(ctx context.Context) error {
	return s.registry.Close(ctx)
}

// activate registers the machine under the license key and issues a token.
func (s *Server) activate(ctx context.Context, req activateRequest) (string, *registry.Activation, *apiError) {
	lic, aerr := s.usableLicense(req.LicenseKey, req.ProductID)
	if aerr != nil {
		return "", nil, aerr
	}

	s.seatMu.Lock()
	defer s.seatMu.Unlock()

	existing, err := s.registry.List(ctx, lic.Key)
	if err != nil {
		return "", nil, internalError(err)
	}
	holdsSeat := false
	for _, a := range existing {
		if a.Fingerprint == req.Fingerprint {
			holdsSeat = true
			break
		}
	}
	if !holdsSeat && lic.Seats > 0 && len(existing) >= lic.Seats {
		s.metrics.activations.WithLabelValues("seat_limit").Inc()
		return "", nil, &apiError{Status: http.StatusConflict, Code: codeSeatLimit,
			Message: fmt.Sprintf("all %d seats of this license are in use", lic.Seats)}
	}

	act, err := s.registry.Register(ctx, registry.Activation{
		ID:          uuid.NewString(),
		LicenseKey:  lic.Key,
		ProductID:   lic.ProductID,
		Fingerprint: req.Fingerprint,
		Hostname:    req.Hostname,
		OS:          req.OS,
	})
	if err != nil {
		return "", nil, internalError(err)
	}

	signed, err := s.issue(lic, act)
	if err != nil {
		return "", nil, internalError(err)
	}
	s.metrics.activations.WithLabelValues("activated").Inc()
	s.logger.Info("Activation registered",
		"activation_id", act.ID,
		"product_id", lic.ProductID,
		"hostname", act.Hostname,
		"reactivation", holdsSeat,
	)
	return signed, act, nil
}

// usableLicense looks up a license that may be activated for productID.
func (s *Server) usableLicense(key, productID string) (License, *apiError) {
	lic, ok := s.catalog.Lookup(key)
	if !ok || lic.Disabled || lic.ProductID != productID {
		s.metrics.activations.WithLabelValues("invalid_license").Inc()
		return License{}, &apiError{Status: http.StatusForbidden, Code: codeInvalidLicense,
			Message: "license key is not valid for this product"}
	}
	if lic.Expired(s.clock()) {
		s.metrics.activations.WithLabelValues("license_expired").Inc()
		return License{}, &apiError{Status: http.StatusForbidden, Code: codeLicenseExpired,
			Message: "license expired on " + lic.ExpiresAt.UTC().Format(time.DateOnly)}
	}
	return lic, nil
}

// issue signs a token for an activation. The token never outlives the license.
func (s *Server) issue(lic License, act *registry.Activation) (string, error) {
	now := s.clock()
	claims := &token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Issuer:   s.issuer,
			Subject:  act.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		ProductID:    lic.ProductID,
		Fingerprint:  act.Fingerprint,
		ActivationID: act.ID,
		Plan:         lic.Plan,
		Licensee:     lic.Licensee,
		Seats:        lic.Seats,
		Features:     lic.Features,
	}

	var exp time.Time
	if s.tokenTTL > 0 {
		exp = now.Add(s.tokenTTL)
	}
	if !lic.ExpiresAt.IsZero() && (exp.IsZero() || lic.ExpiresAt.Before(exp)) {
		exp = lic.ExpiresAt
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	return token.Sign(s.signer, claims)
}

// activationFor verifies a token presented by a machine and returns its activation.
func (s *Server) activationFor(ctx context.Context, tokenString, fingerprint string) (*token.Claims, *registry.Activation, *apiError) {
	claims, err := token.VerifyLenient(s.publicKey, tokenString)
	if err != nil || claims.Fingerprint != fingerprint {
		return nil, nil, &apiError{Status: http.StatusUnauthorized, Code: codeInvalidToken,
			Message: "token is not valid for this machine"}
	}
	act, err := s.registry.Get(ctx, claims.ActivationID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, nil, &apiError{Status: http.StatusNotFound, Code: codeActivationNotFound,
			Message: "activation not found"}
	}
	if err != nil {
		return nil, nil, internalError(err)
	}
	return claims, act, nil
}
