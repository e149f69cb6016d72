package isul

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"
)

// LicenseAPI is the remote license service as seen by the Manager.
// *APIClient is the production implementation.
type LicenseAPI interface {
	Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error)
	Deactivate(ctx context.Context, req DeactivateRequest) error
}

var _ LicenseAPI = (*APIClient)(nil)

// Option configures a Manager.
type Option func(*options)

type options struct {
	api          LicenseAPI
	clientOpts   []ClientOption
	presenter    SignInPresenter
	dispatcher   Dispatcher
	logger       *slog.Logger
	clock        func() time.Time
	publicKey    ed25519.PublicKey
	offlineUIURL string
	tuning       *Tuning
	retry        func(*Tuning)
}

// WithAPIClient replaces the HTTP client built from apiURL.
func WithAPIClient(api LicenseAPI) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithClientOptions passes extra options to the APIClient built by Create.
func WithClientOptions(opts ...ClientOption) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithPresenter sets the component that renders the sign-in WebUI.
func WithPresenter(p SignInPresenter) Option {
	return func(o *options) {
		o.presenter = p
	}
}

// WithDispatcher runs delegate callbacks through d, normally the host's
// UI thread. By default callbacks run serially on an internal goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithLogger adds l as a log sink next to the kLogFilePath file.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock overrides the time source used for expiry and grace decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithTrustedPublicKey sets the license service key used to verify tokens.
// It takes precedence over the kTrustedPublicKey property.
func WithTrustedPublicKey(pub ed25519.PublicKey) Option {
	return func(o *options) {
		o.publicKey = pub
	}
}

// WithOfflineUIURL sets the WebUI used to obtain a token on machines
// without network access. It takes precedence over kOfflineUIURL.
func WithOfflineUIURL(u string) Option {
	return func(o *options) {
		o.offlineUIURL = u
	}
}

// WithTuning replaces the environment-derived Tuning.
func WithTuning(t Tuning) Option {
	return func(o *options) {
		o.tuning = &t
	}
}

// WithRetry overrides the retry bound and backoff intervals for transient
// connection failures.
func WithRetry(maxRetries uint64, initial, max time.Duration) Option {
	return func(o *options) {
		o.retry = func(t *Tuning) {
			t.MaxRetries = maxRetries
			t.RetryInitialInterval = initial
			t.RetryMaxInterval = max
		}
	}
}
