package isul

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
	"github.com/CloudNativeWorks/isul-sdk/isul/tokenstore"
)

// maxSignInAttempts bounds how often the sign-in surface is shown again after
// the user entered a key or token that the service or verifier rejected.
const maxSignInAttempts = 3

// Manager owns the activation state of one product on this machine.
// Create one per product per process and Close it at shutdown.
type Manager struct {
	uiURL        string
	offlineUIURL string
	product      ProductInfo
	delegate     Delegate
	presenter    SignInPresenter
	dispatcher   Dispatcher
	serial       *serialDispatcher // nil when the host supplied a dispatcher
	api          LicenseAPI
	store        *tokenstore.Store
	publicKey    ed25519.PublicKey
	fingerprint  string
	now          func() time.Time
	tuning       Tuning
	logger       *slog.Logger
	logCloser    io.Closer

	ops  *semaphore.Weighted // one Validate/Deactivate/UpdateLicenseInfo at a time
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	state    State
	claims   *token.Claims // token currently honoured, nil when none
	cancelOp context.CancelFunc
	closed   bool
}

// Create constructs a Manager bound to the sign-in WebUI at uiURL and the
// license API at apiURL. productInfo must carry kProductId and kProductVersion.
//
// The delegate may be nil or a WeakDelegate; callbacks are dropped once it is
// no longer alive. Any stored activation is loaded immediately, without
// network access.
func Create(uiURL, apiURL string, productInfo Properties, delegate Delegate, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	product, err := ParseProductInfo(productInfo)
	if err != nil {
		return nil, err
	}
	if err := checkEndpoint(uiURL); err != nil {
		return nil, fmt.Errorf("ui url: %w", err)
	}
	if err := checkEndpoint(apiURL); err != nil {
		return nil, fmt.Errorf("api url: %w", err)
	}
	offlineUIURL := o.offlineUIURL
	if offlineUIURL == "" {
		offlineUIURL = product.OfflineUIURL
	}
	if offlineUIURL != "" {
		if err := checkEndpoint(offlineUIURL); err != nil {
			return nil, fmt.Errorf("offline ui url: %w", err)
		}
	}

	pub := o.publicKey
	if pub == nil && product.TrustedPublicKey != "" {
		if pub, err = token.ParsePublicKey(product.TrustedPublicKey); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProductInfo, KeyTrustedPublicKey, err)
		}
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: no trusted public key", ErrInvalidProductInfo)
	}

	var tuning Tuning
	if o.tuning != nil {
		tuning = *o.tuning
	} else if tuning, err = LoadTuning(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProductInfo, err)
	}
	if o.retry != nil {
		o.retry(&tuning)
	}

	fingerprint := tuning.Fingerprint
	if fingerprint == "" {
		if fingerprint, err = MachineFingerprint(product.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}

	logger, logCloser, err := newLogger(o.logger, product)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		uiURL:        uiURL,
		offlineUIURL: offlineUIURL,
		product:      product,
		delegate:     delegate,
		presenter:    o.presenter,
		store:        tokenstore.New(product.StoragePath),
		publicKey:    pub,
		fingerprint:  fingerprint,
		now:          time.Now,
		tuning:       tuning,
		logger:       logger,
		logCloser:    logCloser,
		ops:          semaphore.NewWeighted(1),
		ctx:          ctx,
		stop:         stop,
		state:        Unactivated,
	}
	if o.clock != nil {
		m.now = o.clock
	}
	if o.dispatcher != nil {
		m.dispatcher = o.dispatcher
	} else {
		m.serial = newSerialDispatcher()
		m.dispatcher = m.serial
	}
	if o.api != nil {
		m.api = o.api
	} else {
		clientOpts := append([]ClientOption{
			WithClientTuning(tuning),
			WithProductID(product.ID),
			WithServerLog(m.onServerLog),
		}, o.clientOpts...)
		m.api = NewAPIClient(apiURL, clientOpts...)
	}

	m.loadStored(ctx)
	m.logInfo(ctx, "create", "manager ready",
		slog.String("storage_path", product.StoragePath),
		slog.Bool("has_presenter", m.presenter != nil),
	)
	return m, nil
}

func checkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidEndpoint, raw)
	}
	return nil
}

// loadStored makes a stored, verifiable and unexpired token visible to
// CopyLicenseInfo before the first Validate.
func (m *Manager) loadStored(ctx context.Context) {
	act, err := m.store.Load()
	if err != nil {
		m.logWarn(ctx, "create", "stored activation unreadable", slog.String("error", err.Error()))
		return
	}
	if act == nil {
		return
	}
	claims, err := m.verify(act.Token)
	if err != nil || claims.Expired(m.now()) {
		return
	}
	m.setClaims(claims)
}

// ProductInfo returns the decoded product properties.
func (m *Manager) ProductInfo() ProductInfo {
	return m.product
}

// Fingerprint returns the machine fingerprint tokens are bound to.
func (m *Manager) Fingerprint() string {
	return m.fingerprint
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Validate checks the stored activation and, when it is missing, expired or
// forged, drives the host through activation. It does not block; the result
// is delivered to Delegate.OnValidationFinished and through the returned
// Pending. Calls made while another operation runs queue behind it.
func (m *Manager) Validate(reason string) *Pending {
	return m.submit(func(ctx context.Context) Status {
		st := m.validate(ctx, reason)
		m.logResult(ctx, "validate", st, slog.String("reason", reason))
		return st
	}, func(st Status) {
		m.notify(func(d Delegate) { d.OnValidationFinished(st) })
	})
}

// Deactivate releases this machine's activation with the license service and
// removes the stored token. Deactivating without an activation succeeds with
// Deactivated. On connection or server failures the token is kept so the call
// can be retried. callback may be nil.
func (m *Manager) Deactivate(callback func(Status)) *Pending {
	return m.submit(func(ctx context.Context) Status {
		st := m.deactivate(ctx)
		m.logResult(ctx, "deactivate", st)
		return st
	}, func(st Status) {
		if callback != nil {
			m.dispatcher.Dispatch(func() { callback(st) })
		}
	})
}

// CopyLicenseInfo adds the attributes of the current valid token to info.
// It leaves info untouched when there is no valid token.
func (m *Manager) CopyLicenseInfo(info Properties) {
	if info == nil {
		return
	}
	m.mu.Lock()
	claims, state := m.claims, m.state
	m.mu.Unlock()
	if claims == nil {
		return
	}

	info["product_id"] = claims.ProductID
	info["activation_id"] = claims.ActivationID
	info["state"] = state.String()
	if claims.Plan != "" {
		info["plan"] = claims.Plan
	}
	if claims.Licensee != "" {
		info["licensee"] = claims.Licensee
	}
	if claims.Seats > 0 {
		info["seats"] = strconv.Itoa(claims.Seats)
	}
	if len(claims.Features) > 0 {
		info["features"] = strings.Join(claims.Features, ",")
	}
	if exp := claims.ExpiresTime(); !exp.IsZero() {
		info["expires_at"] = exp.UTC().Format(time.RFC3339)
	}
	if iat := claims.IssuedTime(); !iat.IsZero() {
		info["issued_at"] = iat.UTC().Format(time.RFC3339)
	}
}

// LicenseInfo returns the attributes of the current valid token in a new map.
// The map is empty, never nil, when there is no valid token.
func (m *Manager) LicenseInfo() Properties {
	info := Properties{}
	m.CopyLicenseInfo(info)
	return info
}

// UpdateLicenseInfo refreshes the offline grace counters without contacting
// the license service: the offline launch count is incremented and the
// last-day-of-expiration marker is taken from the stored token.
func (m *Manager) UpdateLicenseInfo(ctx context.Context) Status {
	if m.isClosed() {
		return statusFromError(ErrManagerClosed)
	}
	if err := m.ops.Acquire(ctx, 1); err != nil {
		return statusFromError(err)
	}
	defer m.ops.Release(1)

	act, err := m.store.Load()
	if err != nil {
		return statusFromError(fmt.Errorf("%w: load token: %v", ErrInternal, err))
	}
	if act == nil {
		return NewStatus(ActivationNotFound, "no activation on this machine")
	}
	claims, err := m.verify(act.Token)
	if err != nil {
		return statusFromError(err)
	}

	counters := m.loadCounters(ctx)
	counters.OfflineLaunchCount++
	exp := claims.ExpiresTime()
	if !exp.IsZero() {
		counters.LastDayOfExpiration = exp
	}
	if err := m.store.SaveCounters(counters); err != nil {
		return statusFromError(fmt.Errorf("%w: save counters: %v", ErrInternal, err))
	}

	now := m.now()
	m.logInfo(ctx, "update_license_info", "grace counters updated",
		slog.Int("offline_launch_count", counters.OfflineLaunchCount),
	)
	st := NewStatus(OK, fmt.Sprintf("offline launch count %d", counters.OfflineLaunchCount))
	return st.withExpiry(exp, claims.Expired(now) || aboutToExpire(m.product, exp, now))
}

// Cancel aborts the operation in flight. Sign-in and network calls end with
// ActivationCancelled and leave the token store as it was.
func (m *Manager) Cancel() {
	m.mu.Lock()
	cancel := m.cancelOp
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close cancels running work, waits for it to finish and releases the log
// file. It must not be called from a delegate callback running on the default
// dispatcher.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if m.serial != nil {
		m.serial.Close()
	}
	return m.logCloser.Close()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// submit runs op asynchronously under the operation lock, then reports its
// status to done and to the returned Pending.
func (m *Manager) submit(op func(context.Context) Status, done func(Status)) *Pending {
	p := newPending()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.resolve(statusFromError(ErrManagerClosed))
		return p
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		st := m.exclusive(op)
		done(st)
		p.resolve(st)
	}()
	return p
}

func (m *Manager) exclusive(op func(context.Context) Status) (st Status) {
	if err := m.ops.Acquire(m.ctx, 1); err != nil {
		return statusFromError(ErrManagerClosed)
	}
	defer m.ops.Release(1)

	ctx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.cancelOp = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelOp = nil
		m.mu.Unlock()
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.state = Failed
			m.mu.Unlock()
			st = statusFromError(fmt.Errorf("%w: panic: %v", ErrInternal, r))
		}
	}()
	return op(ctx)
}

// validate runs one validation. The caller holds the operation lock.
func (m *Manager) validate(ctx context.Context, reason string) Status {
	if err := m.transition(Validating); err != nil {
		return statusFromError(err)
	}
	now := m.now()

	act, err := m.store.Load()
	if errors.Is(err, tokenstore.ErrCorrupt) {
		m.logWarn(ctx, "validate", "stored token unreadable", slog.String("error", err.Error()))
		m.dropToken(ctx)
		return m.startActivation(ctx, reason, statusFromError(fmt.Errorf("%w: %v", ErrValidationFailed, err)), nil)
	}
	if err != nil {
		return m.settle(Failed, statusFromError(fmt.Errorf("%w: load token: %v", ErrInternal, err)))
	}
	if act == nil {
		m.setClaims(nil)
		return m.startActivation(ctx, reason, NewStatus(ActivationNotFound, "no activation on this machine"), nil)
	}

	claims, err := m.verify(act.Token)
	if errors.Is(err, token.ErrMachineMismatch) {
		m.setClaims(nil)
		if rerr := m.releaseSeat(ctx, act); rerr == nil || revoked(rerr) {
			m.logInfo(ctx, "validate", "released activation of previous machine identity",
				slog.String("activation_id", act.ActivationID))
			m.dropToken(ctx)
		} else {
			m.logWarn(ctx, "validate", "previous activation not released, keeping token",
				slog.String("activation_id", act.ActivationID), slog.String("error", rerr.Error()))
		}
		return m.startActivation(ctx, reason, statusFromError(err), nil)
	}
	if err != nil {
		m.logWarn(ctx, "validate", "stored token rejected", slog.String("error", err.Error()))
		m.dropToken(ctx)
		return m.startActivation(ctx, reason, statusFromError(err), nil)
	}

	counters := m.loadCounters(ctx)

	if !claims.Expired(now) {
		if phoneHomeDue(m.product, claims, counters, now) {
			renewed, err := m.renew(ctx, act)
			switch {
			case err == nil:
				claims = renewed
			case ctx.Err() != nil:
				return m.settle(Cancelled, statusFromError(ctx.Err()))
			case revoked(err):
				m.dropToken(ctx)
				return m.startActivation(ctx, reason, statusFromError(err), nil)
			default:
				m.logWarn(ctx, "phone_home", "check-in failed", slog.String("error", err.Error()))
				m.countOfflineLaunch(ctx, counters)
			}
		}
		m.setClaims(claims)
		return m.settle(Activated, m.licensedStatus(claims, now))
	}

	if withinGrace(m.product, claims, counters, now) {
		renewed, err := m.renew(ctx, act)
		switch {
		case err == nil:
			m.setClaims(renewed)
			return m.settle(Activated, m.licensedStatus(renewed, m.now()))
		case ctx.Err() != nil:
			return m.settle(Cancelled, statusFromError(ctx.Err()))
		case revoked(err):
			m.dropToken(ctx)
			return m.startActivation(ctx, reason, statusFromError(err), nil)
		}
		m.logWarn(ctx, "validate", "renewal failed, using grace period", slog.String("error", err.Error()))
		m.countOfflineLaunch(ctx, counters)
		m.setClaims(claims)
		st := NewStatus(OK, "license expired, running on offline grace period")
		return m.settle(Expiring, st.withExpiry(claims.ExpiresTime(), true))
	}

	m.setClaims(nil)
	cause := NewStatus(LicenseExpired, "license expired and offline grace period exhausted").
		withExpiry(claims.ExpiresTime(), false)
	return m.startActivation(ctx, reason, cause, act)
}

// startActivation asks the host whether to activate, then renews an expired
// activation or signs the user in.
func (m *Manager) startActivation(ctx context.Context, reason string, cause Status, expired *tokenstore.Activation) Status {
	allowed, err := dispatchSync(ctx, m.dispatcher, func() bool {
		if !delegateAlive(m.delegate) {
			return false
		}
		return m.delegate.ShouldStartActivation(cause)
	})
	if err != nil {
		return m.settle(Cancelled, statusFromError(err))
	}

	failState := Failed
	if cause.Result() == LicenseExpired {
		failState = Expired
	}
	if !allowed {
		m.logInfo(ctx, "validate", "activation declined by host", slog.String("cause", cause.Result().String()))
		return m.settle(failState, cause)
	}

	if expired != nil {
		renewed, err := m.renew(ctx, expired)
		switch {
		case err == nil:
			m.setClaims(renewed)
			return m.settle(Activated, m.licensedStatus(renewed, m.now()))
		case ctx.Err() != nil:
			return m.settle(Cancelled, statusFromError(ctx.Err()))
		case retryable(err):
			return m.settle(failState, statusFromError(err))
		case revoked(err):
			m.dropToken(ctx)
		}
		m.logInfo(ctx, "validate", "renewal refused, signing in", slog.String("error", err.Error()))
	}

	return m.signIn(ctx, reason, cause)
}

// signIn presents the sign-in surface and installs the activation the user
// produced there.
func (m *Manager) signIn(ctx context.Context, reason string, cause Status) Status {
	if m.presenter == nil {
		return m.settle(Failed, statusFromError(ErrNoPresenter))
	}

	view, err := dispatchSync(ctx, m.dispatcher, func() any {
		if !delegateAlive(m.delegate) {
			return nil
		}
		return m.delegate.GetContentView()
	})
	if err != nil {
		return m.settle(Cancelled, statusFromError(err))
	}

	if m.tuning.SignInTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.tuning.SignInTimeout)
		defer cancel()
	}

	status := cause
	for attempt := 1; attempt <= maxSignInAttempts; attempt++ {
		req := SignInRequest{
			Reason:      reason,
			ContentView: view,
			URL:         signInURL(m.uiURL, m.product, m.fingerprint, reason),
			OfflineURL:  signInURL(m.offlineUIURL, m.product, m.fingerprint, reason),
			Status:      status,
		}
		m.logInfo(ctx, "sign_in", "presenting", slog.Int("attempt", attempt))
		res, err := m.presenter.Present(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return m.settle(Cancelled, NewStatus(ActivationCancelled, "sign-in aborted: "+ctx.Err().Error()))
			}
			return m.settle(Failed, statusFromError(fmt.Errorf("%w: sign-in surface: %v", ErrInternal, err)))
		}

		var claims *token.Claims
		switch res.Outcome {
		case SignInCancelled:
			return m.settle(Cancelled, NewStatus(ActivationCancelled, "sign-in cancelled by user"))
		case SignInFallback:
			m.notify(func(d Delegate) { d.OnFallback() })
			return m.settle(Cancelled, NewStatus(ActivationCancelled, "fallback activation selected"))
		case SignInLicenseKey:
			claims, err = m.activateKey(ctx, res.LicenseKey)
		case SignInOfflineToken:
			claims, err = m.installToken(ctx, res.Token, "", false)
		default:
			err = fmt.Errorf("%w: unknown sign-in outcome %d", ErrInternal, res.Outcome)
		}
		if err == nil {
			m.setClaims(claims)
			return m.settle(Activated, m.licensedStatus(claims, m.now()))
		}
		if ctx.Err() != nil {
			return m.settle(Cancelled, statusFromError(ctx.Err()))
		}
		status = statusFromError(err)
		if !userCorrectable(err) {
			return m.settle(Failed, status)
		}
		m.logWarn(ctx, "sign_in", "rejected", slog.Int("attempt", attempt), slog.String("error", err.Error()))
	}
	return m.settle(Failed, status)
}

// userCorrectable reports whether the user can fix err by entering a
// different key or token.
func userCorrectable(err error) bool {
	return errors.Is(err, ErrInvalidLicenseKey) ||
		errors.Is(err, ErrSeatLimit) ||
		errors.Is(err, ErrLicenseExpired) ||
		errors.Is(err, token.ErrInvalid) ||
		errors.Is(err, token.ErrExpired)
}

// revoked reports whether the service no longer knows the activation.
func revoked(err error) bool {
	return errors.Is(err, ErrActivationNotFound) || errors.Is(err, ErrDeactivated)
}

func (m *Manager) activateKey(ctx context.Context, key string) (*token.Claims, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty license key", ErrInvalidLicenseKey)
	}
	hostname, _ := os.Hostname()
	resp, err := m.api.Activate(ctx, ActivateRequest{
		LicenseKey:     key,
		ProductID:      m.product.ID,
		ProductVersion: m.product.Version,
		Fingerprint:    m.fingerprint,
		Hostname:       hostname,
		OS:             runtime.GOOS + "/" + runtime.GOARCH,
	})
	if err != nil {
		m.logWarn(ctx, "activate", "license key refused",
			append(secretAttrs("license_key", key), slog.String("error", err.Error()))...)
		return nil, err
	}
	m.logInfo(ctx, "activate", "license key accepted",
		append(secretAttrs("license_key", key), slog.String("activation_id", resp.ActivationID))...)
	return m.installToken(ctx, resp.Token, hashSecret(key), true)
}

// renew exchanges the stored token for a fresh one.
func (m *Manager) renew(ctx context.Context, act *tokenstore.Activation) (*token.Claims, error) {
	resp, err := m.api.Heartbeat(ctx, HeartbeatRequest{
		Token:       act.Token,
		Fingerprint: m.fingerprint,
	})
	if err != nil {
		return nil, err
	}
	return m.installToken(ctx, resp.Token, act.LicenseHash, true)
}

// installToken verifies and persists a token. online marks it as obtained
// from the license service, which resets the grace counters.
func (m *Manager) installToken(ctx context.Context, tokenString, licenseHash string, online bool) (*token.Claims, error) {
	claims, err := m.verify(strings.TrimSpace(tokenString))
	if err != nil {
		return nil, err
	}
	now := m.now()
	if claims.Expired(now) {
		return nil, fmt.Errorf("%w: token expired at %s", ErrLicenseExpired, claims.ExpiresTime().Format(time.RFC3339))
	}

	err = m.store.Save(&tokenstore.Activation{
		Token:        strings.TrimSpace(tokenString),
		ActivationID: claims.ActivationID,
		LicenseHash:  licenseHash,
		SavedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: save token: %v", ErrInternal, err)
	}

	counters := tokenstore.Counters{LastDayOfExpiration: claims.ExpiresTime()}
	if online {
		counters.LastSuccessfulConnect = now
	}
	m.saveCounters(ctx, counters)
	m.logInfo(ctx, "install_token", "activation stored",
		slog.String("activation_id", claims.ActivationID),
		slog.Bool("online", online),
	)
	return claims, nil
}

// verify checks the signature and the product and machine binding of a token.
// Expiry is judged separately against the Manager's clock.
func (m *Manager) verify(tokenString string) (*token.Claims, error) {
	claims, err := token.VerifyLenient(m.publicKey, tokenString)
	if err != nil {
		return nil, err
	}
	if err := claims.Bind(m.product.ID, m.fingerprint); err != nil {
		return nil, err
	}
	return claims, nil
}

// releaseSeat deregisters act with the license service. The request carries
// the fingerprint bound into the token, so a seat taken under an earlier
// machine identity can still be released.
func (m *Manager) releaseSeat(ctx context.Context, act *tokenstore.Activation) error {
	fingerprint := m.fingerprint
	if claims, err := token.VerifyLenient(m.publicKey, act.Token); err == nil && claims.Fingerprint != "" {
		fingerprint = claims.Fingerprint
	}
	return m.api.Deactivate(ctx, DeactivateRequest{
		Token:       act.Token,
		Fingerprint: fingerprint,
	})
}

func (m *Manager) dropToken(ctx context.Context) {
	m.setClaims(nil)
	if err := m.store.Remove(); err != nil {
		m.logError(ctx, "token", "failed to remove token", slog.String("error", err.Error()))
	}
}

func (m *Manager) setClaims(c *token.Claims) {
	m.mu.Lock()
	m.claims = c
	m.mu.Unlock()
}

func (m *Manager) licensedStatus(claims *token.Claims, now time.Time) Status {
	exp := claims.ExpiresTime()
	st := NewStatus(OK, "license active")
	return st.withExpiry(exp, aboutToExpire(m.product, exp, now))
}

// deactivate runs one deactivation. The caller holds the operation lock.
func (m *Manager) deactivate(ctx context.Context) Status {
	prev := m.State()
	if err := m.transition(Deactivating); err != nil {
		return statusFromError(err)
	}

	act, err := m.store.Load()
	if errors.Is(err, tokenstore.ErrCorrupt) {
		// Without a readable token the seat cannot be released remotely.
		m.logWarn(ctx, "deactivate", "stored token unreadable, removing it", slog.String("error", err.Error()))
		if err := m.store.Remove(); err != nil {
			return m.settle(prev, statusFromError(fmt.Errorf("%w: remove token: %v", ErrInternal, err)))
		}
		m.setClaims(nil)
		return m.settle(DeactivatedState, NewStatus(Deactivated, "unreadable activation removed"))
	}
	if err != nil {
		return m.settle(prev, statusFromError(fmt.Errorf("%w: load token: %v", ErrInternal, err)))
	}
	if act == nil {
		m.setClaims(nil)
		return m.settle(DeactivatedState, NewStatus(Deactivated, "no activation on this machine"))
	}

	err = m.releaseSeat(ctx, act)
	if err != nil && !revoked(err) {
		return m.settle(prev, statusFromError(err))
	}

	if err := m.store.Remove(); err != nil {
		return m.settle(prev, statusFromError(fmt.Errorf("%w: remove token: %v", ErrInternal, err)))
	}
	m.setClaims(nil)
	m.logInfo(ctx, "deactivate", "activation released", slog.String("activation_id", act.ActivationID))
	return m.settle(DeactivatedState, NewStatus(Deactivated, "license deactivated"))
}

// notify delivers a delegate callback through the dispatcher, dropping it
// when the delegate is gone.
func (m *Manager) notify(fn func(Delegate)) {
	if !delegateAlive(m.delegate) {
		return
	}
	m.dispatcher.Dispatch(func() {
		if delegateAlive(m.delegate) {
			fn(m.delegate)
		}
	})
}

func (m *Manager) onServerLog(status ServerStatus, severity LogSeverity, message, content string) {
	m.logger.Log(context.Background(), severityLevel(severity), message,
		slog.String("server_status", status.String()),
		slog.String("content", content),
	)
	m.notify(func(d Delegate) { d.OnServerLog(status, severity, message, content) })
}

func (m *Manager) logResult(ctx context.Context, action string, st Status, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("status", st.Result().String()),
		slog.Bool("about_to_expire", st.IsAboutToExpire()),
	)
	switch st.Result() {
	case OK, Deactivated:
		m.logInfo(ctx, action, "finished", attrs...)
	case InternalError:
		m.logError(ctx, action, st.Description(), attrs...)
	default:
		m.logWarn(ctx, action, st.Description(), attrs...)
	}
}
