package isul

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// LoopbackPresenter shows the sign-in WebUI by handing its URL to Open, for
// example a browser launcher or an embedded web view attached to the content
// view. The WebUI returns the user's choice to a callback served on the
// loopback interface. The sign-in URL carries a random state value that the
// WebUI must echo back; callbacks without it are rejected.
type LoopbackPresenter struct {
	// Open displays url. It must not block until the user is done.
	Open func(ctx context.Context, view any, url string) error
}

// Present implements SignInPresenter.
func (p LoopbackPresenter) Present(ctx context.Context, req SignInRequest) (SignInResult, error) {
	if p.Open == nil {
		return SignInResult{}, errors.New("loopback presenter has no Open function")
	}
	if req.URL == "" {
		return SignInResult{}, errors.New("no sign-in URL")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return SignInResult{}, fmt.Errorf("listen for sign-in callback: %w", err)
	}

	state := uuid.NewString()
	answers := make(chan SignInResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(state)) != 1 {
			http.Error(w, "unknown sign-in session", http.StatusForbidden)
			return
		}
		var res SignInResult
		switch {
		case q.Get("fallback") != "":
			res.Outcome = SignInFallback
		case q.Get("cancel") != "":
			res.Outcome = SignInCancelled
		case q.Get("token") != "":
			res = SignInResult{Outcome: SignInOfflineToken, Token: q.Get("token")}
		case q.Get("license_key") != "":
			res = SignInResult{Outcome: SignInLicenseKey, LicenseKey: q.Get("license_key")}
		default:
			http.Error(w, "missing license key", http.StatusBadRequest)
			return
		}
		select {
		case answers <- res:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("You can return to the application now.\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	u, err := url.Parse(req.URL)
	if err != nil {
		return SignInResult{}, fmt.Errorf("parse sign-in URL: %w", err)
	}
	q := u.Query()
	q.Set("callback", "http://"+ln.Addr().String()+"/callback")
	q.Set("state", state)
	u.RawQuery = q.Encode()

	if err := p.Open(ctx, req.ContentView, u.String()); err != nil {
		return SignInResult{}, fmt.Errorf("open sign-in surface: %w", err)
	}

	select {
	case res := <-answers:
		return res, nil
	case <-ctx.Done():
		return SignInResult{}, ctx.Err()
	}
}
