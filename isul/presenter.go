package isul

import (
	"context"
	"net/url"
)

// SignInOutcome says how the user left the sign-in surface.
type SignInOutcome int

const (
	// SignInLicenseKey means the user entered a license key to activate online.
	SignInLicenseKey SignInOutcome = iota
	// SignInOfflineToken means the user pasted a token issued by the offline WebUI.
	SignInOfflineToken
	// SignInCancelled means the user closed the surface.
	SignInCancelled
	// SignInFallback means the user chose the host's legacy activation method.
	SignInFallback
)

// SignInRequest describes one presentation of the sign-in surface.
type SignInRequest struct {
	// Reason is the opaque UI context passed to Validate.
	Reason string
	// ContentView is the container returned by Delegate.GetContentView.
	ContentView any
	// URL is the WebUI address, with product and machine parameters.
	URL string
	// OfflineURL is the offline activation WebUI address, empty when not configured.
	OfflineURL string
	// Status explains why activation is required.
	Status Status
}

// SignInResult is what the user produced in the sign-in surface.
type SignInResult struct {
	Outcome    SignInOutcome
	LicenseKey string
	Token      string
}

// SignInPresenter renders the sign-in WebUI into the host's content view and
// blocks until the user finishes or ctx is done. Presenters are called from a
// Manager goroutine and must marshal to the UI thread themselves.
type SignInPresenter interface {
	Present(ctx context.Context, req SignInRequest) (SignInResult, error)
}

// PresenterFunc adapts a function to SignInPresenter.
type PresenterFunc func(ctx context.Context, req SignInRequest) (SignInResult, error)

func (f PresenterFunc) Present(ctx context.Context, req SignInRequest) (SignInResult, error) {
	return f(ctx, req)
}

// signInURL appends the product and machine parameters the WebUI needs.
func signInURL(base string, product ProductInfo, fingerprint, reason string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("product_id", product.ID)
	q.Set("product_version", product.Version)
	q.Set("fingerprint", fingerprint)
	if reason != "" {
		q.Set("reason", reason)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
