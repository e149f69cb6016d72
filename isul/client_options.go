package isul

import (
	"net/http"
	"time"
)

// ClientOption configures an APIClient.
type ClientOption func(*APIClient)

// WithHTTPClient sets a custom HTTP client for the APIClient.
// The client's Timeout will be overridden by WithTimeout (or the tuning default).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *APIClient) {
		o.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
// Option ordering does not matter: timeout is always applied after all options.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *APIClient) {
		o.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent with requests.
func WithUserAgent(ua string) ClientOption {
	return func(o *APIClient) {
		o.userAgent = ua
	}
}

// WithClientTuning sets retry and circuit breaker parameters.
// The request timeout from t is used unless WithTimeout is also given.
func WithClientTuning(t Tuning) ClientOption {
	return func(o *APIClient) {
		if o.timeout == o.tuning.RequestTimeout {
			o.timeout = t.RequestTimeout
		}
		o.tuning = t
	}
}

// WithProductID sets the X-Product-Id header sent with requests.
func WithProductID(id string) ClientOption {
	return func(o *APIClient) {
		o.productID = id
	}
}

// WithServerLog installs an observer for request and response traffic.
func WithServerLog(fn ServerLogFunc) ClientOption {
	return func(o *APIClient) {
		o.serverLog = fn
	}
}
