package licenseserver

import (
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var pages = template.Must(template.New("signin").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Activate {{.ProductID}}</title></head>
<body>
<h1>Activate {{.ProductID}} {{.ProductVersion}}</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Token}}
<p>Copy this activation token into the application:</p>
<textarea readonly rows="8" cols="80">{{.Token}}</textarea>
{{else}}
<form method="{{.Method}}" action="{{.Action}}">
  <input type="hidden" name="product_id" value="{{.ProductID}}">
  <input type="hidden" name="fingerprint" value="{{.Fingerprint}}">
  {{if .State}}<input type="hidden" name="state" value="{{.State}}">{{end}}
  <label>License key <input name="license_key" autofocus></label>
  <button type="submit">Activate</button>
  <button type="submit" name="fallback" value="1">Use another method</button>
</form>
{{end}}
</body></html>
`))

type pageData struct {
	ProductID      string
	ProductVersion string
	Fingerprint    string
	State          string
	Method         string
	Action         string
	Error          string
	Token          string
}

// handleSignInPage renders the online sign-in form. The form submits the
// license key to the loopback callback of the desktop presenter, which then
// activates through the API.
func (s *Server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callback := q.Get("callback")
	if !loopbackURL(callback) {
		http.Error(w, "callback must be a loopback http URL", http.StatusBadRequest)
		return
	}
	s.renderPage(w, http.StatusOK, pageData{
		ProductID:      q.Get("product_id"),
		ProductVersion: q.Get("product_version"),
		Fingerprint:    q.Get("fingerprint"),
		State:          q.Get("state"),
		Method:         http.MethodGet,
		Action:         callback,
	})
}

// handleOfflinePage renders the offline activation form. It is opened on any
// networked device; the resulting token is typed into the offline machine.
func (s *Server) handleOfflinePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.renderPage(w, http.StatusOK, pageData{
		ProductID:      q.Get("product_id"),
		ProductVersion: q.Get("product_version"),
		Fingerprint:    q.Get("fingerprint"),
		Method:         http.MethodPost,
		Action:         "/offline",
	})
}

func (s *Server) handleOfflineActivate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := activateRequest{
		LicenseKey:  strings.TrimSpace(r.PostForm.Get("license_key")),
		ProductID:   r.PostForm.Get("product_id"),
		Fingerprint: r.PostForm.Get("fingerprint"),
		OS:          "offline",
	}
	data := pageData{
		ProductID:   req.ProductID,
		Fingerprint: req.Fingerprint,
		Method:      http.MethodPost,
		Action:      "/offline",
	}
	if err := requestValidator.Struct(req); err != nil {
		data.Error = "license key, product and machine fingerprint are required"
		s.renderPage(w, http.StatusBadRequest, data)
		return
	}
	signed, _, aerr := s.activate(r.Context(), req)
	if aerr != nil {
		data.Error = aerr.Message
		s.renderPage(w, aerr.Status, data)
		return
	}
	data.Token = signed
	s.renderPage(w, http.StatusOK, data)
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.Execute(w, data); err != nil {
		s.logger.Error("Failed to render page", "error", err)
	}
}

func loopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
