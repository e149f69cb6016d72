package isul

// ActivateRequest is the request body for the /v1/activate endpoint.
type ActivateRequest struct {
	LicenseKey     string `json:"license_key"`
	ProductID      string `json:"product_id"`
	ProductVersion string `json:"product_version"`
	Fingerprint    string `json:"fingerprint"`
	Hostname       string `json:"hostname,omitempty"`
	OS             string `json:"os,omitempty"`
}

// ActivateResponse is returned by /v1/activate, wrapped in {data: ...}.
type ActivateResponse struct {
	Token        string `json:"token"`
	ActivationID string `json:"activation_id"`
}

// HeartbeatRequest renews an existing activation (phone home).
type HeartbeatRequest struct {
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
}

// HeartbeatResponse carries the renewed token, wrapped in {data: ...}.
type HeartbeatResponse struct {
	Token string `json:"token"`
}

// DeactivateRequest releases the activation bound to token.
type DeactivateRequest struct {
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
}

// DeactivateResponse confirms a deactivation, wrapped in {data: ...}.
type DeactivateResponse struct {
	Deactivated bool `json:"deactivated"`
}
