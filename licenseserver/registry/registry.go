// Package registry records license activations so the license service can
// enforce seat limits and revoke machines.
package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an activation does not exist.
var ErrNotFound = errors.New("activation not found")

// Activation is one machine activated under a license key.
type Activation struct {
	ID          string    `json:"id" bson:"_id"`
	LicenseKey  string    `json:"license_key" bson:"license_key"`
	ProductID   string    `json:"product_id" bson:"product_id"`
	Fingerprint string    `json:"fingerprint" bson:"fingerprint"`
	Hostname    string    `json:"hostname" bson:"hostname"`
	OS          string    `json:"os" bson:"os"`
	ActivatedAt time.Time `json:"activated_at" bson:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at" bson:"last_seen_at"`
}

// Registry stores activations.
type Registry interface {
	// Register creates or refreshes an activation (upsert by license key and
	// fingerprint). An existing activation keeps its ID and ActivatedAt.
	Register(ctx context.Context, a Activation) (*Activation, error)

	// Get returns the activation with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Activation, error)

	// Deregister removes an activation. It returns ErrNotFound if it does not exist.
	Deregister(ctx context.Context, id string) error

	// Count returns the number of activations for a license key.
	Count(ctx context.Context, licenseKey string) (int, error)

	// List returns all activations for a license key, oldest first.
	List(ctx context.Context, licenseKey string) ([]Activation, error)

	// Ping updates the last_seen_at timestamp of an activation.
	Ping(ctx context.Context, id string) error

	// Prune removes activations that haven't been seen since olderThan.
	// Returns the number of activations removed.
	Prune(ctx context.Context, licenseKey string, olderThan time.Duration) (int, error)

	// Close releases any resources held by the registry.
	Close(ctx context.Context) error
}
