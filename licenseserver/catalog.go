package licenseserver

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// License is one entry of the license catalogue.
type License struct {
	Key       string    `yaml:"key" validate:"required"`
	ProductID string    `yaml:"product_id" validate:"required"`
	Plan      string    `yaml:"plan"`
	Licensee  string    `yaml:"licensee"`
	Seats     int       `yaml:"seats" validate:"gte=0"`
	ExpiresAt time.Time `yaml:"expires_at"`
	Features  []string  `yaml:"features"`
	Disabled  bool      `yaml:"disabled"`
}

// Expired reports whether the license has ended at now. A zero ExpiresAt never expires.
func (l License) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

type catalogFile struct {
	Licenses []License `yaml:"licenses" validate:"dive"`
}

// Catalog holds the licenses the service will honour, indexed by key.
type Catalog struct {
	mu     sync.RWMutex
	byKey  map[string]License
	source string
}

// NewCatalog builds a catalogue from licenses. Later duplicates win.
func NewCatalog(licenses ...License) *Catalog {
	c := &Catalog{byKey: make(map[string]License, len(licenses))}
	for _, l := range licenses {
		c.byKey[l.Key] = l
	}
	return c
}

// LoadCatalog reads a YAML catalogue of the form:
//
//	licenses:
//	  - key: DEMO-1234
//	    product_id: demo
//	    plan: pro
//	    seats: 2
//	    expires_at: 2027-01-01T00:00:00Z
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{source: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalogue file the Catalog was loaded from.
func (c *Catalog) Reload() error {
	if c.source == "" {
		return nil
	}
	data, err := os.ReadFile(c.source)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse catalog %s: %w", c.source, err)
	}
	if err := requestValidator.Struct(f); err != nil {
		return fmt.Errorf("invalid catalog %s: %w", c.source, err)
	}
	byKey := make(map[string]License, len(f.Licenses))
	for _, l := range f.Licenses {
		if _, dup := byKey[l.Key]; dup {
			return fmt.Errorf("invalid catalog %s: duplicate key %q", c.source, l.Key)
		}
		byKey[l.Key] = l
	}

	c.mu.Lock()
	c.byKey = byKey
	c.mu.Unlock()
	return nil
}

// Lookup returns the license with the given key.
func (c *Catalog) Lookup(key string) (License, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.byKey[key]
	return l, ok
}

// Keys returns every license key in the catalogue.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	return keys
}

var requestValidator = validator.New(validator.WithRequiredStructEnabled())
