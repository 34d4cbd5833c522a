package worker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Strategy is the resolution order for one request class.
type Strategy string

const (
	// NetworkFirst fetches first and falls back to the cache on failure.
	NetworkFirst Strategy = "network-first"

	// CacheFirst answers from the cache and only fetches on a miss.
	CacheFirst Strategy = "cache-first"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case NetworkFirst, CacheFirst:
		*s = v
		return nil
	default:
		return fmt.Errorf("unknown strategy %q (want %s or %s)", text, NetworkFirst, CacheFirst)
	}
}

// FallbackPolicy selects the last-resort response when both the network
// and the cache fail.
type FallbackPolicy string

const (
	// FallbackOfflinePage serves the cached offline page for any request.
	FallbackOfflinePage FallbackPolicy = "offline-page"

	// FallbackRootDocument serves the cached root document, for navigations only.
	FallbackRootDocument FallbackPolicy = "root-document"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *FallbackPolicy) UnmarshalText(text []byte) error {
	switch v := FallbackPolicy(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case FallbackOfflinePage, FallbackRootDocument:
		*p = v
		return nil
	default:
		return fmt.Errorf("unknown fallback policy %q (want %s or %s)", text, FallbackOfflinePage, FallbackRootDocument)
	}
}

// Variant names one of the two deployed policy combinations.
type Variant string

const (
	// VariantNetworkFirstNavigation refreshes documents from the network,
	// serves assets cache-first and falls back to the offline page.
	VariantNetworkFirstNavigation Variant = "network-first-navigation"

	// VariantCacheFirst serves everything cache-first and falls back to
	// the root document for navigations.
	VariantCacheFirst Variant = "cache-first"
)

// Apply sets the strategies and fallback policy of cfg to the variant.
func (v Variant) Apply(cfg Config) (Config, error) {
	switch v {
	case VariantNetworkFirstNavigation:
		cfg.Navigation = NetworkFirst
		cfg.Assets = CacheFirst
		cfg.Fallback = FallbackOfflinePage
	case VariantCacheFirst:
		cfg.Navigation = CacheFirst
		cfg.Assets = CacheFirst
		cfg.Fallback = FallbackRootDocument
	default:
		return cfg, fmt.Errorf("unknown variant %q", v)
	}
	return cfg, nil
}

// Config is the immutable policy of one controller version.
type Config struct {
	// Version names the current cache partition; bump it to rotate the cache
	Version string

	// Scope is the origin the manifest and fallback paths resolve against
	Scope *url.URL

	// Manifest lists the paths pre-cached at install time
	Manifest []string

	// OfflinePath is served by FallbackOfflinePage
	OfflinePath string

	// RootPath is served by FallbackRootDocument
	RootPath string

	// Navigation is the strategy for navigate-mode requests
	Navigation Strategy

	// Assets is the strategy for every other request
	Assets Strategy

	// Fallback has no default and must be chosen explicitly
	Fallback FallbackPolicy

	// PrecacheConcurrency bounds parallel manifest fetches (0 uses the default)
	PrecacheConcurrency int

	// WaitForClients disables skip-waiting and client claim, so a new
	// version only takes over once the host activates it and pages reload
	WaitForClients bool
}

// DefaultManifest returns the manifest of the original deployment. Each
// call returns a fresh slice.
func DefaultManifest() []string {
	return []string{
		"/",
		"/index.html",
		"/offline.html",
		"/favicon.svg",
		"/og-image.svg",
		"/manifest.json",
	}
}

// Validate checks that the configuration is complete.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if c.Scope == nil || !c.Scope.IsAbs() {
		errs = append(errs, errors.New("absolute scope url is required"))
	}
	for _, s := range []Strategy{c.Navigation, c.Assets} {
		if s != NetworkFirst && s != CacheFirst {
			errs = append(errs, fmt.Errorf("invalid strategy %q", s))
		}
	}
	switch c.Fallback {
	case FallbackOfflinePage:
		if c.OfflinePath == "" {
			errs = append(errs, errors.New("offline path is required for offline-page fallback"))
		}
	case FallbackRootDocument:
		if c.RootPath == "" {
			errs = append(errs, errors.New("root path is required for root-document fallback"))
		}
	case "":
		errs = append(errs, errors.New("fallback policy must be chosen explicitly"))
	default:
		errs = append(errs, fmt.Errorf("invalid fallback policy %q", c.Fallback))
	}
	if c.PrecacheConcurrency < 0 {
		errs = append(errs, errors.New("precache concurrency must not be negative"))
	}

	return errors.Join(errs...)
}

// fallbackPath returns the path served by the configured fallback policy.
func (c Config) fallbackPath() string {
	if c.Fallback == FallbackRootDocument {
		return c.RootPath
	}
	return c.OfflinePath
}

// clone returns a deep copy so callers cannot mutate a running controller.
func (c Config) clone() Config {
	out := c
	out.Manifest = append([]string(nil), c.Manifest...)
	if c.Scope != nil {
		scope := *c.Scope
		out.Scope = &scope
	}
	return out
}
