package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// AllowedSchemes is the whitelist of allowed URI schemes
var AllowedSchemes = []string{"https", "http", "s3", "gs", "azure", "file"}

// Storage is the interface every backend implements. It covers the blob
// movement a movie run needs: reading/writing artefact payloads, checking
// for their presence, and resolving a movie's storage root plus a relative
// path into the backend's own URI form.
type Storage interface {
	// Get downloads a file from the given URI and returns a reader
	Get(ctx context.Context, uri string) (io.ReadCloser, error)

	// Put uploads data to the given URI
	Put(ctx context.Context, uri string, data io.Reader) error

	// Delete removes a file at the given URI
	Delete(ctx context.Context, uri string) error

	// Exists checks if a file exists at the given URI
	Exists(ctx context.Context, uri string) (bool, error)

	// Resolve joins a storage root URI with path segments beneath it,
	// returning a URI in this backend's own scheme. It does no I/O.
	Resolve(root string, parts ...string) (string, error)
}

// TemporaryURLer is implemented by backends that can mint a time-limited
// public URL for an object (cloud object stores). Local and HTTP-read-only
// backends don't implement it; callers type-assert for it.
type TemporaryURLer interface {
	TemporaryURL(ctx context.Context, uri string, ttl time.Duration) (string, error)
}

// ParseURI parses a URI and returns scheme and path
func ParseURI(uri string) (scheme string, path string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("URI cannot be empty")
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid URI: %w", err)
	}

	if parsed.Scheme == "" {
		return "", "", fmt.Errorf("URI must have a scheme (e.g., https://, s3://)")
	}

	// For file:// URIs, use the full path
	if parsed.Scheme == "file" {
		return parsed.Scheme, parsed.Path, nil
	}

	// For other URIs (s3://, https://, etc.), combine host and path
	path = parsed.Host
	if parsed.Path != "" {
		path = path + parsed.Path
	}

	return parsed.Scheme, path, nil
}

// resolveJoin appends path segments onto a root URI. Scheme validation is
// the caller's job; this just normalizes separators.
func resolveJoin(root string, parts ...string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("storage root cannot be empty")
	}
	joined := strings.TrimRight(root, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		joined = joined + "/" + p
	}
	return joined, nil
}

// IsAllowedScheme checks if a URI scheme is in the whitelist
func IsAllowedScheme(scheme string) bool {
	for _, allowed := range AllowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}
