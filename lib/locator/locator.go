// Package locator resolves where the packaged adapter archive lives.
package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no archive could be located.
var ErrNotFound = errors.New("adapter archive not found")

// Locator resolves the address of the adapter archive.
type Locator interface {
	Locate(ctx context.Context) (*url.URL, error)
}

// Func adapts a function to Locator.
type Func func(ctx context.Context) (*url.URL, error)

func (f Func) Locate(ctx context.Context) (*url.URL, error) {
	return f(ctx)
}

// Parse turns a filesystem path or an absolute URL into a URL.
func Parse(location string) (*url.URL, error) {
	if location == "" {
		return nil, fmt.Errorf("empty archive location: %w", ErrNotFound)
	}
	if u, err := url.Parse(location); err == nil && len(u.Scheme) > 1 {
		return u, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive path %s: %w", location, err)
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}

// Static always resolves to the same location.
type Static string

func (s Static) Locate(ctx context.Context) (*url.URL, error) {
	return Parse(string(s))
}

// Env resolves the location held by an environment variable.
type Env string

func (e Env) Locate(ctx context.Context) (*url.URL, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || v == "" {
		return nil, fmt.Errorf("environment variable %s is not set: %w", string(e), ErrNotFound)
	}
	return Parse(v)
}

// Search looks for Name in each of Dirs, in order.
type Search struct {
	Dirs []string
	Name string
}

func (s Search) Locate(ctx context.Context) (*url.URL, error) {
	for _, dir := range s.Dirs {
		candidate := filepath.Join(dir, s.Name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return Parse(candidate)
	}
	return nil, fmt.Errorf("%s not present in %s: %w", s.Name, strings.Join(s.Dirs, ", "), ErrNotFound)
}

// First tries each locator in turn and returns the first success.
func First(locators ...Locator) Locator {
	return Func(func(ctx context.Context) (*url.URL, error) {
		var errs []error
		for _, l := range locators {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			u, err := l.Locate(ctx)
			if err == nil {
				return u, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, ErrNotFound
		}
		return nil, errors.Join(errs...)
	})
}

// Open opens the content at u. file, http and https locations are supported.
func Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	switch u.Scheme {
	case "file", "":
		f, err := os.Open(filepath.FromSlash(u.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open archive %s: %w", u, err)
		}
		return f, nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download archive %s: %w", u.Redacted(), err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("failed to download archive %s: status %d", u.Redacted(), resp.StatusCode)
		}
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("unsupported archive location scheme %q", u.Scheme)
	}
}
