// Package session persists the authentication cookies between runs.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-scripts/answerbot/internal/browser"
)

// Jar is the cookie file on disk.
type Jar struct {
	path string
}

// NewJar returns a Jar stored at path.
func NewJar(path string) *Jar {
	return &Jar{path: path}
}

// Path returns the file location.
func (j *Jar) Path() string { return j.path }

// Load reads the cookie file. A missing file yields no cookies.
func (j *Jar) Load() ([]browser.Cookie, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}
	var cookies []browser.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to decode cookie file %s: %w", j.path, err)
	}
	return cookies, nil
}

// Save writes cookies to the file, replacing its content.
func (j *Jar) Save(cookies []browser.Cookie) error {
	if cookies == nil {
		cookies = []browser.Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cookie dir: %w", err)
		}
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return os.Rename(tmp, j.path)
}

// Export copies the live cookies of page into the file.
func (j *Jar) Export(ctx context.Context, page browser.Page) (int, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return 0, err
	}
	return len(cookies), j.Save(cookies)
}

// Restore injects the file's cookies into page. It returns how many were set.
func (j *Jar) Restore(ctx context.Context, page browser.Page) (int, error) {
	cookies, err := j.Load()
	if err != nil || len(cookies) == 0 {
		return 0, err
	}
	if err := page.SetCookies(ctx, cookies); err != nil {
		return 0, err
	}
	return len(cookies), nil
}

// ParseCookieHeader converts a "a=b; c=d" cookie header, as copied from a
// logged-in browser, into cookie records for domain.
func ParseCookieHeader(header, domain string) []browser.Cookie {
	var cookies []browser.Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, browser.Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
		})
	}
	return cookies
}

// HasCookie reports whether cookies contains name with a non-empty value.
func HasCookie(cookies []browser.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}
