// ABOUTME: This file manages the source-platform session state
// ABOUTME: Lazily extracts the client code and optional CSRF token from a landing page
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
)

var (
	clientCodePattern    = regexp.MustCompile(`ccd:\s*"([a-f0-9]{64})"`)
	clientCodeAltPattern = regexp.MustCompile(`"ccd":"([a-f0-9]{64})"`)
	clientCodeKeyPattern = regexp.MustCompile(`"?clientCode"?:\s*"([a-f0-9]{64})"`)
)

// Session holds the extracted platform client code and the optional XSRF
// token. Extraction is lazy and serialized; the first caller that needs the
// session fetches the landing page, later callers reuse the result.
type Session struct {
	mu     sync.Mutex
	client *http.Client
	logger *slog.Logger

	clientCode string
	xsrfToken  string
}

func NewSession(client *http.Client, logger *slog.Logger) *Session {
	return &Session{client: client, logger: logger}
}

// Ensure establishes the session from the given landing page if it is not
// established yet.
func (s *Session) Ensure(ctx context.Context, landingURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientCode != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, landingURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create session request: %w", err)
	}
	applyBrowserHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch landing page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, Message: "landing page fetch failed"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read landing page: %w", err)
	}

	code := extractClientCode(string(body))
	if code == "" {
		return ErrNoSession
	}
	s.clientCode = code

	// The API accepts requests without the token, so absence is tolerated.
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "XSRF-TOKEN" {
			s.xsrfToken = cookie.Value
			break
		}
	}

	s.logger.Info("platform session established",
		"has_xsrf_token", s.xsrfToken != "")
	return nil
}

func (s *Session) ClientCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCode
}

func (s *Session) XSRFToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xsrfToken
}

func extractClientCode(html string) string {
	for _, pattern := range []*regexp.Regexp{clientCodePattern, clientCodeAltPattern, clientCodeKeyPattern} {
		if m := pattern.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// applyBrowserHeaders sets the header set the platform expects from a
// browser client.
func applyBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Ch-Ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
}
