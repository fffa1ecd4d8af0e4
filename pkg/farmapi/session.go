package farmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

const tokenPath = "/api/tokens"

// Credentials are the account credentials exchanged for a bearer token.
type Credentials struct {
	Email    string
	Password string
}

// Session owns the bearer token shared by every call a Client makes.
//
// The token is replaced wholesale on refresh and carries no version, so two
// callers that both see a 401 may each refresh. That costs an extra token
// request but never leaves the session in a bad state.
type Session struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client

	mu     sync.RWMutex
	token  string
	device string

	// onRefresh is called after every token request with its outcome.
	onRefresh func(ok bool)
}

// NewSession creates a session against baseURL. No token is requested until
// the first call needs one.
func NewSession(baseURL string, creds Credentials, httpClient *http.Client) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Session{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: httpClient,
	}
}

// Token returns the cached token, fetching one first if the session is empty.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return s.Refresh(ctx)
}

// Device returns the device name reported with the last token.
func (s *Session) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// Refresh requests a new token and replaces the cached one.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	token, device, err := s.requestToken(ctx)
	if s.onRefresh != nil {
		s.onRefresh(err == nil)
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.token = token
	s.device = device
	s.mu.Unlock()
	return token, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *Session) requestToken(ctx context.Context) (string, string, error) {
	var body tokenRequest
	body.User.Email = s.creds.Email
	body.User.Password = s.creds.Password
	payload, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return "", "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", "", &APIError{
			Method:     http.MethodPost,
			Path:       tokenPath,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var out tokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token.Encoded == "" {
		return "", "", fmt.Errorf("token response carried no token")
	}
	return out.Token.Encoded, out.Token.Unencoded.Bot, nil
}
