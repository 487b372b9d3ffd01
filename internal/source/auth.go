package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Session obtains and caches a bearer token via the API's local-provider
// login. An empty email disables authentication entirely.
type Session struct {
	BaseURL  string
	Email    string
	Password string
	HTTP     *http.Client

	mu    sync.Mutex
	token string
}

func NewSession(baseURL, email, password string, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Session{
		BaseURL:  baseURL,
		Email:    email,
		Password: password,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Email == "" || s.token != "" {
		return s.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"provider": "local",
		"email":    s.Email,
		"password": s.Password,
	})
	if err != nil {
		return "", fmt.Errorf("encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/auth/login/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("login: status %d: %s", resp.StatusCode, raw)
	}

	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if env.Data.Token == "" {
		return "", fmt.Errorf("login answered without a token")
	}

	s.token = env.Data.Token
	log.Info().Str("email", s.Email).Msg("source API session established")
	return s.token, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}
