package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
)

// ErrAuth marks a credential request the venue rejected or answered with a
// malformed body. Callers back off instead of retrying tightly.
var ErrAuth = errors.New("broker: auth failed")

const (
	credKeyAccessToken = "broker:accessToken"
	credKeyApprovalKey = "broker:approvalKey"

	defaultTokenTTL = 24 * time.Hour
)

// AuthProvider issues and caches venue credentials. Tokens live in the
// shared cache so restarts and replicas reuse them instead of burning the
// venue's issue quota.
type AuthProvider struct {
	baseURL   string
	appKey    string
	appSecret string
	creds     port.CredentialCache
	client    *http.Client
}

func NewAuthProvider(baseURL, appKey, appSecret string, creds port.CredentialCache) *AuthProvider {
	return &AuthProvider{
		baseURL:   baseURL,
		appKey:    appKey,
		appSecret: appSecret,
		creds:     creds,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// AccessToken returns the cached REST token, issuing a fresh one when absent.
func (a *AuthProvider) AccessToken(ctx context.Context) (string, error) {
	if tok, err := a.creds.Credential(ctx, credKeyAccessToken); err == nil && tok != "" {
		return tok, nil
	}

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     a.appKey,
		"appsecret":  a.appSecret,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := a.post(ctx, "/oauth2/tokenP", body, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrAuth)
	}

	ttl := defaultTokenTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	if err := a.creds.StoreCredential(ctx, credKeyAccessToken, resp.AccessToken, ttl); err != nil {
		log.Warn().Err(err).Msg("access token cache write failed")
	}
	return resp.AccessToken, nil
}

// ApprovalKey returns the cached websocket approval key, issuing a fresh one
// when absent.
func (a *AuthProvider) ApprovalKey(ctx context.Context) (string, error) {
	if key, err := a.creds.Credential(ctx, credKeyApprovalKey); err == nil && key != "" {
		return key, nil
	}

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     a.appKey,
		"secretkey":  a.appSecret,
	}
	var resp struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := a.post(ctx, "/oauth2/Approval", body, &resp); err != nil {
		return "", err
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("%w: approval response missing approval_key", ErrAuth)
	}

	if err := a.creds.StoreCredential(ctx, credKeyApprovalKey, resp.ApprovalKey, defaultTokenTTL); err != nil {
		log.Warn().Err(err).Msg("approval key cache write failed")
	}
	return resp.ApprovalKey, nil
}

func (a *AuthProvider) post(ctx context.Context, path string, body map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrAuth, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
