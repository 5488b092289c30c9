// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph provides the Microsoft Graph collaborators for the mail-merge
// pipeline: an OAuth2 device-code authenticator with a file-persisted token
// cache, and a sendMail client.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"
)

// ErrAuthRequired is returned when no valid credentials are available.
// A sending run must abort before any row is processed when it is seen.
var ErrAuthRequired = errors.New("authentication required: sign in via device code first")

// reservedScopes are OpenID Connect scopes that must not be passed to the
// Graph token endpoint as application scopes.
var reservedScopes = map[string]bool{
	"openid":         true,
	"profile":        true,
	"offline_access": true,
}

// Flow statuses reported by the device-code poll endpoint.
const (
	FlowStatusNone    = "none"
	FlowStatusPending = "pending"
	FlowStatusOK      = "ok"
	FlowStatusError   = "error"
)

// FlowStatus describes the state of an in-progress device-code sign-in.
type FlowStatus struct {
	Status          string `json:"status"`
	UserCode        string `json:"user_code,omitempty"`
	VerificationURI string `json:"verification_uri,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

// Authenticator acquires and refreshes Graph access tokens via the OAuth2
// device-code flow. The token is cached on disk so sign-in survives restarts.
type Authenticator struct {
	cfg       oauth2.Config
	cacheFile string

	mu      sync.Mutex
	token   *oauth2.Token
	pending *FlowStatus
}

// NewAuthenticator builds an authenticator for an Azure AD tenant. Reserved
// OIDC scopes are filtered out of the requested scope set. Any cached token
// is loaded; a corrupt cache is ignored.
func NewAuthenticator(tenantID, clientID string, scopes []string, cacheFile string) *Authenticator {
	var cleaned []string
	for _, s := range scopes {
		if s != "" && !reservedScopes[s] {
			cleaned = append(cleaned, s)
		}
	}
	authority := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0", tenantID)

	a := &Authenticator{
		cfg: oauth2.Config{
			ClientID: clientID,
			Scopes:   cleaned,
			Endpoint: oauth2.Endpoint{
				AuthURL:       authority + "/authorize",
				TokenURL:      authority + "/token",
				DeviceAuthURL: authority + "/devicecode",
			},
		},
		cacheFile: cacheFile,
	}
	a.loadCache()
	return a
}

// Token returns a valid access token, refreshing silently when possible.
// Returns ErrAuthRequired when there is nothing to refresh.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	tok := a.token
	a.mu.Unlock()

	if tok == nil {
		return "", ErrAuthRequired
	}
	if tok.Valid() {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", ErrAuthRequired
	}

	fresh, err := a.cfg.TokenSource(ctx, tok).Token()
	if err != nil {
		slog.Warn("token refresh failed", "error", err)
		return "", ErrAuthRequired
	}

	a.mu.Lock()
	a.token = fresh
	a.mu.Unlock()
	a.saveCache(fresh)

	return fresh.AccessToken, nil
}

// StartDeviceFlow begins a device-code sign-in. It returns the user code and
// verification URI to display, and polls the token endpoint in the
// background until the user completes sign-in or the code expires.
func (a *Authenticator) StartDeviceFlow(ctx context.Context) (*FlowStatus, error) {
	if a.cfg.ClientID == "" {
		return nil, fmt.Errorf("no Graph client ID configured")
	}

	da, err := a.cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initiate device flow: %w", err)
	}

	status := &FlowStatus{
		Status:          FlowStatusPending,
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	}
	a.mu.Lock()
	a.pending = status
	a.mu.Unlock()

	go a.pollDeviceFlow(da)

	slog.Info("device code flow started", "verification_uri", da.VerificationURI)
	return status, nil
}

// pollDeviceFlow blocks on the token endpoint until the flow resolves, then
// records the outcome for Status callers.
func (a *Authenticator) pollDeviceFlow(da *oauth2.DeviceAuthResponse) {
	ctx := context.Background()
	if !da.Expiry.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, da.Expiry)
		defer cancel()
	}

	tok, err := a.cfg.DeviceAccessToken(ctx, da)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.pending = &FlowStatus{Status: FlowStatusError, Detail: err.Error()}
		slog.Warn("device code flow failed", "error", err)
		return
	}
	a.token = tok
	a.pending = &FlowStatus{Status: FlowStatusOK}
	a.saveCache(tok)
	slog.Info("device code flow completed, token cached")
}

// Status reports the current sign-in state for the poll endpoint.
func (a *Authenticator) Status() FlowStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		return *a.pending
	}
	if a.token != nil && (a.token.Valid() || a.token.RefreshToken != "") {
		return FlowStatus{Status: FlowStatusOK}
	}
	return FlowStatus{Status: FlowStatusNone}
}

// loadCache reads a previously persisted token. Best effort: a missing or
// corrupt cache leaves the authenticator signed out.
func (a *Authenticator) loadCache() {
	if a.cacheFile == "" {
		return
	}
	data, err := os.ReadFile(a.cacheFile)
	if err != nil {
		return
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		slog.Warn("ignoring corrupt token cache", "file", a.cacheFile)
		return
	}
	a.token = &tok
}

// saveCache persists the token to disk. Best effort. Caller holds the lock
// or has exclusive access to tok.
func (a *Authenticator) saveCache(tok *oauth2.Token) {
	if a.cacheFile == "" {
		return
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return
	}
	if err := os.WriteFile(a.cacheFile, data, 0o600); err != nil {
		slog.Warn("failed to persist token cache", "file", a.cacheFile, "error", err)
	}
}

// Scopes exposes the cleaned scope set (reserved OIDC scopes removed).
func (a *Authenticator) Scopes() []string {
	return a.cfg.Scopes
}
