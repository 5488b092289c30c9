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

package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bcem/mailmerge/internal/attachpool"
	"golang.org/x/oauth2"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return s.token, s.err
}

// TestSender_Send verifies the wire payload shape and auth header.
func TestSender_Send(t *testing.T) {
	var captured sendMailRequest
	var gotAuth, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("payload is not valid JSON: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSender(staticTokens{token: "tok123"}, srv.URL, 0)
	err := s.Send(context.Background(), Message{
		To:       "a@example.com",
		CC:       []string{"b@example.com", "c@example.com"},
		Subject:  "Hello Alice",
		HTMLBody: "Dear Alice,<br>your score is 95.",
		Attachments: []Attachment{{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         "report.pdf",
			ContentType:  "application/pdf",
			ContentBytes: "aGk=",
		}},
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/me/sendMail" {
		t.Errorf("path = %q", gotPath)
	}
	if !captured.SaveToSentItems {
		t.Error("saveToSentItems = false, want true")
	}
	m := captured.Message
	if m.Subject != "Hello Alice" {
		t.Errorf("subject = %q", m.Subject)
	}
	if m.Body.ContentType != "HTML" || m.Body.Content != "Dear Alice,<br>your score is 95." {
		t.Errorf("body = %+v", m.Body)
	}
	if len(m.ToRecipients) != 1 || m.ToRecipients[0].EmailAddress.Address != "a@example.com" {
		t.Errorf("toRecipients = %+v", m.ToRecipients)
	}
	if len(m.CcRecipients) != 2 || m.CcRecipients[1].EmailAddress.Address != "c@example.com" {
		t.Errorf("ccRecipients = %+v", m.CcRecipients)
	}
	if len(m.Attachments) != 1 || m.Attachments[0].Name != "report.pdf" {
		t.Errorf("attachments = %+v", m.Attachments)
	}
}

// TestSender_SendUnauthorized verifies 401 responses surface as
// ErrAuthRequired so a batch can abort before further rows.
func TestSender_SendUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSender(staticTokens{token: "expired"}, srv.URL, 0)
	err := s.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
}

// TestSender_SendServerError verifies non-2xx responses include the status
// and a body snippet.
func TestSender_SendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":"InvalidRecipients"}}`)
	}))
	defer srv.Close()

	s := NewSender(staticTokens{token: "tok"}, srv.URL, 0)
	err := s.Send(context.Background(), Message{To: "broken"})
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if errors.Is(err, ErrAuthRequired) {
		t.Error("400 must not map to ErrAuthRequired")
	}
}

// TestSender_SendTimeout verifies a stalled server trips the per-call
// timeout instead of hanging the batch.
func TestSender_SendTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	s := NewSender(staticTokens{token: "tok"}, srv.URL, 50*time.Millisecond)
	start := time.Now()
	err := s.Send(context.Background(), Message{To: "a@example.com"})
	if err == nil {
		t.Fatal("expected timeout error, got none")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout took too long to fire")
	}
}

// TestSender_Ready verifies the pre-flight credential probe.
func TestSender_Ready(t *testing.T) {
	s := NewSender(staticTokens{err: ErrAuthRequired}, "", 0)
	if err := s.Ready(context.Background()); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("Ready() = %v, want ErrAuthRequired", err)
	}

	s = NewSender(staticTokens{token: "tok"}, "", 0)
	if err := s.Ready(context.Background()); err != nil {
		t.Errorf("Ready() = %v, want nil", err)
	}
}

// TestFileAttachment verifies content is read from disk and base64-encoded.
func TestFileAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	att, err := FileAttachment(attachpool.FileDescriptor{
		Name:        "notes.txt",
		Path:        path,
		ContentType: "text/plain",
	})
	if err != nil {
		t.Fatalf("FileAttachment() error: %v", err)
	}
	if att.ODataType != "#microsoft.graph.fileAttachment" {
		t.Errorf("ODataType = %q", att.ODataType)
	}
	if att.ContentType != "text/plain" {
		t.Errorf("ContentType = %q", att.ContentType)
	}
	decoded, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil || string(decoded) != "hello world" {
		t.Errorf("content round-trip = %q, %v", decoded, err)
	}

	if _, err := FileAttachment(attachpool.FileDescriptor{Name: "gone", Path: filepath.Join(dir, "gone")}); err == nil {
		t.Error("expected error for missing file")
	}
}

// TestNewAuthenticator_ScopeFiltering verifies reserved OIDC scopes are
// stripped from the configured set.
func TestNewAuthenticator_ScopeFiltering(t *testing.T) {
	a := NewAuthenticator("tenant", "client",
		[]string{"Mail.Send", "openid", "profile", "offline_access", "", "User.Read"}, "")

	got := a.Scopes()
	want := []string{"Mail.Send", "User.Read"}
	if len(got) != len(want) {
		t.Fatalf("Scopes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Scopes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestAuthenticator_TokenCache verifies a cached token survives a restart
// and an unauthenticated instance reports ErrAuthRequired.
func TestAuthenticator_TokenCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "token.json")

	tok := oauth2.Token{
		AccessToken: "cached-token",
		Expiry:      time.Now().Add(time.Hour),
	}
	data, _ := json.Marshal(tok)
	if err := os.WriteFile(cache, data, 0o600); err != nil {
		t.Fatal(err)
	}

	a := NewAuthenticator("tenant", "client", []string{"Mail.Send"}, cache)
	got, err := a.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	if got != "cached-token" {
		t.Errorf("Token() = %q", got)
	}
	if st := a.Status(); st.Status != FlowStatusOK {
		t.Errorf("Status() = %+v, want ok", st)
	}

	fresh := NewAuthenticator("tenant", "client", []string{"Mail.Send"}, filepath.Join(t.TempDir(), "none.json"))
	if _, err := fresh.Token(context.Background()); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("Token() = %v, want ErrAuthRequired", err)
	}
	if st := fresh.Status(); st.Status != FlowStatusNone {
		t.Errorf("Status() = %+v, want none", st)
	}
}

// TestAuthenticator_CorruptCache verifies a corrupt cache file is ignored.
func TestAuthenticator_CorruptCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(cache, []byte("{{{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	a := NewAuthenticator("tenant", "client", nil, cache)
	if _, err := a.Token(context.Background()); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("Token() = %v, want ErrAuthRequired", err)
	}
}
