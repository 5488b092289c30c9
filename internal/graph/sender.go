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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bcem/mailmerge/internal/attachpool"
)

// DefaultBaseURL is the Graph API v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// DefaultSendTimeout bounds a single sendMail call. A timeout is a per-row
// failure, not a batch-wide abort.
const DefaultSendTimeout = 15 * time.Second

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// Attachment is a Graph fileAttachment object with base64 content.
type Attachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// FileAttachment reads a pool descriptor's content from disk and encodes it
// as a Graph attachment.
func FileAttachment(fd attachpool.FileDescriptor) (Attachment, error) {
	data, err := os.ReadFile(fd.Path)
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment %s: %w", fd.Name, err)
	}
	ctype := fd.ContentType
	if ctype == "" {
		ctype = attachpool.DefaultContentType
	}
	return Attachment{
		ODataType:    fileAttachmentType,
		Name:         fd.Name,
		ContentType:  ctype,
		ContentBytes: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Message is one outgoing personalized email.
type Message struct {
	To          string
	CC          []string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

type emailAddress struct {
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	Subject      string       `json:"subject"`
	Body         itemBody     `json:"body"`
	ToRecipients []recipient  `json:"toRecipients"`
	CcRecipients []recipient  `json:"ccRecipients,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

// TokenProvider supplies a valid bearer token or ErrAuthRequired.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Sender delivers messages through the Graph sendMail endpoint.
type Sender struct {
	tokens     TokenProvider
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

// NewSender creates a sendMail client. Zero timeout selects the default.
func NewSender(tokens TokenProvider, baseURL string, timeout time.Duration) *Sender {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Sender{
		tokens:     tokens,
		httpClient: &http.Client{},
		baseURL:    baseURL,
		timeout:    timeout,
	}
}

// Ready probes credentials up front so a sending run can abort before any
// row is processed. Returns ErrAuthRequired when sign-in is needed.
func (s *Sender) Ready(ctx context.Context) error {
	_, err := s.tokens.Token(ctx)
	return err
}

// Send delivers a single message, bounded by the configured timeout.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	payload := sendMailRequest{
		Message: graphMessage{
			Subject:      msg.Subject,
			Body:         itemBody{ContentType: "HTML", Content: msg.HTMLBody},
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: msg.To}}},
			Attachments:  msg.Attachments,
		},
		SaveToSentItems: true,
	}
	for _, cc := range msg.CC {
		payload.Message.CcRecipients = append(payload.Message.CcRecipients,
			recipient{EmailAddress: emailAddress{Address: cc}})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sendMail payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/me/sendMail", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendMail to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("graph API returned HTTP %d: %w", resp.StatusCode, ErrAuthRequired)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph API returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
