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

// Package template provides a Postgres-backed store for per-user email
// templates (named subject/body pairs) with an in-memory read cache that is
// invalidated on every write. The pipeline only ever reads; writes happen
// through explicit user actions outside a run, so reads need no locking
// beyond the cache mutex.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Definition is one named template: subject and body may be empty strings
// but always exist.
type Definition struct {
	Name    string `json:"-"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NotFoundError reports a lookup for a template name that does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

// Store provides CRUD operations for templates in Postgres.
type Store struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]map[string]Definition // user -> name -> definition
}

// NewStore creates a template store backed by the given Postgres pool.
// It ensures the templates table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{
		pool:  pool,
		cache: make(map[string]map[string]Definition),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure template schema: %w", err)
	}
	slog.Info("template store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mail_templates (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			subject    TEXT NOT NULL DEFAULT '',
			body       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_templates_user ON mail_templates(user_id);
	`)
	return err
}

// List returns all templates for a user, keyed by name. The result is served
// from the cache when possible; the first read after a write hits Postgres.
func (s *Store) List(ctx context.Context, user string) (map[string]Definition, error) {
	s.mu.RLock()
	cached, ok := s.cache[user]
	s.mu.RUnlock()
	if ok {
		return copyDefs(cached), nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT name, subject, body
		FROM mail_templates
		WHERE user_id = $1
		ORDER BY name
	`, user)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	defs := make(map[string]Definition)
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.Name, &d.Subject, &d.Body); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		defs[d.Name] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	s.mu.Lock()
	s.cache[user] = defs
	s.mu.Unlock()

	return copyDefs(defs), nil
}

// Get retrieves a single template by name. Returns *NotFoundError when the
// name does not exist for the user.
func (s *Store) Get(ctx context.Context, user, name string) (Definition, error) {
	s.mu.RLock()
	cached, ok := s.cache[user]
	s.mu.RUnlock()
	if ok {
		if d, found := cached[name]; found {
			return d, nil
		}
		return Definition{}, &NotFoundError{Name: name}
	}

	var d Definition
	err := s.pool.QueryRow(ctx, `
		SELECT name, subject, body
		FROM mail_templates
		WHERE user_id = $1 AND name = $2
	`, user, name).Scan(&d.Name, &d.Subject, &d.Body)
	if err == pgx.ErrNoRows {
		return Definition{}, &NotFoundError{Name: name}
	}
	if err != nil {
		return Definition{}, fmt.Errorf("get template: %w", err)
	}
	return d, nil
}

// Save inserts or updates a template keyed on (user, name) and invalidates
// the user's cache.
func (s *Store) Save(ctx context.Context, user string, d Definition) error {
	if d.Name == "" {
		return fmt.Errorf("template name must not be empty")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mail_templates (user_id, name, subject, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE SET
			subject    = EXCLUDED.subject,
			body       = EXCLUDED.body,
			updated_at = NOW()
	`, user, d.Name, d.Subject, d.Body)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}

	s.invalidate(user)
	slog.Info("template saved", "user", user, "template", d.Name)
	return nil
}

// Delete removes a template. Returns *NotFoundError when nothing was deleted.
func (s *Store) Delete(ctx context.Context, user, name string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mail_templates WHERE user_id = $1 AND name = $2
	`, user, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Name: name}
	}

	s.invalidate(user)
	slog.Info("template deleted", "user", user, "template", name)
	return nil
}

// ImportJSON merges templates from a JSON document into the user's set and
// returns how many were imported. Both {name: {subject, body}} and the
// legacy {name: body} format are accepted.
func (s *Store) ImportJSON(ctx context.Context, user string, data []byte) (int, error) {
	defs, err := ParseTemplatesJSON(data)
	if err != nil {
		return 0, err
	}
	for _, d := range defs {
		if err := s.Save(ctx, user, d); err != nil {
			return 0, err
		}
	}
	return len(defs), nil
}

// ExportJSON serialises all of a user's templates as {name: {subject, body}}.
func (s *Store) ExportJSON(ctx context.Context, user string) ([]byte, error) {
	defs, err := s.List(ctx, user)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(defs, "", "  ")
}

// ParseTemplatesJSON decodes a template export document, tolerating the
// legacy body-only value format.
func ParseTemplatesJSON(data []byte) ([]Definition, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates JSON: %w", err)
	}

	var defs []Definition
	for name, value := range raw {
		if name == "" {
			continue
		}
		if isObject(value) {
			d := Definition{Name: name}
			if err := json.Unmarshal(value, &d); err != nil {
				return nil, fmt.Errorf("template %q: %w", name, err)
			}
			defs = append(defs, d)
			continue
		}
		var body string
		if err := json.Unmarshal(value, &body); err != nil {
			return nil, fmt.Errorf("template %q: value is neither object nor string", name)
		}
		defs = append(defs, Definition{Name: name, Body: body})
	}
	return defs, nil
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{'
		}
	}
	return false
}

func (s *Store) invalidate(user string) {
	s.mu.Lock()
	delete(s.cache, user)
	s.mu.Unlock()
}

func copyDefs(in map[string]Definition) map[string]Definition {
	out := make(map[string]Definition, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
