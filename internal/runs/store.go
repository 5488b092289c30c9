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

// Package runs retains finished pipeline runs in Redis so the outcome
// report stays downloadable for a while after the run response.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailmerge/internal/models"
)

// DefaultTTL is how long a finished run stays downloadable.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "mailmerge:result:"

// NotFoundError reports a run ID that is unknown or already expired.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("run %q not found or expired", e.RunID)
}

// Store retains run summaries in Redis with a TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a run store. A zero TTL selects the default.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Save persists a finished run summary under its run ID.
func (s *Store) Save(ctx context.Context, summary *models.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+summary.RunID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET run %s: %w", summary.RunID, err)
	}

	slog.Info("run retained",
		"run_id", summary.RunID,
		"user", summary.User,
		"rows", summary.TotalRows,
		"ttl", s.ttl,
	)
	return nil
}

// Get loads a retained run. Returns *NotFoundError when the ID is unknown
// or the retention window has passed.
func (s *Store) Get(ctx context.Context, runID string) (*models.RunSummary, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+runID).Bytes()
	if err == redis.Nil {
		return nil, &NotFoundError{RunID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET run %s: %w", runID, err)
	}

	var summary models.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return &summary, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
