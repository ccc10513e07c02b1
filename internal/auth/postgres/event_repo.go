// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/store"
)

// EventRepository implements auth.EventRepository using PostgreSQL.
type EventRepository struct {
	db Executor
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db Executor) *EventRepository {
	return &EventRepository{db: db}
}

// Append stores a security event.
func (r *EventRepository) Append(ctx context.Context, e *auth.SecurityEvent) error {
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return oops.Code("EVENT_APPEND_FAILED").
			With("operation", "marshal detail").
			Wrap(err)
	}

	var accountID *string
	if e.AccountID != nil {
		s := e.AccountID.String()
		accountID = &s
	}

	err = r.db.Execute(ctx, "insert security event", func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO security_events (id, kind, account_id, detail, ip_address, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			e.ID.String(),
			string(e.Kind),
			accountID,
			detailJSON,
			e.IPAddress,
			e.CreatedAt,
		)
		return err
	})
	if err != nil {
		return oops.Code("EVENT_APPEND_FAILED").
			With("operation", "insert security event").
			With("kind", string(e.Kind)).
			Wrap(err)
	}
	return nil
}

// DeleteOlderThan removes events created before cutoff.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := r.db.Execute(ctx, "delete old security events", func(ctx context.Context, q store.Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, oops.Code("EVENT_DELETE_FAILED").
			With("operation", "delete old security events").
			Wrap(err)
	}
	return affected, nil
}
