// Package postgres persists discovery audit records in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strobelight/beacon/internal/discovery"
	"github.com/strobelight/beacon/internal/observability"
	"github.com/strobelight/beacon/internal/schema"
)

// AuditStore records first-seen provider metadata across consumer sessions.
// The registry itself stays in-memory and session scoped; the store is an
// observer for operator auditing only.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore constructs an AuditStore backed by the provided pgx pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

const (
	discoveryUpsertSQL = `
INSERT INTO discoveries (uuid, name, icon, rdns, first_seen, last_seen, announcements)
VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
ON CONFLICT (uuid) DO UPDATE SET
    last_seen = NOW(),
    announcements = discoveries.announcements + 1;
`
	discoveryListSQL = `
SELECT uuid, name, icon, rdns, first_seen, last_seen, announcements
FROM discoveries
ORDER BY first_seen, uuid;
`
)

// Row is one audited discovery.
type Row struct {
	Info          schema.ProviderInfo
	FirstSeen     time.Time
	LastSeen      time.Time
	Announcements int64
}

// RecordDiscovery upserts an audit row for the provider.
func (s *AuditStore) RecordDiscovery(ctx context.Context, info schema.ProviderInfo) error {
	if s.pool == nil {
		return fmt.Errorf("audit store: nil pool")
	}
	if strings.TrimSpace(info.UUID) == "" {
		return fmt.Errorf("audit store: provider uuid required")
	}
	if _, err := s.pool.Exec(ctx, discoveryUpsertSQL, info.UUID, info.Name, info.Icon, info.RDNS); err != nil {
		return fmt.Errorf("upsert discovery %s: %w", info.UUID, err)
	}
	return nil
}

// ListDiscoveries returns all audited discoveries in first-seen order.
func (s *AuditStore) ListDiscoveries(ctx context.Context) ([]Row, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("audit store: nil pool")
	}
	rows, err := s.pool.Query(ctx, discoveryListSQL)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Info.UUID, &row.Info.Name, &row.Info.Icon, &row.Info.RDNS,
			&row.FirstSeen, &row.LastSeen, &row.Announcements); err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discoveries: %w", err)
	}
	return out, nil
}

// Watch subscribes the store to a discovery service so every unique ingest
// is audited. Writes happen off the delivery goroutine; a failed write is
// logged and dropped, never surfaced into the discovery path.
func (s *AuditStore) Watch(ctx context.Context, service *discovery.Service) (func(), error) {
	return service.Subscribe(ctx, func(records []schema.ProviderRecord, _ uint64) {
		if len(records) == 0 {
			return
		}
		// Insertion order is first-seen order, so the newest record is last.
		latest := records[len(records)-1].Info
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.RecordDiscovery(writeCtx, latest); err != nil {
				observability.Log().Error("audit discovery",
					observability.F("uuid", latest.UUID),
					observability.F("error", err))
			}
		}()
	})
}
