package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sasta-kro/tmpool/models"
)

// RecordEvent appends one lifecycle event to the journal. the journal is
// best-effort observability: a failed insert is logged and swallowed so a
// sick disk can never take the pool down with it. callers therefore get no
// error back.
func (database *Database) RecordEvent(event models.PoolEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := database.connection.Exec(
		`INSERT INTO pool_events (id, container_id, path, event, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.ContainerID,
		event.Path,
		string(event.Event),
		event.Detail,
		event.CreatedAt,
	)
	if err != nil {
		database.logger.Error("failed to record pool event",
			"event", event.Event,
			"container_id", event.ContainerID,
			"error", err,
		)
	}
}

// ListEvents returns the newest `limit` journal rows, newest first.
func (database *Database) ListEvents(limit int) ([]models.PoolEvent, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := database.connection.Query(
		`SELECT id, container_id, path, event, detail, created_at
		 FROM pool_events
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool events: %w", err)
	}
	defer rows.Close()

	var events []models.PoolEvent
	for rows.Next() {
		var event models.PoolEvent
		var eventName string
		if err := rows.Scan(
			&event.ID,
			&event.ContainerID,
			&event.Path,
			&eventName,
			&event.Detail,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pool event: %w", err)
		}
		event.Event = models.ContainerStatus(eventName)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pool events: %w", err)
	}
	return events, nil
}
