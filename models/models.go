// Package models defines the data structures shared across the application.
// this package has no imports from other internal packages, making it the
// foundation of the dependency graph. other packages (pool, db, handlers,
// docker) import from models and never the other way around.
package models

import "time"

/*
ContainerStatus is a string under the hood, but giving it its own type
means the Go compiler will reject `event.Event = "typo"` if "typo" is not
one of the declared constants. Plain string fields give no such protection.
*/

// ContainerStatus represents one step of a pooled container's lifecycle.
// the pool itself tracks containers positionally (queued, handed out, gone);
// these constants exist for the event journal and for log output, where the
// step a container reached is the interesting fact.
type ContainerStatus string

const (
	// StatusCreated means the daemon accepted the create call and an id is known
	StatusCreated ContainerStatus = "created"

	// StatusRouted means the proxy holds a route for the container's path
	StatusRouted ContainerStatus = "routed"

	// StatusReady means the upstream answered (or the readiness window elapsed)
	StatusReady ContainerStatus = "ready"

	// StatusAvailable means the container is enqueued and waiting for a user
	StatusAvailable ContainerStatus = "available"

	// StatusClaimed means the container was handed out by an acquire
	StatusClaimed ContainerStatus = "claimed"

	// StatusCulled means route, process, and container are gone
	StatusCulled ContainerStatus = "culled"

	// EventBirthFailed is recorded when a launch attempt was unwound.
	// not a lifecycle step: the container never reached the pool.
	EventBirthFailed ContainerStatus = "birth_failed"

	// EventCullPartial is recorded when one of the cull steps failed and the
	// remaining steps proceeded anyway.
	EventCullPartial ContainerStatus = "cull_partial"
)

/*
Container is the central data model for the application: one value per
pooled container. It is passed between the pool, the handlers, and the
event journal. Records are plain data; the pool owns them by identifier
and a record never references the pool back.

`json` struct tags control how the struct is serialized in the admin API.
the token is excluded from JSON output: it is the only secret attached to
a container and is only ever sent to the one user the container is
handed to.
*/
type Container struct {
	// ID is the opaque daemon-assigned container identifier
	ID string `json:"id"`

	// Path is the user-facing URL prefix assigned to this container.
	// globally unique within the pool. example: "/notebooks/a8f2kq0zmw4p"
	Path string `json:"path"`

	// Host and Port form the upstream address the proxy forwards to
	Host string `json:"host"`
	Port int    `json:"port"`

	// Token is a random 24-byte hex string issued when token-auth is
	// enabled, empty otherwise. carried as a query parameter on the
	// redirect; never persisted outside the daemon's container config.
	Token string `json:"-"`

	// CreatedAt is the timestamp of successful readiness
	CreatedAt time.Time `json:"created_at"`

	// LastActivity is the timestamp last observed via the proxy's activity
	// API; initialized to CreatedAt and refreshed by the pool on heartbeat
	LastActivity time.Time `json:"last_activity"`
}

// PoolEvent is one row of the append-only lifecycle journal. The journal is
// an audit trail, not pool state: it is never read back to rebuild the pool
// after a restart (cleanout reconciles with the daemon instead).
type PoolEvent struct {
	// ID is a UUID v4 generated at insertion time, the primary key
	ID string `json:"id"`

	// ContainerID is the daemon id of the container the event concerns.
	// may be empty for events that fire before a create succeeded.
	ContainerID string `json:"container_id"`

	// Path is the container's assigned URL prefix, when one was assigned
	Path string `json:"path"`

	// Event is the lifecycle step or failure kind
	Event ContainerStatus `json:"event"`

	// Detail carries the error text for failure events, empty otherwise
	Detail string `json:"detail,omitempty"`

	// CreatedAt is set once at row insertion time
	CreatedAt time.Time `json:"created_at"`
}
