package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/amplify-platform/authd/internal/models"
)

// Row is a single database result row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is an iterable database result set.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// CommandTag reports the outcome of a database exec.
type CommandTag interface {
	RowsAffected() int64
}

// Tx is a database transaction scoped to a single command handler.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB is the narrow database contract services depend on, satisfied by the
// pgxpool adapter in production and by fakes in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Begin(ctx context.Context) (Tx, error)
}

// RedisClient is the subset of Redis commands the token authority uses:
// hash projections for the cache, a set for revocations, a list for the
// command queue, and plain keys for rendezvous slots.
type RedisClient interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	RPush(ctx context.Context, key string, values ...string) error
	BLPop(ctx context.Context, timeout time.Duration, key string) (value string, ok bool, err error)
}

// CommandSubmitter enqueues a write command and waits for its rendezvous
// result. Implemented by the CommandProcessor.
type CommandSubmitter interface {
	SubmitCommand(ctx context.Context, cmdType models.CommandType, data any) (json.RawMessage, error)
}

// TokenReader is the direct-read contract used by the low-traffic admin
// endpoints, which bypass the cache on purpose.
type TokenReader interface {
	GetByID(ctx context.Context, tokenID uuid.UUID) (*models.Token, error)
	List(ctx context.Context, includeRevoked bool) ([]models.Token, error)
}

// TokenValidator is the hot-path contract used by the validation endpoint.
type TokenValidator interface {
	Validate(ctx context.Context, rawToken string, requiredScopes []string) (*models.ValidationResult, error)
}
