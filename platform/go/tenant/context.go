package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Space captures the resolved tenant routing metadata for a request.
// It is intended to be attached to the context by middleware once the tenant
// has been resolved from credentials/claims and the clinic database is known
// to be provisioned.
type Space struct {
	TenantID uuid.UUID
	Name     string
	DBName   string
	Pool     *pgxpool.Pool
}

type ctxKey string

const spaceKey ctxKey = "CLINICORE_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	v := ctx.Value(spaceKey)
	if v == nil {
		return Space{}, false
	}

	space, ok := v.(Space)
	return space, ok
}
