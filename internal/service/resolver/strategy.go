package resolver

import (
	"context"

	"github.com/splax/tenantedge/internal/hostname"
)

// Result is a definitive answer from one strategy. Found=false means the host has no tenant.
type Result struct {
	TenantID string
	Found    bool
}

// Strategy is one link of the resolution chain. An error means the strategy could not
// answer and the next one should be tried; it never means "no tenant".
type Strategy interface {
	Name() string
	Lookup(ctx context.Context, host hostname.Host) (Result, error)
}
