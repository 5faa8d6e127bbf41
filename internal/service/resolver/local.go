package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splax/tenantedge/internal/hostname"
	"github.com/splax/tenantedge/internal/repository"
)

const defaultLocalTimeout = 3 * time.Second

// Local resolves from the database.
type Local struct {
	tenants  repository.TenantRepository
	bindings repository.BindingRepository
	timeout  time.Duration
}

// NewLocal creates the database-backed strategy.
func NewLocal(tenants repository.TenantRepository, bindings repository.BindingRepository, timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = defaultLocalTimeout
	}
	return &Local{tenants: tenants, bindings: bindings, timeout: timeout}
}

// Name implements Strategy.
func (l *Local) Name() string { return "local" }

// Lookup implements Strategy. Inactive tenants are never returned.
func (l *Local) Lookup(ctx context.Context, host hostname.Host) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	switch host.Kind {
	case hostname.KindSubdomain:
		tenant, err := l.tenants.GetTenantBySlug(ctx, host.Label)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return Result{}, nil
			}
			return Result{}, fmt.Errorf("lookup tenant by slug: %w", err)
		}
		if !tenant.Active {
			return Result{}, nil
		}
		return Result{TenantID: tenant.ID, Found: true}, nil
	case hostname.KindCustomDomain:
		return l.lookupCustomDomain(ctx, host.Name)
	default:
		return Result{}, nil
	}
}

func (l *Local) lookupCustomDomain(ctx context.Context, name string) (Result, error) {
	candidates := []string{name}
	if bare, ok := strings.CutPrefix(name, "www."); ok {
		candidates = append(candidates, bare)
	}
	for _, candidate := range candidates {
		binding, err := l.bindings.FindBinding(ctx, candidate)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return Result{}, fmt.Errorf("lookup domain binding: %w", err)
		}
		tenant, err := l.tenants.GetTenantByID(ctx, binding.TenantID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return Result{}, nil
			}
			return Result{}, fmt.Errorf("recheck bound tenant: %w", err)
		}
		if !tenant.Active {
			return Result{}, nil
		}
		return Result{TenantID: tenant.ID, Found: true}, nil
	}
	return Result{}, nil
}
