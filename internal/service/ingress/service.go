// Package ingress publishes nginx server blocks for custom domains once they go live.
package ingress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/splax/tenantedge/internal/domain"
	"github.com/splax/tenantedge/internal/service/verify"
)

const (
	fileSuffix    = ".conf"
	reloadTimeout = 10 * time.Second
)

var serverBlock = template.Must(template.New("server").Parse(`# managed by tenantedge; tenant {{ .TenantID }}
server {
    listen 80;
    server_name {{ .Domain }} www.{{ .Domain }};

    location / {
        proxy_pass {{ .Upstream }};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Forwarded-Host $host;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
    }
}
`))

type blockData struct {
	TenantID string
	Domain   string
	Upstream string
}

// Service writes one nginx server block per live custom domain and reloads nginx.
type Service struct {
	dir      string
	upstream string
	reloader Reloader
	logger   *slog.Logger
	mu       sync.Mutex
}

// New returns a Service writing into dir. A nil reloader only writes files.
func New(dir, upstream string, reloader Reloader, logger *slog.Logger) (*Service, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("nginx config directory required")
	}
	if strings.TrimSpace(upstream) == "" {
		return nil, errors.New("ingress upstream required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create nginx config directory: %w", err)
	}
	return &Service{
		dir:      dir,
		upstream: upstream,
		reloader: reloader,
		logger:   logger.With("component", "ingress"),
	}, nil
}

// Apply writes the server block for a live domain and reloads nginx when it changed.
func (s *Service) Apply(ctx context.Context, tenantID, name string) error {
	var buf bytes.Buffer
	if err := serverBlock.Execute(&buf, blockData{TenantID: tenantID, Domain: name, Upstream: s.upstream}); err != nil {
		return fmt.Errorf("render server block: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, buf.Bytes()) {
		return nil
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return err
	}
	s.logger.Info("server block written", "domain", name, "tenant_id", tenantID, "path", path)
	return s.reload(ctx)
}

// Remove deletes the server block for name, if any, and reloads nginx.
func (s *Service) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove server block: %w", err)
	}
	s.logger.Info("server block removed", "domain", name)
	return s.reload(ctx)
}

// Domains lists the domains that currently have a server block.
func (s *Service) Domains() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read nginx config directory: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	sort.Strings(out)
	return out, nil
}

// Sync writes blocks for every active zone and drops blocks for anything else.
func (s *Service) Sync(ctx context.Context, zones []domain.DomainZone) error {
	live := make(map[string]bool, len(zones))
	var errs []error
	for _, z := range zones {
		if z.Status != domain.ZoneActive {
			continue
		}
		live[z.Domain] = true
		if err := s.Apply(ctx, z.TenantID, z.Domain); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", z.Domain, err))
		}
	}
	existing, err := s.Domains()
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, name := range existing {
		if live[name] {
			continue
		}
		if err := s.Remove(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ZoneTransitioned publishes newly activated zones and withdraws failed ones.
func (s *Service) ZoneTransitioned(ctx context.Context, t verify.Transition) {
	var err error
	switch t.To {
	case domain.ZoneActive:
		err = s.Apply(ctx, t.Zone.TenantID, t.Zone.Domain)
	case domain.ZoneFailed:
		err = s.Remove(ctx, t.Zone.Domain)
	default:
		return
	}
	if err != nil {
		s.logger.Warn("failed to apply ingress config", "domain", t.Zone.Domain, "status", t.To, "error", err)
	}
}

// Close releases the reloader.
func (s *Service) Close() error {
	if s.reloader == nil {
		return nil
	}
	return s.reloader.Close()
}

func (s *Service) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name)+fileSuffix)
}

func (s *Service) reload(ctx context.Context) error {
	if s.reloader == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
	defer cancel()
	if err := s.reloader.Reload(rctx); err != nil {
		return fmt.Errorf("reload nginx: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tenantedge-*")
	if err != nil {
		return fmt.Errorf("create temp server block: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write server block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close server block: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod server block: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install server block: %w", err)
	}
	return nil
}
