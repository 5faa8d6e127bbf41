package main

import (
	"log/slog"
	"strings"

	"github.com/splax/tenantedge/internal/service/ingress"
	"github.com/splax/tenantedge/pkg/config"
)

// newIngress signals the nginx container when one is named, otherwise runs the reload command.
func newIngress(cfg config.Config, log *slog.Logger) (*ingress.Service, error) {
	var (
		reloader ingress.Reloader
		err      error
	)
	if name := strings.TrimSpace(cfg.NginxContainerName); name != "" {
		reloader, err = ingress.NewDockerReloader(name, "")
	} else {
		reloader, err = ingress.NewCommandReloader(cfg.NginxReloadCommand)
	}
	if err != nil {
		return nil, err
	}
	svc, err := ingress.New(cfg.NginxConfigPath, cfg.IngressUpstream, reloader, log)
	if err != nil {
		_ = reloader.Close()
		return nil, err
	}
	return svc, nil
}
