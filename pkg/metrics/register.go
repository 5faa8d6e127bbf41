// Package metrics holds small helpers shared by the prometheus collectors of each service.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector exported by tenantedge.
const Namespace = "tenantedge"

// Register registers c with the default registry. When an equal collector is already
// registered (tests, or two components built in one process) the existing one is returned.
func Register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
