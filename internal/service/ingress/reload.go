package ingress

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Reloader makes nginx pick up rewritten server blocks.
type Reloader interface {
	Reload(ctx context.Context) error
	Close() error
}

type commandReloader struct {
	argv []string
}

// NewCommandReloader runs command, split on whitespace, for every reload.
func NewCommandReloader(command string) (Reloader, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("nginx reload command required")
	}
	return &commandReloader{argv: argv}, nil
}

func (r *commandReloader) Reload(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(r.argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *commandReloader) Close() error { return nil }
