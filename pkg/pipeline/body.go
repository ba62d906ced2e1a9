package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/Promptonauts/gate/pkg/gate"
)

// commandBody wraps a step's shell command. The timeout, when set, bounds
// each attempt individually; the retry loop sees a timed-out attempt as an
// ordinary failure.
func commandBody(command, timeout string) gate.Body {
	var limit time.Duration
	if timeout != "" {
		// Validated at config load; a zero value here just means unbounded.
		limit, _ = time.ParseDuration(timeout)
	}

	return func(ctx context.Context) error {
		if limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		out, err := cmd.CombinedOutput()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("command timed out after %s", limit)
			}
			msg := string(bytes.TrimSpace(out))
			if msg != "" {
				return fmt.Errorf("command failed: %w: %s", err, msg)
			}
			return fmt.Errorf("command failed: %w", err)
		}
		return nil
	}
}
