// Package executor runs the nix tools as subprocesses.
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/types"
)

// RealCommandExecutor runs commands on the host. Commands are killed when its
// context is done.
type RealCommandExecutor struct {
	ctx context.Context
}

// ExecuteCommand runs name with args and returns the captured stdout and stderr.
// env is appended to the environment of the current process.
//
//nolint:gocritic
func (r *RealCommandExecutor) ExecuteCommand(name string, args []string,
	env []string) (stdout string, stderr string, err error) {
	logger := log.NewLogger(r.ctx)
	start := time.Now()

	cmd := exec.CommandContext(r.ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	err = cmd.Run()

	logger.Debug("command finished",
		zap.String("command", name),
		zap.Strings("args", args),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return outb.String(), errb.String(), err
}

// NewCommandExecutor creates a RealCommandExecutor bound to ctx.
func NewCommandExecutor(ctx context.Context) types.CommandExecutor {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RealCommandExecutor{ctx: ctx}
}
