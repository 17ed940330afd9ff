package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/sbom"
	"github.com/lila-repro/lila/pkg/types"
)

// DefaultParallelism is the number of concurrent builds.
const DefaultParallelism = 4

// Attester posts attestations for a derivation.
type Attester interface {
	Attest(ctx context.Context, drvHash string, attestations []external.AttestationRequest) error
}

// Rebuilder builds outputs with nix and attests their hashes.
type Rebuilder struct {
	executor    types.CommandExecutor
	attester    Attester
	parallelism int
}

// NewRebuilder creates a Rebuilder. A non-positive parallelism uses DefaultParallelism.
func NewRebuilder(executor types.CommandExecutor, attester Attester, parallelism int) (*Rebuilder, error) {
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if attester == nil {
		return nil, errors.New("attester cannot be nil")
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Rebuilder{executor: executor, attester: attester, parallelism: parallelism}, nil
}

// Installable is the nix-build argument that realises one output of a derivation.
func Installable(e sbom.Element) string {
	output := e.Output
	if output == "" {
		output = "out"
	}
	return e.DrvPath + "^" + output
}

// HashPath computes the sha256 NAR hash of a store path with nix-hash.
func HashPath(executor types.CommandExecutor, path string) (string, error) {
	stdout, stderr, err := executor.ExecuteCommand("nix-hash", []string{"--type", "sha256", "--base32", path}, nil)
	if err != nil {
		return "", fmt.Errorf("nix-hash %s: %w: %s", path, err, strings.TrimSpace(stderr))
	}
	hash := strings.TrimSpace(stdout)
	if hash == "" {
		return "", fmt.Errorf("nix-hash %s: empty output", path)
	}
	return "sha256:" + hash, nil
}

// buildArgs never substitute: an output fetched from a binary cache is not a
// rebuild. When the output is already valid in the local store it is rebuilt
// with --check and, if it differs, kept next to the original as <path>.check.
var buildArgs = []string{"--no-out-link", "--option", "substitute", "false"}

const nondeterministic = "may not be deterministic"

// isValid reports whether path is a valid path of the local store.
func (r *Rebuilder) isValid(path string) bool {
	if path == "" {
		return false
	}
	_, _, err := r.executor.ExecuteCommand("nix-store", []string{"--check-validity", path}, nil)
	return err == nil
}

// build realises e locally and returns the path holding the rebuilt output.
func (r *Rebuilder) build(e sbom.Element) (string, error) {
	check := r.isValid(e.OutPath)
	args := append([]string{Installable(e)}, buildArgs...)
	if check {
		args = append(args, "--check", "--keep-failed")
	}
	stdout, stderr, err := r.executor.ExecuteCommand("nix-build", args, nil)
	switch {
	case err == nil:
	case check && strings.Contains(stderr, nondeterministic):
		return e.OutPath + ".check", nil
	default:
		return "", fmt.Errorf("nix-build %s: %w: %s", Installable(e), err, strings.TrimSpace(stderr))
	}
	built := strings.TrimSpace(stdout)
	if built == "" || check {
		built = e.OutPath
	}
	return built, nil
}

// RebuildOne builds e, hashes the result and posts the attestation.
func (r *Rebuilder) RebuildOne(ctx context.Context, e sbom.Element) error {
	drvHash, err := repro.ParseDerivationPath(e.DrvPath)
	if err != nil {
		return fmt.Errorf("%s: %w", e.OutPath, err)
	}
	built, err := r.build(e)
	if err != nil {
		return err
	}
	hash, err := HashPath(r.executor, built)
	if err != nil {
		return err
	}
	outPath := strings.TrimSuffix(built, ".check")
	return r.attester.Attest(ctx, drvHash, []external.AttestationRequest{{OutputPath: outPath, OutputHash: hash}})
}

// Rebuild builds every element, at most parallelism at a time. A failing build
// does not stop the others; all failures are returned joined.
func (r *Rebuilder) Rebuild(ctx context.Context, elements []sbom.Element) error {
	logger := log.NewLogger(ctx)

	var (
		group errgroup.Group
		mu    sync.Mutex
		errs  []error
	)
	group.SetLimit(r.parallelism)
	for _, e := range elements {
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			logger.Info("rebuilding", zap.String("outPath", e.OutPath), zap.String("installable", Installable(e)))
			if err := r.RebuildOne(ctx, e); err != nil {
				logger.Warn("rebuild failed", zap.String("outPath", e.OutPath), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
