package evaluator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/repro"
	"github.com/lila-repro/lila/pkg/types"
)

type fakeEvaluator struct {
	result *Result
	err    error
}

func (f *fakeEvaluator) Evaluate(string) (*Result, error) { return f.result, f.err }

func setup(t *testing.T) (*db.GormJobsetManager, *model.Jobset, context.Context) {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	jobsets, err := db.NewGormJobsetManager(gdb)
	require.NoError(t, err)

	ctx := log.WithLogger(context.Background(), &types.MockLogger{})
	jobset, err := jobsets.CreateJobset(ctx, &external.JobsetRequest{Name: "nixpkgs", Flakeref: "github:NixOS/nixpkgs"})
	require.NoError(t, err)
	return jobsets, jobset, ctx
}

func TestRunnerTrigger(t *testing.T) {
	jobsets, jobset, ctx := setup(t)
	runner, err := NewRunner(jobsets, &fakeEvaluator{result: ParseOutput(evalOutput)})
	require.NoError(t, err)

	evaluation, err := runner.Trigger(ctx, jobset.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EvaluationCompleted, evaluation.Status)
	assert.Equal(t, 2, evaluation.DerivationCount)
	require.Len(t, evaluation.Derivations, 2)
	assert.Equal(t, "aaa-hello-2.12", evaluation.Derivations[0].Derivation.DrvHash)
}

func TestRunnerEvaluatorFailure(t *testing.T) {
	jobsets, jobset, ctx := setup(t)
	runner, err := NewRunner(jobsets, &fakeEvaluator{err: errors.New("nix-eval-jobs failed")})
	require.NoError(t, err)

	evaluation, err := runner.Trigger(ctx, jobset.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EvaluationFailed, evaluation.Status)
	assert.Equal(t, "nix-eval-jobs failed", evaluation.ErrorMessage)
}

func TestRunnerSkipsMalformedDrvPath(t *testing.T) {
	jobsets, jobset, ctx := setup(t)
	result := &Result{Derivations: []DerivationInfo{
		{Attr: "ok", DrvPath: "/nix/store/aaa-ok.drv", Outputs: map[string]string{"out": "/nix/store/bbb-ok"}},
		{Attr: "bad", DrvPath: "bad-path"},
	}}
	runner, err := NewRunner(jobsets, &fakeEvaluator{result: result})
	require.NoError(t, err)

	evaluation, err := runner.Trigger(ctx, jobset.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, evaluation.DerivationCount)
}

func TestRunnerUnknownJobset(t *testing.T) {
	jobsets, _, ctx := setup(t)
	runner, err := NewRunner(jobsets, &fakeEvaluator{})
	require.NoError(t, err)
	_, err = runner.Trigger(ctx, 42)
	assert.True(t, errors.Is(err, repro.ErrNotFound))

	_, err = NewRunner(nil, &fakeEvaluator{})
	assert.Error(t, err)
}
