package evaluator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lila-repro/lila/internal/data/db"
	"github.com/lila-repro/lila/internal/data/model"
	"github.com/lila-repro/lila/internal/external"
	"github.com/lila-repro/lila/internal/log"
	"github.com/lila-repro/lila/pkg/repro"
)

// FlakeEvaluator is the part of Evaluator the Runner needs.
type FlakeEvaluator interface {
	Evaluate(flakeref string) (*Result, error)
}

// Runner evaluates jobsets and records the results.
type Runner struct {
	jobsets   db.JobsetManager
	evaluator FlakeEvaluator
}

// NewRunner creates a Runner.
func NewRunner(jobsets db.JobsetManager, evaluator FlakeEvaluator) (*Runner, error) {
	if jobsets == nil {
		return nil, errors.New("jobsets cannot be nil")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator cannot be nil")
	}
	return &Runner{jobsets: jobsets, evaluator: evaluator}, nil
}

// Trigger creates an evaluation of an enabled jobset and runs it to completion.
func (r *Runner) Trigger(ctx context.Context, jobsetID uint) (*model.Evaluation, error) {
	evaluation, err := r.jobsets.CreateEvaluation(ctx, jobsetID)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, evaluation.ID)
}

// Run evaluates the jobset of an existing evaluation. Evaluator failures mark the
// evaluation failed and are not returned as errors; storage failures are.
func (r *Runner) Run(ctx context.Context, evaluationID uint) (*model.Evaluation, error) {
	logger := log.NewLogger(ctx)

	evaluation, err := r.jobsets.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	jobset, err := r.jobsets.GetJobset(ctx, evaluation.JobsetID)
	if err != nil {
		return nil, err
	}
	logger.Info("starting evaluation", zap.Uint("evaluationID", evaluationID), zap.String("jobset", jobset.Name))

	if err := r.jobsets.StartEvaluation(ctx, evaluationID); err != nil {
		return nil, fmt.Errorf("failed to start evaluation: %w", err)
	}

	result, err := r.evaluator.Evaluate(jobset.Flakeref)
	if err != nil {
		logger.Error("evaluation failed", zap.Uint("evaluationID", evaluationID), zap.Error(err))
		return r.jobsets.FailEvaluation(ctx, evaluationID, err.Error())
	}
	if len(result.Warnings) > 0 {
		logger.Warn("evaluation warnings", zap.Uint("evaluationID", evaluationID), zap.Strings("warnings", result.Warnings))
	}

	dtos := make([]external.EvaluatedDerivationDTO, 0, len(result.Derivations))
	for i := range result.Derivations {
		d := &result.Derivations[i]
		drvHash, err := repro.ParseDerivationPath(d.DrvPath)
		if err != nil {
			logger.Warn("skipping derivation", zap.String("drvPath", d.DrvPath), zap.Error(err))
			continue
		}
		dtos = append(dtos, external.EvaluatedDerivationDTO{
			DrvHash:       drvHash,
			AttributePath: d.Attr,
			Outputs:       d.Outputs,
		})
	}

	done, err := r.jobsets.CompleteEvaluation(ctx, evaluationID, dtos)
	if err != nil {
		failed, failErr := r.jobsets.FailEvaluation(ctx, evaluationID, err.Error())
		if failErr != nil {
			return nil, errors.Join(err, failErr)
		}
		return failed, nil
	}
	logger.Info("evaluation completed", zap.Uint("evaluationID", evaluationID), zap.Int("derivations", done.DerivationCount))
	return done, nil
}
