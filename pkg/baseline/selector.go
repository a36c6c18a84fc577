// Package baseline resolves which execution a drift comparison runs against.
package baseline

import (
	"context"
	"errors"
	"fmt"

	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/store"
)

var (
	// ErrBaselineNotFound is returned when no baseline matches the reference.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrBaselineNotUsable is returned when the referenced execution exists
	// but is not Completed.
	ErrBaselineNotUsable = errors.New("baseline execution is not completed")

	// ErrSelfReference is returned when the baseline resolves to the current
	// execution itself outside self-check mode.
	ErrSelfReference = errors.New("baseline must differ from current execution")
)

// RefMode discriminates the baseline reference variants.
type RefMode string

const (
	// RefExplicit selects an execution by id.
	RefExplicit RefMode = "explicit"
	// RefTag selects the baseline registered under a tag.
	RefTag RefMode = "tag"
	// RefPrevious selects the previous completed execution for the same
	// pipeline and LLM config.
	RefPrevious RefMode = "previous"
)

// Ref is a tagged baseline reference.
type Ref struct {
	Mode        RefMode
	ExecutionID string // RefExplicit
	Tag         string // RefTag
}

// ExplicitID builds an explicit-id reference.
func ExplicitID(id string) Ref { return Ref{Mode: RefExplicit, ExecutionID: id} }

// Tag builds a tag reference.
func Tag(t string) Ref { return Ref{Mode: RefTag, Tag: t} }

// Previous builds a previous-execution reference.
func Previous() Ref { return Ref{Mode: RefPrevious} }

// ExecutionReader is the execution lookup surface the selector needs.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	PreviousCompleted(ctx context.Context, ref *models.Execution) (*models.Execution, error)
}

// BaselineReader is the baseline lookup surface the selector needs.
type BaselineReader interface {
	GetBaselineByTag(ctx context.Context, tag string) (*models.Baseline, error)
}

// Selector resolves (current execution, Ref) → baseline execution.
type Selector struct {
	executions ExecutionReader
	baselines  BaselineReader

	// AllowSelfCheck permits current == baseline. Test-only escape hatch for
	// the drift engine's self-comparison scenarios.
	AllowSelfCheck bool
}

// NewSelector creates a baseline selector.
func NewSelector(executions ExecutionReader, baselines BaselineReader) *Selector {
	return &Selector{executions: executions, baselines: baselines}
}

// Resolve returns the baseline execution for the given reference. The
// resolved execution must be Completed and, outside self-check mode, must
// differ from the current execution.
func (s *Selector) Resolve(ctx context.Context, current *models.Execution, ref Ref) (*models.Execution, error) {
	var (
		exec *models.Execution
		err  error
	)

	switch ref.Mode {
	case RefExplicit:
		exec, err = s.executions.GetExecution(ctx, ref.ExecutionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: execution %s", ErrBaselineNotFound, ref.ExecutionID)
			}
			return nil, err
		}

	case RefTag:
		b, err := s.baselines.GetBaselineByTag(ctx, ref.Tag)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: tag %q", ErrBaselineNotFound, ref.Tag)
			}
			return nil, err
		}
		exec, err = s.executions.GetExecution(ctx, b.ExecutionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: execution %s for tag %q", ErrBaselineNotFound, b.ExecutionID, ref.Tag)
			}
			return nil, err
		}

	case RefPrevious:
		exec, err = s.executions.PreviousCompleted(ctx, current)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: no previous completed execution for pipeline %s", ErrBaselineNotFound, current.PipelineID)
			}
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown baseline reference mode %q", ref.Mode)
	}

	if exec.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: execution %s is %s", ErrBaselineNotUsable, exec.ID, exec.Status)
	}
	if exec.ID == current.ID && !s.AllowSelfCheck {
		return nil, ErrSelfReference
	}
	return exec, nil
}
