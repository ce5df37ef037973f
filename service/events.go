package service

import (
	"time"

	"github.com/krau/visualnarrator/errs"
)

// Event is delivered to the presentation layer through Orchestrator.Events.
type Event interface {
	EventName() string
}

type ModelsReady struct {
	Elapsed time.Duration
}

func (e *ModelsReady) EventName() string { return "ModelsReady" }

type ModelsFailed struct {
	Err     error
	Message string
	Kind    errs.Kind
}

func (e *ModelsFailed) EventName() string { return "ModelsFailed" }

type CaptionGenerated struct {
	RequestID string
	ImagePath string
	Result    *CaptionResult
}

func (e *CaptionGenerated) EventName() string { return "CaptionGenerated" }

type CaptionFailed struct {
	RequestID string
	ImagePath string
	Err       error
	Message   string
	Kind      errs.Kind
}

func (e *CaptionFailed) EventName() string { return "CaptionFailed" }
