// Package service runs model loading and caption generation off the caller's
// goroutine and reports every outcome as an Event on a single channel.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/krau/visualnarrator/caption"
	"github.com/krau/visualnarrator/errs"
	"github.com/krau/visualnarrator/imageproc"
	"github.com/krau/visualnarrator/logging"
)

type Options struct {
	ImageSize   int
	ResizeMode  imageproc.ResizeMode
	EventBuffer int
}

func DefaultOptions() Options {
	return Options{ImageSize: 224, ResizeMode: imageproc.Stretch, EventBuffer: 16}
}

type CaptionResult struct {
	Caption     string
	WordCount   int
	Steps       int
	Stop        caption.StopReason
	Elapsed     time.Duration
	GeneratedAt time.Time
}

type Orchestrator struct {
	handles *Handles
	loader  Loader
	opts    Options

	events   chan Event
	done     chan struct{}
	loadOnce sync.Once
	busy     atomic.Bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(loader Loader, opts Options) *Orchestrator {
	if opts.ImageSize <= 0 {
		opts.ImageSize = 224
	}
	if opts.ResizeMode == "" {
		opts.ResizeMode = imageproc.Stretch
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 16
	}
	return &Orchestrator{
		handles: NewHandles(),
		loader:  loader,
		opts:    opts,
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
	}
}

func (o *Orchestrator) State() State { return o.handles.State() }

func (o *Orchestrator) Handles() *Handles { return o.handles }

// Events is closed by Close.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Busy reports whether a caption request is running.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// LoadModelsAsync starts loading once; later calls do nothing. The outcome
// arrives as ModelsReady or ModelsFailed.
func (o *Orchestrator) LoadModelsAsync(ctx context.Context) {
	o.loadOnce.Do(func() {
		if !o.spawn(func() { o.load(ctx) }) {
			o.handles.resolve(nil, errs.ModelLoad("load models", fmt.Errorf("orchestrator closed")))
		}
	})
}

func (o *Orchestrator) load(ctx context.Context) {
	logger := logging.From(ctx)
	start := time.Now()
	logger.Info("Loading models")

	m, err := o.safeLoad(ctx)
	if err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.ModelLoad("load models", err)
		}
		o.handles.resolve(nil, err)
		logger.Error("Failed to load models", slog.String("error", err.Error()))
		o.publish(&ModelsFailed{Err: err, Message: "Error loading models: " + err.Error(), Kind: errs.KindOf(err)})
		return
	}

	o.handles.resolve(m, nil)
	elapsed := time.Since(start)
	logger.Info("Models loaded", slog.Duration("elapsed", elapsed))
	o.publish(&ModelsReady{Elapsed: elapsed})
}

func (o *Orchestrator) safeLoad(ctx context.Context) (m *Models, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, errs.ModelLoad("load models", fmt.Errorf("panic: %v", r))
		}
	}()
	if o.loader == nil {
		return nil, fmt.Errorf("no model loader configured")
	}
	m, err = o.loader(ctx)
	if err == nil && m == nil {
		err = fmt.Errorf("loader returned no models")
	}
	return m, err
}

// GenerateCaptionAsync validates the request and starts it in the
// background, returning its id. Rejected requests return an error and
// produce no event; accepted ones produce exactly one CaptionGenerated or
// CaptionFailed.
func (o *Orchestrator) GenerateCaptionAsync(ctx context.Context, imagePath string) (string, error) {
	if err := o.precheck(imagePath); err != nil {
		return "", err
	}
	if !o.busy.CompareAndSwap(false, true) {
		return "", errs.InvalidRequest("a caption is already being generated")
	}

	id := uuid.NewString()
	ctx = logging.WithAttrs(ctx, slog.String("request_id", id))
	started := o.spawn(func() {
		res, err := o.safeGenerate(ctx, imagePath)
		o.busy.Store(false)
		if err != nil {
			logging.From(ctx).Error("Caption generation failed", slog.String("error", err.Error()))
			o.publish(&CaptionFailed{
				RequestID: id,
				ImagePath: imagePath,
				Err:       err,
				Message:   "Error generating description: " + err.Error(),
				Kind:      errs.KindOf(err),
			})
			return
		}
		o.publish(&CaptionGenerated{RequestID: id, ImagePath: imagePath, Result: res})
	})
	if !started {
		o.busy.Store(false)
		return "", errs.InvalidRequest("orchestrator closed")
	}
	return id, nil
}

func (o *Orchestrator) precheck(imagePath string) error {
	if strings.TrimSpace(imagePath) == "" {
		return errs.InvalidRequest("please select an image first")
	}
	_, err := o.handles.Models()
	return err
}

// GenerateCaption is the synchronous path: image decode, feature
// extraction, then decoding.
func (o *Orchestrator) GenerateCaption(ctx context.Context, imagePath string) (*CaptionResult, error) {
	if err := o.precheck(imagePath); err != nil {
		return nil, err
	}
	m, _ := o.handles.Models()
	logger := logging.From(ctx)
	start := time.Now()

	pixels, err := imageproc.Load(imagePath, o.opts.ImageSize, o.opts.ResizeMode)
	if err != nil {
		return nil, err
	}
	embedding, err := m.Extractor.Extract(ctx, pixels)
	if err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.Inference("feature extraction", err)
		}
		return nil, err
	}
	res, err := m.Decoder.Decode(ctx, embedding)
	if err != nil {
		return nil, err
	}

	out := &CaptionResult{
		Caption:     res.Caption,
		WordCount:   len(strings.Fields(res.Caption)),
		Steps:       res.Steps,
		Stop:        res.Stop,
		Elapsed:     time.Since(start),
		GeneratedAt: time.Now(),
	}
	logger.Info("Caption generated",
		slog.String("image", imagePath),
		slog.Int("steps", out.Steps),
		slog.String("stop", out.Stop.String()),
		slog.Duration("elapsed", out.Elapsed),
	)
	return out, nil
}

func (o *Orchestrator) safeGenerate(ctx context.Context, imagePath string) (res *CaptionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errs.Inference("generate caption", fmt.Errorf("panic: %v", r))
		}
	}()
	return o.GenerateCaption(ctx, imagePath)
}

// Dispatch hands events to fn one at a time until the channel closes or
// ctx ends. Run it on the goroutine that owns the presentation state.
func (o *Orchestrator) Dispatch(ctx context.Context, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-o.events:
			if !ok {
				return
			}
			fn(e)
		}
	}
}

// Close waits for running tasks, releases the models and closes Events.
// Events that cannot be delivered during shutdown are dropped.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.done)
	o.mu.Unlock()

	o.wg.Wait()
	close(o.events)
	if m, err := o.handles.Models(); err == nil {
		return m.Close()
	}
	return nil
}

func (o *Orchestrator) spawn(fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
	return true
}

func (o *Orchestrator) publish(e Event) {
	select {
	case o.events <- e:
		return
	default:
	}
	select {
	case o.events <- e:
	case <-o.done:
		slog.Warn("Dropping event on shutdown", slog.String("event", e.EventName()))
	}
}
