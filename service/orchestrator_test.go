package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krau/visualnarrator/caption"
	"github.com/krau/visualnarrator/errs"
	"github.com/krau/visualnarrator/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testWords = map[string]int{"startseq": 1, "endseq": 2, "a": 3, "cat": 4}

type fakeExtractor struct {
	calls   atomic.Int32
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, pixels []float32) ([]float32, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 2048), nil
}

type scriptModel struct {
	script []int
	calls  int
}

func (m *scriptModel) Predict(_ context.Context, _ []float32, _ []int64) ([]float32, error) {
	i := m.script[min(m.calls, len(m.script)-1)]
	m.calls++
	p := make([]float32, 5)
	p[i] = 1
	return p, nil
}

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func modelsLoader(t *testing.T, ex FeatureExtractor, script []int, closers ...*closeCounter) Loader {
	return func(ctx context.Context) (*Models, error) {
		tok := tokenizer.New(testWords, nil, tokenizer.DefaultOptions())
		d, err := caption.NewDecoder(tok, &scriptModel{script: script}, caption.DefaultOptions())
		require.NoError(t, err)
		m := NewModels(ex, d)
		for _, c := range closers {
			m.closers = append(m.closers, c)
		}
		return m, nil
	}
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "cat.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func nextEvent(t *testing.T, o *Orchestrator) Event {
	t.Helper()
	select {
	case e, ok := <-o.Events():
		require.True(t, ok, "events channel closed")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func readyOrchestrator(t *testing.T, ex FeatureExtractor, script []int) *Orchestrator {
	t.Helper()
	o := New(modelsLoader(t, ex, script), DefaultOptions())
	t.Cleanup(func() { _ = o.Close() })
	o.LoadModelsAsync(context.Background())
	require.IsType(t, &ModelsReady{}, nextEvent(t, o))
	require.Equal(t, StateReady, o.State())
	return o
}

func TestGenerateCaption(t *testing.T) {
	ex := &fakeExtractor{}
	o := readyOrchestrator(t, ex, []int{3, 4, 2})

	id, err := o.GenerateCaptionAsync(context.Background(), writePNG(t))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	e := nextEvent(t, o)
	done, ok := e.(*CaptionGenerated)
	require.True(t, ok, "got %s", e.EventName())
	assert.Equal(t, id, done.RequestID)
	assert.Equal(t, "A cat.", done.Result.Caption)
	assert.Equal(t, 2, done.Result.WordCount)
	assert.Equal(t, 3, done.Result.Steps)
	assert.Equal(t, caption.StopEndToken, done.Result.Stop)
	assert.False(t, done.Result.GeneratedAt.IsZero())
	assert.EqualValues(t, 1, ex.calls.Load())
	assert.False(t, o.Busy())
}

func TestGenerateCaptionEmptyResult(t *testing.T) {
	o := readyOrchestrator(t, &fakeExtractor{}, []int{2})

	_, err := o.GenerateCaptionAsync(context.Background(), writePNG(t))
	require.NoError(t, err)

	done, ok := nextEvent(t, o).(*CaptionGenerated)
	require.True(t, ok)
	assert.Equal(t, "", done.Result.Caption)
	assert.Equal(t, 0, done.Result.WordCount)
}

func TestLoadFailureRejectsRequests(t *testing.T) {
	ex := &fakeExtractor{}
	loadErr := errs.ModelLoad("load sequence model models/missing.onnx", os.ErrNotExist)
	o := New(func(context.Context) (*Models, error) { return nil, loadErr }, DefaultOptions())
	defer o.Close()

	o.LoadModelsAsync(context.Background())
	failed, ok := nextEvent(t, o).(*ModelsFailed)
	require.True(t, ok)
	assert.Equal(t, errs.KindModelLoad, failed.Kind)
	assert.Contains(t, failed.Message, "missing.onnx")
	assert.Equal(t, StateFailed, o.State())
	assert.ErrorIs(t, o.Handles().Err(), errs.ErrModelLoad)

	_, err := o.GenerateCaptionAsync(context.Background(), writePNG(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotReady)
	assert.Contains(t, err.Error(), "models not ready")
	assert.EqualValues(t, 0, ex.calls.Load())
}

func TestTokenizerFailureIsModelLoad(t *testing.T) {
	o := New(func(context.Context) (*Models, error) {
		_, err := tokenizer.Load(filepath.Join(t.TempDir(), "tokenizer.json"))
		return nil, err
	}, DefaultOptions())
	defer o.Close()

	o.LoadModelsAsync(context.Background())
	failed, ok := nextEvent(t, o).(*ModelsFailed)
	require.True(t, ok)
	assert.Equal(t, errs.KindTokenizerUnavailable, failed.Kind)
	assert.ErrorIs(t, failed.Err, errs.ErrModelLoad)
}

func TestLoaderPanicBecomesFailure(t *testing.T) {
	o := New(func(context.Context) (*Models, error) { panic("corrupt weights") }, DefaultOptions())
	defer o.Close()

	o.LoadModelsAsync(context.Background())
	failed, ok := nextEvent(t, o).(*ModelsFailed)
	require.True(t, ok)
	assert.Equal(t, errs.KindModelLoad, failed.Kind)
	assert.Contains(t, failed.Message, "corrupt weights")
}

func TestPlainLoaderErrorIsModelLoad(t *testing.T) {
	o := New(func(context.Context) (*Models, error) { return nil, errors.New("boom") }, DefaultOptions())
	defer o.Close()

	o.LoadModelsAsync(context.Background())
	failed, ok := nextEvent(t, o).(*ModelsFailed)
	require.True(t, ok)
	assert.Equal(t, errs.KindModelLoad, failed.Kind)
}

func TestRequestsRejectedWhileLoading(t *testing.T) {
	release := make(chan struct{})
	ex := &fakeExtractor{}
	inner := modelsLoader(t, ex, []int{2})
	o := New(func(ctx context.Context) (*Models, error) {
		<-release
		return inner(ctx)
	}, DefaultOptions())
	defer o.Close()

	o.LoadModelsAsync(context.Background())
	assert.Equal(t, StateLoading, o.State())

	_, err := o.GenerateCaptionAsync(context.Background(), writePNG(t))
	assert.ErrorIs(t, err, errs.ErrNotReady)

	close(release)
	require.IsType(t, &ModelsReady{}, nextEvent(t, o))
	assert.EqualValues(t, 0, ex.calls.Load())
}

func TestLoadModelsOnce(t *testing.T) {
	var loads atomic.Int32
	inner := modelsLoader(t, &fakeExtractor{}, []int{2})
	o := New(func(ctx context.Context) (*Models, error) {
		loads.Add(1)
		return inner(ctx)
	}, DefaultOptions())
	defer o.Close()

	o.LoadModelsAsync(context.Background())
	o.LoadModelsAsync(context.Background())
	require.IsType(t, &ModelsReady{}, nextEvent(t, o))
	o.LoadModelsAsync(context.Background())

	assert.EqualValues(t, 1, loads.Load())
}

func TestEmptyImagePath(t *testing.T) {
	o := readyOrchestrator(t, &fakeExtractor{}, []int{2})

	_, err := o.GenerateCaptionAsync(context.Background(), "  ")
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestImageDecodeFailureIsRecoverable(t *testing.T) {
	ex := &fakeExtractor{}
	o := readyOrchestrator(t, ex, []int{3, 4, 2})

	bad := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o644))

	_, err := o.GenerateCaptionAsync(context.Background(), bad)
	require.NoError(t, err)
	failed, ok := nextEvent(t, o).(*CaptionFailed)
	require.True(t, ok)
	assert.Equal(t, errs.KindImageDecode, failed.Kind)
	assert.Equal(t, bad, failed.ImagePath)
	assert.EqualValues(t, 0, ex.calls.Load())

	// retry with a good image
	_, err = o.GenerateCaptionAsync(context.Background(), writePNG(t))
	require.NoError(t, err)
	done, ok := nextEvent(t, o).(*CaptionGenerated)
	require.True(t, ok)
	assert.Equal(t, "A cat.", done.Result.Caption)
}

func TestExtractorFailureIsInference(t *testing.T) {
	o := readyOrchestrator(t, &fakeExtractor{err: errors.New("forward pass failed")}, []int{2})

	_, err := o.GenerateCaptionAsync(context.Background(), writePNG(t))
	require.NoError(t, err)
	failed, ok := nextEvent(t, o).(*CaptionFailed)
	require.True(t, ok)
	assert.Equal(t, errs.KindInference, failed.Kind)
	assert.Contains(t, failed.Message, "forward pass failed")
}

func TestBusyRejectsOverlappingRequest(t *testing.T) {
	ex := &fakeExtractor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	o := readyOrchestrator(t, ex, []int{3, 2})
	img := writePNG(t)

	_, err := o.GenerateCaptionAsync(context.Background(), img)
	require.NoError(t, err)
	<-ex.started
	assert.True(t, o.Busy())

	_, err = o.GenerateCaptionAsync(context.Background(), img)
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)

	close(ex.block)
	require.IsType(t, &CaptionGenerated{}, nextEvent(t, o))
	assert.False(t, o.Busy())
}

func TestDispatch(t *testing.T) {
	o := New(modelsLoader(t, &fakeExtractor{}, []int{3, 4, 2}), DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	names := make(chan string, 4)
	go o.Dispatch(ctx, func(e Event) {
		names <- e.EventName()
		if _, ok := e.(*ModelsReady); ok {
			_, err := o.GenerateCaptionAsync(ctx, writePNG(t))
			assert.NoError(t, err)
		}
	})

	o.LoadModelsAsync(ctx)
	for _, want := range []string{"ModelsReady", "CaptionGenerated"} {
		select {
		case got := <-names:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
	require.NoError(t, o.Close())
}

func TestCloseReleasesModels(t *testing.T) {
	cc := &closeCounter{}
	o := New(modelsLoader(t, &fakeExtractor{}, []int{2}, cc), DefaultOptions())
	o.LoadModelsAsync(context.Background())
	require.IsType(t, &ModelsReady{}, nextEvent(t, o))

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.EqualValues(t, 1, cc.n.Load())

	_, ok := <-o.Events()
	assert.False(t, ok)

	_, err := o.GenerateCaptionAsync(context.Background(), writePNG(t))
	assert.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestHandlesResolveOnce(t *testing.T) {
	h := NewHandles()
	_, err := h.Models()
	assert.ErrorIs(t, err, errs.ErrNotReady)

	m := &Models{}
	assert.True(t, h.resolve(m, nil))
	assert.False(t, h.resolve(nil, errors.New("late failure")))
	assert.Equal(t, StateReady, h.State())
	got, err := h.Models()
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.NoError(t, h.Err())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Loading", StateLoading.String())
	assert.Equal(t, "Ready", StateReady.String())
	assert.Equal(t, "Failed", StateFailed.String())
}
