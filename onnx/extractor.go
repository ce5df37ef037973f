package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/krau/visualnarrator/errs"
	ort "github.com/yalue/onnxruntime_go"
)

// FeatureExtractor runs a vision backbone exported to ONNX and returns its
// pooled feature vector. Both NHWC (Keras) and NCHW layouts are accepted;
// Extract always takes NHWC pixels.
type FeatureExtractor struct {
	session       *ort.AdvancedSession
	input         *ort.Tensor[float32]
	output        *ort.Tensor[float32]
	inputName     string
	outputName    string
	imageSize     int
	dim           int
	channelsFirst bool
	mu            sync.Mutex
}

func NewFeatureExtractor(path string, imageSize, featureDim int) (*FeatureExtractor, error) {
	fe, err := newFeatureExtractor(path, imageSize, featureDim)
	if err != nil {
		return nil, errs.ModelLoad("load feature extractor "+path, err)
	}
	return fe, nil
}

func newFeatureExtractor(path string, imageSize, featureDim int) (*FeatureExtractor, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	inDims := []int64(inputs[0].Dimensions)
	if len(inDims) != 4 {
		return nil, fmt.Errorf("input %s has rank %d, expected 4", inputs[0].Name, len(inDims))
	}
	channelsFirst := inDims[1] == 3 && inDims[3] != 3
	inShape := ort.NewShape(1, int64(imageSize), int64(imageSize), 3)
	if channelsFirst {
		inShape = ort.NewShape(1, 3, int64(imageSize), int64(imageSize))
	}
	for i, d := range inDims {
		if i > 0 && d > 0 && d != inShape[i] {
			return nil, fmt.Errorf("input %s expects %v, configured image size gives %v", inputs[0].Name, inDims, inShape)
		}
	}

	outShape, err := fixedShape(outputs[0].Dimensions, featureDim)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", outputs[0].Name, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	inputTensor, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX Runtime session: %w", err)
	}

	return &FeatureExtractor{
		session:       session,
		input:         inputTensor,
		output:        outputTensor,
		inputName:     inputs[0].Name,
		outputName:    outputs[0].Name,
		imageSize:     imageSize,
		dim:           elements(outShape),
		channelsFirst: channelsFirst,
	}, nil
}

// Dim is the embedding length.
func (f *FeatureExtractor) Dim() int { return f.dim }

func (f *FeatureExtractor) ImageSize() int { return f.imageSize }

// Extract returns a fresh embedding for one preprocessed image.
func (f *FeatureExtractor) Extract(ctx context.Context, pixels []float32) ([]float32, error) {
	if want := 3 * f.imageSize * f.imageSize; len(pixels) != want {
		return nil, errs.Inference("feature extraction", fmt.Errorf("got %d pixel values, expected %d", len(pixels), want))
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Inference("feature extraction", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dst := f.input.GetData()
	if f.channelsFirst {
		toChannelsFirst(dst, pixels, f.imageSize)
	} else {
		copy(dst, pixels)
	}
	if err := f.session.Run(); err != nil {
		return nil, errs.Inference("feature extraction", err)
	}

	src := f.output.GetData()
	embedding := make([]float32, len(src))
	copy(embedding, src)
	return embedding, nil
}

func (f *FeatureExtractor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.session.Destroy()
	f.input.Destroy()
	f.output.Destroy()
	return err
}

func toChannelsFirst(dst, src []float32, size int) {
	plane := size * size
	for p := 0; p < plane; p++ {
		dst[p] = src[p*3]
		dst[plane+p] = src[p*3+1]
		dst[2*plane+p] = src[p*3+2]
	}
}
