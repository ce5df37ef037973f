package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/krau/visualnarrator/errs"
	ort "github.com/yalue/onnxruntime_go"
)

type SequenceOptions struct {
	MaxLength  int
	FeatureDim int
	// VocabSize is only used when the output width is dynamic.
	VocabSize int
	// DType of the sequence input, empty to read it from the model.
	DType         string
	ImageInput    string
	SequenceInput string
}

// SequenceModel is the word decoder: (image features, padded word indices)
// in, next-word distribution out.
type SequenceModel struct {
	session    *ort.AdvancedSession
	image      *ort.Tensor[float32]
	sequence   sequenceInput
	output     *ort.Tensor[float32]
	imageName  string
	seqName    string
	outputName string
	featureDim int
	maxLength  int
	mu         sync.Mutex
}

type sequenceInput interface {
	ort.Value
	fill(indices []int64)
}

type typedSequence[T int32 | int64 | float32] struct {
	*ort.Tensor[T]
}

func (s typedSequence[T]) fill(indices []int64) {
	data := s.GetData()
	for i := range data {
		data[i] = T(indices[i])
	}
}

func newSequenceInput(dtype string, shape ort.Shape) (sequenceInput, error) {
	switch dtype {
	case "float32":
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, err
		}
		return typedSequence[float32]{t}, nil
	case "int32":
		t, err := ort.NewEmptyTensor[int32](shape)
		if err != nil {
			return nil, err
		}
		return typedSequence[int32]{t}, nil
	case "int64":
		t, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			return nil, err
		}
		return typedSequence[int64]{t}, nil
	default:
		return nil, fmt.Errorf("unsupported sequence dtype %q", dtype)
	}
}

func NewSequenceModel(path string, opts SequenceOptions) (*SequenceModel, error) {
	m, err := newSequenceModel(path, opts)
	if err != nil {
		return nil, errs.ModelLoad("load sequence model "+path, err)
	}
	return m, nil
}

func newSequenceModel(path string, opts SequenceOptions) (*SequenceModel, error) {
	if opts.MaxLength < 1 || opts.FeatureDim < 1 {
		return nil, fmt.Errorf("max length and feature dim must be positive, got %d and %d", opts.MaxLength, opts.FeatureDim)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 2 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected 2 inputs and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	imgInfo, seqInfo, err := pickInputs(convertInfo(inputs), opts)
	if err != nil {
		return nil, err
	}
	imgShape, err := fixedShape(imgInfo.Shape, opts.FeatureDim)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", imgInfo.Name, err)
	}
	seqShape, err := fixedShape(seqInfo.Shape, opts.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", seqInfo.Name, err)
	}
	outDims := []int64(outputs[0].Dimensions)
	vocab := 0
	if len(outDims) > 0 && outDims[len(outDims)-1] <= 0 {
		vocab = opts.VocabSize
	}
	outShape, err := fixedShape(outDims, vocab)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", outputs[0].Name, err)
	}
	dtype := opts.DType
	if dtype == "" {
		dtype = seqInfo.DType
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	var cleanup []ort.Value
	fail := func(err error) (*SequenceModel, error) {
		for _, v := range cleanup {
			v.Destroy()
		}
		return nil, err
	}

	imageTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(imgShape...))
	if err != nil {
		return fail(fmt.Errorf("failed to create image tensor: %w", err))
	}
	cleanup = append(cleanup, imageTensor)
	seqTensor, err := newSequenceInput(dtype, ort.NewShape(seqShape...))
	if err != nil {
		return fail(fmt.Errorf("failed to create sequence tensor: %w", err))
	}
	cleanup = append(cleanup, seqTensor)
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		return fail(fmt.Errorf("failed to create output tensor: %w", err))
	}
	cleanup = append(cleanup, outputTensor)

	session, err := ort.NewAdvancedSession(
		path,
		[]string{imgInfo.Name, seqInfo.Name},
		[]string{outputs[0].Name},
		[]ort.Value{imageTensor, seqTensor},
		[]ort.Value{outputTensor},
		sessionOpts,
	)
	if err != nil {
		return fail(fmt.Errorf("failed to create ONNX Runtime session: %w", err))
	}

	return &SequenceModel{
		session:    session,
		image:      imageTensor,
		sequence:   seqTensor,
		output:     outputTensor,
		imageName:  imgInfo.Name,
		seqName:    seqInfo.Name,
		outputName: outputs[0].Name,
		featureDim: elements(imgShape),
		maxLength:  elements(seqShape),
	}, nil
}

// pickInputs decides which input takes the image features. Configured names
// win; otherwise an integer-typed input or one whose last axis equals the
// max length is the sequence, and the Keras merge-model order (image first)
// breaks the remaining ties.
func pickInputs(in []TensorInfo, opts SequenceOptions) (img, seq TensorInfo, err error) {
	if opts.ImageInput != "" || opts.SequenceInput != "" {
		byName := map[string]TensorInfo{}
		for _, i := range in {
			byName[i.Name] = i
		}
		imgName, seqName := opts.ImageInput, opts.SequenceInput
		if imgName == "" {
			imgName = otherName(in, seqName)
		}
		if seqName == "" {
			seqName = otherName(in, imgName)
		}
		var ok1, ok2 bool
		img, ok1 = byName[imgName]
		seq, ok2 = byName[seqName]
		if !ok1 || !ok2 || imgName == seqName {
			return img, seq, fmt.Errorf("inputs %q and %q do not match the model inputs %v", imgName, seqName, in)
		}
		return img, seq, nil
	}

	looksLikeSequence := func(t TensorInfo) bool {
		if t.DType == "int32" || t.DType == "int64" {
			return true
		}
		n := len(t.Shape)
		return n > 0 && t.Shape[n-1] == int64(opts.MaxLength) && t.Shape[n-1] != int64(opts.FeatureDim)
	}
	if looksLikeSequence(in[0]) && !looksLikeSequence(in[1]) {
		return in[1], in[0], nil
	}
	return in[0], in[1], nil
}

func otherName(in []TensorInfo, name string) string {
	for _, i := range in {
		if i.Name != name {
			return i.Name
		}
	}
	return ""
}

func (m *SequenceModel) FeatureDim() int { return m.featureDim }

func (m *SequenceModel) MaxLength() int { return m.maxLength }

func (m *SequenceModel) Predict(ctx context.Context, embedding []float32, sequence []int64) ([]float32, error) {
	if len(embedding) != m.featureDim {
		return nil, fmt.Errorf("embedding has %d values, model expects %d", len(embedding), m.featureDim)
	}
	if len(sequence) != m.maxLength {
		return nil, fmt.Errorf("sequence has %d indices, model expects %d", len(sequence), m.maxLength)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.image.GetData(), embedding)
	m.sequence.fill(sequence)
	if err := m.session.Run(); err != nil {
		return nil, err
	}

	src := m.output.GetData()
	probs := make([]float32, len(src))
	copy(probs, src)
	return probs, nil
}

func (m *SequenceModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.session.Destroy()
	m.image.Destroy()
	m.sequence.Destroy()
	m.output.Destroy()
	return err
}
