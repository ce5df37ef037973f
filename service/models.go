package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/krau/visualnarrator/caption"
	"github.com/krau/visualnarrator/config"
	"github.com/krau/visualnarrator/errs"
	"github.com/krau/visualnarrator/logging"
	"github.com/krau/visualnarrator/onnx"
	"github.com/krau/visualnarrator/tokenizer"
	"golang.org/x/sync/errgroup"
)

type FeatureExtractor interface {
	Extract(ctx context.Context, pixels []float32) ([]float32, error)
}

// Models are the handles shared by every caption request.
type Models struct {
	Extractor FeatureExtractor
	Decoder   *caption.Decoder
	closers   []io.Closer
}

func NewModels(extractor FeatureExtractor, decoder *caption.Decoder, closers ...io.Closer) *Models {
	return &Models{Extractor: extractor, Decoder: decoder, closers: closers}
}

func (m *Models) Close() error {
	var errList []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Loader builds the models. It runs on a background goroutine.
type Loader func(ctx context.Context) (*Models, error)

// ONNXLoader loads the tokenizer and feature extractor concurrently, then
// the sequence model, which needs the feature and vocabulary sizes.
func ONNXLoader(cfg config.Config) Loader {
	return func(ctx context.Context) (*Models, error) {
		logger := logging.From(ctx)
		if err := onnx.Init(cfg.Libonnx); err != nil {
			return nil, errs.ModelLoad("init onnx runtime", err)
		}

		var (
			tok       *tokenizer.Tokenizer
			extractor *onnx.FeatureExtractor
		)
		var g errgroup.Group
		g.Go(func() error {
			var err error
			tok, err = tokenizer.Load(cfg.TokenizerPath)
			return err
		})
		g.Go(func() error {
			var err error
			extractor, err = onnx.NewFeatureExtractor(cfg.FeatureExtractorPath, cfg.ImageSize, cfg.FeatureDim)
			return err
		})
		if err := g.Wait(); err != nil {
			if extractor != nil {
				_ = extractor.Close()
			}
			return nil, err
		}
		logger.Info("Tokenizer loaded", slog.Int("vocab_size", tok.VocabSize()))
		logger.Info("Feature extractor loaded", slog.Int("feature_dim", extractor.Dim()))

		seq, err := onnx.NewSequenceModel(cfg.ModelPath, onnx.SequenceOptions{
			MaxLength:     cfg.MaxLength,
			FeatureDim:    extractor.Dim(),
			VocabSize:     tok.VocabSize(),
			DType:         cfg.SequenceDType,
			ImageInput:    cfg.ImageInputName,
			SequenceInput: cfg.SequenceInputName,
		})
		if err != nil {
			_ = extractor.Close()
			return nil, err
		}

		decoder, err := caption.NewDecoder(tok, seq, DecoderOptions(cfg))
		if err != nil {
			_ = extractor.Close()
			_ = seq.Close()
			return nil, errs.ModelLoad("create decoder", err)
		}
		return NewModels(extractor, decoder, extractor, seq), nil
	}
}

func DecoderOptions(cfg config.Config) caption.Options {
	return caption.Options{
		MaxLength:  cfg.MaxLength,
		StartToken: cfg.StartToken,
		EndToken:   cfg.EndToken,
		Padding:    caption.Padding(cfg.Padding),
		Truncating: caption.Padding(cfg.Truncating),
	}
}
