// Package caption turns an image embedding into a sentence by greedy
// autoregressive decoding over a word-level sequence model.
package caption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/krau/visualnarrator/errs"
	"github.com/krau/visualnarrator/logging"
)

// Vocabulary is the part of a tokenizer the decoder needs.
type Vocabulary interface {
	Encode(words []string) []int
	// Word reports false for indices with no mapping.
	Word(index int) (string, bool)
}

// SequenceModel predicts the next-word distribution for an embedding and a
// padded index sequence. Implementations must not retain either slice.
type SequenceModel interface {
	Predict(ctx context.Context, embedding []float32, sequence []int64) ([]float32, error)
}

type StopReason int

const (
	StopEndToken StopReason = iota
	StopMaxLength
	// StopOutOfVocabulary means the model picked an index with no word.
	// The words generated before it are kept.
	StopOutOfVocabulary
)

func (r StopReason) String() string {
	switch r {
	case StopEndToken:
		return "end_token"
	case StopMaxLength:
		return "max_length"
	case StopOutOfVocabulary:
		return "out_of_vocabulary"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

type Options struct {
	// MaxLength bounds the number of forward passes and is also the padded
	// sequence length the model was trained with.
	MaxLength  int
	StartToken string
	EndToken   string
	Padding    Padding
	Truncating Padding
}

func DefaultOptions() Options {
	return Options{
		MaxLength:  34,
		StartToken: "startseq",
		EndToken:   "endseq",
		Padding:    Pre,
		Truncating: Pre,
	}
}

type Result struct {
	// Caption may be empty when the model ends the sequence straight away.
	Caption string
	// Words are the raw generated words, end token included if emitted.
	Words []string
	Steps int
	Stop  StopReason
}

type Decoder struct {
	vocab Vocabulary
	model SequenceModel
	opts  Options
}

func NewDecoder(vocab Vocabulary, model SequenceModel, opts Options) (*Decoder, error) {
	if vocab == nil || model == nil {
		return nil, errors.New("caption: vocabulary and sequence model are required")
	}
	if opts.MaxLength < 1 {
		return nil, fmt.Errorf("caption: max length must be positive, got %d", opts.MaxLength)
	}
	if opts.StartToken == "" || opts.EndToken == "" {
		return nil, errors.New("caption: start and end tokens are required")
	}
	if opts.Padding == "" {
		opts.Padding = Pre
	}
	if opts.Truncating == "" {
		opts.Truncating = Pre
	}
	return &Decoder{vocab: vocab, model: model, opts: opts}, nil
}

func (d *Decoder) Options() Options { return d.opts }

// Decode runs at most MaxLength greedy steps. A model error or a cancelled
// ctx aborts with an inference failure and no partial caption.
func (d *Decoder) Decode(ctx context.Context, embedding []float32) (*Result, error) {
	seq := make([]string, 1, d.opts.MaxLength+1)
	seq[0] = d.opts.StartToken
	res := &Result{Stop: StopMaxLength}

	for step := 0; step < d.opts.MaxLength; step++ {
		if err := ctx.Err(); err != nil {
			return nil, errs.Inference("decode", err)
		}

		padded := PadSequence(d.vocab.Encode(seq), d.opts.MaxLength, d.opts.Padding, d.opts.Truncating)
		probs, err := d.model.Predict(ctx, embedding, padded)
		res.Steps++
		if err != nil {
			return nil, errs.Inference(fmt.Sprintf("sequence model step %d", step+1), err)
		}
		next, err := Argmax(probs)
		if err != nil {
			return nil, errs.Inference(fmt.Sprintf("sequence model step %d", step+1), err)
		}

		word, ok := d.vocab.Word(next)
		if !ok {
			res.Stop = StopOutOfVocabulary
			break
		}
		seq = append(seq, word)
		if word == d.opts.EndToken {
			res.Stop = StopEndToken
			break
		}
	}

	res.Words = seq[1:]
	res.Caption = PostProcess(strings.Join(seq, " "), d.opts.StartToken, d.opts.EndToken)
	logging.From(ctx).Debug("Caption decoded",
		slog.Int("steps", res.Steps),
		slog.String("stop", res.Stop.String()),
	)
	return res, nil
}
