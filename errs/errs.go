// Package errs defines the failure kinds reported by the captioning pipeline.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindModelLoad
	KindTokenizerUnavailable
	KindImageDecode
	KindInference
	KindNotReady
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindModelLoad:
		return "ModelLoadFailure"
	case KindTokenizerUnavailable:
		return "TokenizerUnavailable"
	case KindImageDecode:
		return "ImageDecodeFailure"
	case KindInference:
		return "InferenceFailure"
	case KindNotReady:
		return "NotReady"
	case KindInvalidRequest:
		return "InvalidRequest"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Error carries a Kind through wrapping. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is. A tokenizer failure also counts as a model load failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindModelLoad && e.Kind == KindTokenizerUnavailable
}

var (
	ErrModelLoad            = &Error{Kind: KindModelLoad}
	ErrTokenizerUnavailable = &Error{Kind: KindTokenizerUnavailable}
	ErrImageDecode          = &Error{Kind: KindImageDecode}
	ErrInference            = &Error{Kind: KindInference}
	ErrNotReady             = &Error{Kind: KindNotReady}
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
)

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ModelLoad(op string, err error) error   { return New(KindModelLoad, op, err) }
func ImageDecode(op string, err error) error { return New(KindImageDecode, op, err) }
func Inference(op string, err error) error   { return New(KindInference, op, err) }

func TokenizerUnavailable(op string, err error) error {
	return New(KindTokenizerUnavailable, op, err)
}

func NotReady(msg string) error {
	return New(KindNotReady, "", errors.New(msg))
}

func InvalidRequest(msg string) error {
	return New(KindInvalidRequest, "", errors.New(msg))
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
