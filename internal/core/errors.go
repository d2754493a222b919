package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the point it happens so boundaries never inspect messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindDownload
	KindExtraction
	KindEmbedding
	KindStorage
	KindNotFound
	KindInvalidTransition
	KindInvalidInput
	KindConfig
	KindInterrupted
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindDownload:          "download",
	KindExtraction:        "extraction",
	KindEmbedding:         "embedding_provider",
	KindStorage:           "storage",
	KindNotFound:          "not_found",
	KindInvalidTransition: "invalid_transition",
	KindInvalidInput:      "invalid_input",
	KindConfig:            "config",
	KindInterrupted:       "interrupted",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidTransition  = errors.New("invalid document status transition")
	ErrBlobNotFound       = errors.New("blob not found")
	ErrInvalidChunkConfig = errors.New("chunk overlap must be smaller than chunk size")
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E wraps err with kind and op. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the outermost Kind in err's chain, falling back to the sentinel errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrBlobNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrInvalidChunkConfig):
		return KindConfig
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Tag is E for errors that are not yet classified. An error that already
// carries a Kind keeps it and only gains op as context.
func Tag(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return E(kind, op, err)
}
