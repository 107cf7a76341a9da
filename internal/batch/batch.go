// Package batch turns per-call sequence metadata into the token ranges each
// sample occupies in a flat, possibly padded, batch.
package batch

import (
	"errors"
	"fmt"
)

var (
	ErrAmbiguousMetadata = errors.New("batch: both prompt and context lengths are set")
	ErrMissingMetadata   = errors.New("batch: neither prompt nor context lengths are set")
	ErrInvalidLength     = errors.New("batch: sequence length must be positive")
	ErrShortBatch        = errors.New("batch: declared lengths exceed token count")
)

// Phase distinguishes a prompt pass from incremental generation.
type Phase uint8

const (
	// PhasePrefill: each sample contributes its whole prompt.
	PhasePrefill Phase = iota
	// PhaseDecode: each sample contributes exactly one new token.
	PhaseDecode
)

func (p Phase) String() string {
	switch p {
	case PhasePrefill:
		return "prefill"
	case PhaseDecode:
		return "decode"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Metadata is what the scheduler hands over for one forward call. Exactly one
// of the two fields is populated; a non-nil empty slice is a valid batch of
// zero samples.
type Metadata struct {
	// PromptLens holds per-sample prompt lengths during prefill.
	PromptLens []int `json:"prompt_lens,omitempty" yaml:"prompt_lens,omitempty"`
	// ContextLens holds per-sample context lengths during decode.
	ContextLens []int `json:"context_lens,omitempty" yaml:"context_lens,omitempty"`
}

// Prefill is a convenience constructor for prefill metadata.
func Prefill(lens ...int) Metadata {
	if lens == nil {
		lens = []int{}
	}
	return Metadata{PromptLens: lens}
}

// Decode is a convenience constructor for decode metadata.
func Decode(contextLens ...int) Metadata {
	if contextLens == nil {
		contextLens = []int{}
	}
	return Metadata{ContextLens: contextLens}
}

// Descriptor is the validated, per-call view of a batch.
type Descriptor struct {
	Lens  []int
	Phase Phase
}

// FromMetadata validates md and builds a Descriptor from it.
func FromMetadata(md Metadata) (Descriptor, error) {
	var d Descriptor
	switch {
	case md.PromptLens != nil && md.ContextLens != nil:
		return d, ErrAmbiguousMetadata
	case md.PromptLens != nil:
		d = Descriptor{Lens: md.PromptLens, Phase: PhasePrefill}
	case md.ContextLens != nil:
		d = Descriptor{Lens: md.ContextLens, Phase: PhaseDecode}
	default:
		return d, ErrMissingMetadata
	}
	for i, n := range d.Lens {
		if n <= 0 {
			return Descriptor{}, fmt.Errorf("%w: sample %d has length %d", ErrInvalidLength, i, n)
		}
	}
	return d, nil
}

// NumSamples is the number of sequences in the batch.
func (d Descriptor) NumSamples() int { return len(d.Lens) }

// Width is the number of tokens sample i declares in the flat buffers.
func (d Descriptor) Width(i int) int {
	if d.Phase == PhaseDecode {
		return 1
	}
	return d.Lens[i]
}

// Offsets returns NumSamples+1 flat token offsets; sample i declares
// [offsets[i], offsets[i+1]).
func (d Descriptor) Offsets() []int {
	offsets := make([]int, len(d.Lens)+1)
	for i := range d.Lens {
		offsets[i+1] = offsets[i] + d.Width(i)
	}
	return offsets
}

// Span is the token range one sample owns in the flat buffers.
type Span struct {
	Sample int
	Start  int
	End    int
	// TrueLen is the sample's sequence length (prompt or context length).
	TrueLen int
}

// Len is the number of token rows in the span.
func (s Span) Len() int { return s.End - s.Start }

// Spans lays the samples out over tokens rows. The last sample's span runs to
// the end of the buffer so trailing padding rows are carried with it.
func (d Descriptor) Spans(tokens int) ([]Span, error) {
	if len(d.Lens) == 0 {
		return nil, nil
	}
	offsets := d.Offsets()
	if declared := offsets[len(d.Lens)]; declared > tokens {
		return nil, fmt.Errorf("%w: %s lengths declare %d tokens, batch has %d", ErrShortBatch, d.Phase, declared, tokens)
	}
	spans := make([]Span, len(d.Lens))
	for i, n := range d.Lens {
		spans[i] = Span{Sample: i, Start: offsets[i], End: offsets[i+1], TrueLen: n}
	}
	spans[len(spans)-1].End = tokens
	return spans, nil
}
