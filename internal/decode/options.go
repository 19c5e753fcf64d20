package decode

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSampleInTraining is returned when sampling is requested while the
	// decoder is flagged as part of a training pass. Sampled sequences are not
	// differentiable, so the combination is refused.
	ErrSampleInTraining = errors.New("decode: sampling is not allowed in training mode")
	ErrInvalidOptions   = errors.New("decode: invalid options")
)

// Mode selects the decoding policy.
type Mode string

const (
	ModeGreedy Mode = "greedy"
	ModeSample Mode = "sample"
	ModeBeam   Mode = "beam"
)

// ParseMode accepts a mode name case-insensitively. The empty string is
// greedy.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeGreedy:
		return ModeGreedy, nil
	case ModeSample:
		return ModeSample, nil
	case ModeBeam:
		return ModeBeam, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (want greedy, sample or beam)", ErrInvalidOptions, s)
	}
}

// Phase names the decoder that issued a Step call.
type Phase string

const (
	PhaseGreedy Phase = "greedy"
	PhaseSample Phase = "sample"
	PhaseBeam   Phase = "beam"
	PhaseHidden Phase = "hidden"
)

// StepInfo describes one Step function invocation.
type StepInfo struct {
	Phase Phase
	// Item is the batch index for per-item beam search and -1 when all items
	// are stepped together.
	Item int
	// T is 0 for the conditioning step, then 1..SeqLength.
	T    int
	Rows int
}

// Options configures a Decoder.
type Options struct {
	Mode      Mode
	SeqLength int

	// BeamSize is the beam width K. Values below 1 mean 1.
	BeamSize int
	// RankByLikelihood orders finished beams by cumulative log-probability
	// instead of the length normalized negative log-probability.
	RankByLikelihood bool

	// Seed starts the sampling stream of batch row 0; row i uses Seed+i.
	Seed        int64
	Temperature float32
	// TopK limits sampling to the K highest scoring tokens. 0 keeps all.
	TopK int
	// TopP truncates sampling to the smallest set of tokens whose
	// probability reaches TopP. 0 or 1 disables it.
	TopP float32

	// Workers bounds how many batch items beam search decodes concurrently.
	Workers int

	Training bool

	// OnStep, when set, is called once per Step function invocation. It must
	// be safe for concurrent use when Workers > 1.
	OnStep func(StepInfo)
}

// Validate normalizes defaults and rejects inconsistent settings.
func (o *Options) Validate() error {
	mode, err := ParseMode(string(o.Mode))
	if err != nil {
		return err
	}
	o.Mode = mode
	if o.SeqLength <= 0 {
		return fmt.Errorf("%w: seq length must be positive, got %d", ErrInvalidOptions, o.SeqLength)
	}
	if o.Mode == ModeSample && o.Training {
		return ErrSampleInTraining
	}
	if o.BeamSize < 1 {
		o.BeamSize = 1
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Temperature < 0 {
		return fmt.Errorf("%w: temperature must not be negative", ErrInvalidOptions)
	}
	if o.TopK < 0 {
		return fmt.Errorf("%w: top-k must not be negative", ErrInvalidOptions)
	}
	if o.TopP < 0 || o.TopP > 1 {
		return fmt.Errorf("%w: top-p must be within [0, 1], got %g", ErrInvalidOptions, o.TopP)
	}
	if o.Mode == ModeSample && o.Temperature == 0 {
		o.Temperature = 1
	}
	return nil
}
