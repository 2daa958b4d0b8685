// Package engine defines the contract between the summarization service and
// the modeling capability that actually tokenizes, generates and decodes.
// Implementations live in subpackages; the service only sees these
// interfaces.
package engine

import (
	"context"
	"errors"
	"strings"
)

// Device names a compute device a model can be placed on.
type Device string

const (
	// DeviceCPU is the general purpose processor. Every backend supports it.
	DeviceCPU Device = "cpu"

	// DeviceCUDA is a parallel accelerator.
	DeviceCUDA Device = "cuda"

	// DeviceAuto asks SelectDevice to prefer an accelerator when one exists.
	DeviceAuto Device = "auto"
)

// DefaultMaxInputTokens is the hard cap applied when encoding input text.
const DefaultMaxInputTokens = 1024

// Errors shared by backends.
var (
	ErrClosed          = errors.New("engine: handle is closed")
	ErrUnknownModel    = errors.New("engine: model cannot be loaded")
	ErrInvalidParams   = errors.New("engine: invalid generation parameters")
	ErrEmptyGeneration = errors.New("engine: generation produced no tokens")
)

// GenerationParams controls beam search decoding. Identical inputs, params
// and weights always produce identical output; there is no sampling.
type GenerationParams struct {
	MaxLength         int  `json:"max_length"`
	MinLength         int  `json:"min_length"`
	NumBeams          int  `json:"num_beams"`
	NoRepeatNgramSize int  `json:"no_repeat_ngram_size"`
	EarlyStopping     bool `json:"early_stopping"`
}

// Validate reports whether the parameters can be passed to a backend.
func (p GenerationParams) Validate() error {
	switch {
	case p.MaxLength <= 0:
		return errors.Join(ErrInvalidParams, errors.New("max_length must be positive"))
	case p.MinLength < 0 || p.MinLength > p.MaxLength:
		return errors.Join(ErrInvalidParams, errors.New("min_length must be between 0 and max_length"))
	case p.NumBeams <= 0:
		return errors.Join(ErrInvalidParams, errors.New("num_beams must be positive"))
	case p.NoRepeatNgramSize < 0:
		return errors.Join(ErrInvalidParams, errors.New("no_repeat_ngram_size must not be negative"))
	}
	return nil
}

// Tokenizer maps text to and from model specific token ids.
type Tokenizer interface {
	// Encode converts text into token ids, keeping at most maxTokens ids.
	Encode(ctx context.Context, text string, maxTokens int) ([]int64, error)

	// Decode converts token ids back to text. When skipSpecial is true,
	// control tokens (BOS, EOS, padding) are omitted.
	Decode(ctx context.Context, ids []int64, skipSpecial bool) (string, error)

	// Close releases any resources held by the tokenizer.
	Close() error
}

// Model generates output token ids from input token ids.
type Model interface {
	// Generate runs beam search decoding over ids.
	Generate(ctx context.Context, ids []int64, params GenerationParams) ([]int64, error)

	// Device returns the device the model was placed on.
	Device() Device

	// Close releases the weights and any backing process.
	Close() error
}

// HealthChecker is implemented by handles that can die on their own, such
// as a handle backed by an external process. A handle that reports false
// will fail every later call and should be reloaded.
type HealthChecker interface {
	Healthy() bool
}

// Healthy reports whether handle is usable. Handles that do not implement
// HealthChecker are healthy until closed.
func Healthy(handle any) bool {
	hc, ok := handle.(HealthChecker)
	return !ok || hc.Healthy()
}

// Backend loads tokenizers and models by identifier. Loading is expensive
// and may fail; callers are expected to cache what they load.
type Backend interface {
	// Name identifies the backend in logs and health reports.
	Name() string

	// Devices lists the devices this backend can place models on.
	Devices(ctx context.Context) ([]Device, error)

	// LoadTokenizer constructs the tokenizer for identifier.
	LoadTokenizer(ctx context.Context, identifier string) (Tokenizer, error)

	// LoadModel constructs the model for identifier on device.
	LoadModel(ctx context.Context, identifier string, device Device) (Model, error)
}

// ParseDevice converts a configuration value into a Device. Unrecognized
// and empty values mean DeviceAuto.
func ParseDevice(value string) Device {
	switch Device(strings.ToLower(strings.TrimSpace(value))) {
	case DeviceCPU:
		return DeviceCPU
	case DeviceCUDA, "gpu":
		return DeviceCUDA
	default:
		return DeviceAuto
	}
}

// SelectDevice picks where to place a model. An explicit preference wins
// when the backend offers it; otherwise an accelerator is preferred over the
// CPU.
func SelectDevice(available []Device, preference Device) Device {
	has := func(d Device) bool {
		for _, a := range available {
			if a == d {
				return true
			}
		}
		return false
	}

	if preference != DeviceAuto && preference != "" && has(preference) {
		return preference
	}
	if has(DeviceCUDA) {
		return DeviceCUDA
	}
	return DeviceCPU
}
