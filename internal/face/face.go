// Package face turns a selfie into a face descriptor and compares
// descriptors against an enrolled reference.
//
// Detection itself is delegated to a Model. The package owns everything
// around it: the once-only model load, image preprocessing, the quality
// gates and the extraction timeout.
package face

import (
	"context"
	"errors"
)

// Embedding is a face descriptor, 128 values for the production model.
type Embedding []float32

// Box is the detected face's bounding box in pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is the single most confident face found in an image.
type Detection struct {
	Score      float64
	Box        Box
	Descriptor Embedding
}

// DetectOptions tunes a single detection call.
type DetectOptions struct {
	MinConfidence float64
}

// Model is a face detector plus descriptor network. Detect returns a nil
// Detection and a nil error when no face clears MinConfidence.
type Model interface {
	Load(ctx context.Context) error
	Detect(ctx context.Context, jpeg []byte, opts DetectOptions) (*Detection, error)
}

var (
	ErrNoFaceDetected   = errors.New("no face detected")
	ErrFaceTooUnclear   = errors.New("face too unclear")
	ErrFaceTooSmall     = errors.New("face too small")
	ErrTimeout          = errors.New("face extraction timed out")
	ErrModelUnavailable = errors.New("face model unavailable")
	ErrUnsupportedImage = errors.New("unsupported image format")
)
