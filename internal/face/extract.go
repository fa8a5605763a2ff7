package face

import (
	"context"
	"fmt"
	"math"
	"time"

	"hostelhub/internal/metrics"
)

// Detection thresholds applied to the model's best face.
const (
	MinDetectConfidence = 0.35
	MinLiveScore        = 0.40
	MinFacePixels       = 40
	DefaultTimeout      = 8 * time.Second
)

// Extractor produces a descriptor for the single face in a photo.
type Extractor struct {
	engine  *Engine
	timeout time.Duration
	metrics *metrics.Collectors
}

// NewExtractor returns an Extractor bounded by timeout per call.
func NewExtractor(engine *Engine, timeout time.Duration, m *metrics.Collectors) *Extractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Extractor{engine: engine, timeout: timeout, metrics: m}
}

type extractResult struct {
	det *Detection
	err error
}

// Extract waits for the model, then preprocesses and detects under the
// extraction timeout. When the timer fires first the in-flight work is
// abandoned and ErrTimeout returned.
func (x *Extractor) Extract(ctx context.Context, photo []byte) (Embedding, error) {
	model, err := x.engine.Wait(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	done := make(chan extractResult, 1)
	go func() {
		jpeg, err := Preprocess(photo)
		if err != nil {
			done <- extractResult{err: err}
			return
		}
		det, err := model.Detect(ctx, jpeg, DetectOptions{MinConfidence: MinDetectConfidence})
		done <- extractResult{det: det, err: err}
	}()

	timer := time.NewTimer(x.timeout)
	defer timer.Stop()

	var res extractResult
	select {
	case res = <-done:
	case <-timer.C:
		res = extractResult{err: ErrTimeout}
	case <-ctx.Done():
		res = extractResult{err: ctx.Err()}
	}
	x.metrics.ObserveExtract(time.Since(start), res.err)
	if res.err != nil {
		return nil, fmt.Errorf("extract face: %w", res.err)
	}
	return gate(res.det)
}

func gate(det *Detection) (Embedding, error) {
	if det == nil || len(det.Descriptor) == 0 {
		return nil, ErrNoFaceDetected
	}
	if det.Score < MinLiveScore {
		return nil, ErrFaceTooUnclear
	}
	if math.Min(det.Box.Width, det.Box.Height) < MinFacePixels {
		return nil, ErrFaceTooSmall
	}
	return det.Descriptor, nil
}
