package generation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Resolution is the output resolution tier. Dimensions are multiples of 16
// as required by the Wan 2.2 model.
type Resolution string

const (
	// Resolution480p renders at 864x480.
	Resolution480p Resolution = "480p"
	// Resolution720p renders at 1280x720.
	Resolution720p Resolution = "720p"
)

// Dimensions returns the pixel width and height for the resolution tier.
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Resolution480p:
		return 864, 480
	case Resolution720p:
		return 1280, 720
	default:
		return 0, 0
	}
}

// IsValid returns true if the resolution is a known tier.
func (r Resolution) IsValid() bool {
	return r == Resolution480p || r == Resolution720p
}

// Estimate formula constants. The additive step and frame terms are measured
// against per-flow baselines: an image-conditioned job starts from the
// shortest configuration the model accepts for that flow, a text-only job
// may request shorter clips and therefore has a lower frame baseline.
const (
	estimateBaseSec      = 30
	estimate720pExtraSec = 30
	secPerExtraStep      = 2.0
	secPerExtraFrame     = 0.5

	// ImageStepBaseline is the step count baseline for image-driven jobs.
	ImageStepBaseline = 20
	// ImageFrameBaseline is the frame count baseline for image-driven jobs.
	ImageFrameBaseline = 25
	// TextStepBaseline is the step count baseline for text-only jobs.
	TextStepBaseline = 20
	// TextFrameBaseline is the frame count baseline for text-only jobs.
	TextFrameBaseline = 17
)

// Params is the validated generation configuration submitted by the client.
type Params struct {
	// Prompt is the text describing the desired video. Required for the
	// text-only flow, optional when an image drives generation.
	Prompt string `json:"prompt,omitempty" validate:"max=1000"`
	// ImageBase64 is the optional base64-encoded source image. A data URL
	// prefix (data:image/...;base64,) is accepted and stripped on submit.
	ImageBase64 string `json:"image,omitempty"`
	// Resolution is the output resolution tier.
	Resolution Resolution `json:"resolution" validate:"required,oneof=480p 720p"`
	// NumInferenceSteps is the diffusion step count.
	NumInferenceSteps int `json:"num_inference_steps" validate:"required,min=20,max=50"`
	// GuidanceScale controls prompt adherence.
	GuidanceScale float64 `json:"guidance_scale" validate:"required,min=1,max=20"`
	// NumFrames is the output frame count.
	NumFrames int `json:"num_frames" validate:"required,min=25,max=81"`
	// FPS is the output frame rate.
	FPS int `json:"fps" validate:"required,min=8,max=30"`
	// Seed is the optional deterministic seed.
	Seed *int64 `json:"seed,omitempty"`
}

// ImageDriven returns true when a source image conditions the generation.
func (p Params) ImageDriven() bool {
	return p.ImageBase64 != ""
}

// DefaultParams returns params with the documented default tuning values.
func DefaultParams() Params {
	return Params{
		Resolution:        Resolution720p,
		NumInferenceSteps: 40,
		GuidanceScale:     3.5,
		NumFrames:         81,
		FPS:               16,
	}
}

// FieldViolation describes a single out-of-range or missing field.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every violated field of a submission. It is
// returned before any provider call is made, so no partial state exists.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return "generation: invalid params: " + strings.Join(parts, "; ")
}

// paramsValidator is shared; validator.Validate is safe for concurrent use.
var paramsValidator = validator.New()

// Validate checks the params against the documented ranges, returning a
// *ValidationError listing every violation.
func (p Params) Validate() error {
	var violations []FieldViolation

	if err := paramsValidator.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("generation: validate params: %w", err)
		}
		for _, fe := range verrs {
			violations = append(violations, FieldViolation{
				Field:  fieldName(fe),
				Reason: violationReason(fe),
			})
		}
	}

	// The text-only flow has nothing to condition on without a prompt.
	if !p.ImageDriven() && strings.TrimSpace(p.Prompt) == "" {
		violations = append(violations, FieldViolation{
			Field:  "prompt",
			Reason: "prompt is required when no image is provided",
		})
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// fieldName maps a validator field error to the JSON field name.
func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "Prompt":
		return "prompt"
	case "Resolution":
		return "resolution"
	case "NumInferenceSteps":
		return "num_inference_steps"
	case "GuidanceScale":
		return "guidance_scale"
	case "NumFrames":
		return "num_frames"
	case "FPS":
		return "fps"
	default:
		return strings.ToLower(fe.Field())
	}
}

// violationReason renders a human-readable reason for a field error.
func violationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s constraint", fe.Tag())
	}
}

// EstimateTime computes the expected generation duration in seconds. It is a
// deterministic pure function of the params: a base constant, an additive
// resolution term, and additive step and frame terms relative to the
// per-flow baselines.
func EstimateTime(p Params) int {
	estimate := float64(estimateBaseSec)

	if p.Resolution == Resolution720p {
		estimate += estimate720pExtraSec
	}

	stepBaseline, frameBaseline := TextStepBaseline, TextFrameBaseline
	if p.ImageDriven() {
		stepBaseline, frameBaseline = ImageStepBaseline, ImageFrameBaseline
	}

	estimate += float64(p.NumInferenceSteps-stepBaseline) * secPerExtraStep
	estimate += float64(p.NumFrames-frameBaseline) * secPerExtraFrame

	return int(math.Round(estimate))
}
