package processor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nci/vegindex/provider"
)

const (
	CodeBBoxRequired          = "bbox_required"
	CodeInvalidGeometry       = "invalid_geometry"
	CodeBandDimensionMismatch = "band_dimension_mismatch"
	CodeCubeMissingBands      = "reflectance_cube_missing_bands"
	CodeRasterDecodeFailed    = "raster_decode_failed"
	CodeRequiredBandMissing   = "required_band_missing"
	CodeAllProvidersFailed    = "all_providers_failed"
)

// ValidationError rejects a request before any provider is contacted.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DecodeError is raised while turning provider payloads into bands.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ProviderFailure records why one provider attempt was abandoned.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// AllProvidersFailedError carries every attempt in call order.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	codes := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		codes[i] = f.Code
	}
	return fmt.Sprintf("%s: %s", CodeAllProvidersFailed, strings.Join(codes, ", "))
}

func failureFromError(providerName string, err error) ProviderFailure {
	f := ProviderFailure{Provider: providerName, Message: err.Error()}

	var pe *provider.Error
	var de *DecodeError
	switch {
	case errors.As(err, &pe):
		f.Code = pe.Code
		f.Message = pe.Message
	case errors.As(err, &de):
		f.Code = de.Code
		f.Message = de.Message
	default:
		f.Code = providerName + "_failed"
	}
	return f
}

// ErrorPayload is the wire form of an ingest failure.
type ErrorPayload struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Providers []ProviderFailure `json:"providers"`
}

func NewErrorPayload(err error) *ErrorPayload {
	var ve *ValidationError
	var ae *AllProvidersFailedError
	switch {
	case errors.As(err, &ve):
		return &ErrorPayload{Error: ve.Code, Message: ve.Message, Providers: []ProviderFailure{}}
	case errors.As(err, &ae):
		return &ErrorPayload{
			Error:     CodeAllProvidersFailed,
			Message:   fmt.Sprintf("all %d imagery providers failed", len(ae.Failures)),
			Providers: ae.Failures,
		}
	default:
		return &ErrorPayload{Error: "ingest_failed", Message: err.Error(), Providers: []ProviderFailure{}}
	}
}
