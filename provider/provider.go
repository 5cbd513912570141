// Package provider searches remote imagery catalogues and fetches the
// reflectance bands of a chosen scene.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nci/vegindex/geometry"
)

const (
	BandBlue = "blue"
	BandRed  = "red"
	BandNIR  = "nir"
	BandSWIR = "swir16"
)

// RequiredBands must be present for a scene to be considered at all.
var RequiredBands = []string{BandRed, BandNIR}

// Scene is one dated acquisition in a provider catalogue.
type Scene struct {
	ID         string
	Collection string
	Date       time.Time
	CloudCover float64
	Platform   string
	Provider   string
	// Assets maps band names onto whatever the provider needs to fetch them.
	Assets map[string]string
}

func (s *Scene) HasBands(bands []string) bool {
	for _, b := range bands {
		if _, ok := s.Assets[b]; !ok {
			return false
		}
	}
	return true
}

type SearchParams struct {
	BBox          geometry.BBox
	Start         time.Time
	End           time.Time
	Limit         int
	MaxCloudCover float64
}

type FetchRequest struct {
	BBox   geometry.BBox
	Width  int
	Height int
}

// BandPayload carries encoded rasters. Providers that render a single
// multi band cube set Cube; the others fill Bands keyed by band name.
type BandPayload struct {
	Cube  []byte
	Bands map[string][]byte
}

type SceneProvider interface {
	Name() string
	Search(ctx context.Context, params *SearchParams) ([]*Scene, error)
	FetchBands(ctx context.Context, scene *Scene, req *FetchRequest) (*BandPayload, error)
}

// Error is a provider path failure with a stable code such as
// "planetary_fetch_failed_503".
type Error struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func statusError(provider, op string, resp *Response) *Error {
	return &Error{
		Provider: provider,
		Code:     fmt.Sprintf("%s_%s_failed_%d", provider, op, resp.StatusCode),
		Message:  fmt.Sprintf("%s returned HTTP %d: %s", op, resp.StatusCode, snippet(resp.Body)),
	}
}

// transportError classifies a failed call. Errors that already carry a
// provider code pass through untouched.
func transportError(provider, op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := "network"
	if isTimeout(err) {
		kind = "timeout"
	}
	return &Error{
		Provider: provider,
		Code:     fmt.Sprintf("%s_%s_failed_%s", provider, op, kind),
		Message:  err.Error(),
		Err:      err,
	}
}

func credentialsError(provider, msg string, err error) *Error {
	return &Error{
		Provider: provider,
		Code:     provider + "_credentials_missing_or_invalid",
		Message:  msg,
		Err:      err,
	}
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
