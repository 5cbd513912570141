package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/vegindex/metrics"
	"github.com/nci/vegindex/provider"
	"github.com/nci/vegindex/utils"
)

type fakeProvider struct {
	name      string
	scenes    []*provider.Scene
	searchErr error
	payload   *provider.BandPayload
	fetchErr  error

	searches int
	fetches  int
	lastReq  *provider.FetchRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, params *provider.SearchParams) ([]*provider.Scene, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.scenes, nil
}

func (f *fakeProvider) FetchBands(ctx context.Context, scene *provider.Scene, req *provider.FetchRequest) (*provider.BandPayload, error) {
	f.fetches++
	f.lastReq = req
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.payload, nil
}

var testBBox = []float64{149.0, -35.4, 149.1, -35.3}

func goodScene(id string) *provider.Scene {
	return &provider.Scene{
		ID:         id,
		Date:       time.Date(2024, 5, 10, 0, 7, 41, 0, time.UTC),
		CloudCover: 12.5,
		Platform:   "sentinel-2a",
		Assets:     map[string]string{provider.BandRed: "r", provider.BandNIR: "n", provider.BandSWIR: "s"},
	}
}

func bandPayload(t *testing.T, w, h int) *provider.BandPayload {
	return &provider.BandPayload{Bands: map[string][]byte{
		provider.BandRed:  gray16TIFF(t, w, h, func(x, y int) uint16 { return 500 }),
		provider.BandNIR:  gray16TIFF(t, w, h, func(x, y int) uint16 { return 3000 }),
		provider.BandSWIR: gray16TIFF(t, w, h, func(x, y int) uint16 { return 1500 }),
	}}
}

func newTestPipeline(providers ...provider.SceneProvider) *IngestPipeline {
	p, _ := InitIngestPipeline(context.Background(), utils.NewConfig(), providers, nil, metrics.NewMetricsCollector(nil))
	p.Now = func() time.Time { return testNow }
	return p
}

func providerErr(name, code string) error {
	return &provider.Error{Provider: name, Code: code, Message: code}
}

func TestIngestAllProvidersFail(t *testing.T) {
	a := &fakeProvider{name: "sentinelhub", searchErr: providerErr("sentinelhub", "sentinelhub_credentials_missing_or_invalid")}
	b := &fakeProvider{name: "planetary", scenes: []*provider.Scene{goodScene("x")}, fetchErr: providerErr("planetary", "planetary_fetch_failed_500")}

	p := newTestPipeline(a, b)
	result, err := p.Ingest(&IngestRequest{BBox: testBBox})
	assert.Nil(t, result)

	var ae *AllProvidersFailedError
	require.True(t, errors.As(err, &ae))
	require.Len(t, ae.Failures, 2)
	assert.Equal(t, ProviderFailure{Provider: "sentinelhub", Code: "sentinelhub_credentials_missing_or_invalid", Message: "sentinelhub_credentials_missing_or_invalid"}, ae.Failures[0])
	assert.Equal(t, "planetary", ae.Failures[1].Provider)
	assert.Equal(t, "planetary_fetch_failed_500", ae.Failures[1].Code)

	payload := NewErrorPayload(err)
	assert.Equal(t, CodeAllProvidersFailed, payload.Error)
	assert.Len(t, payload.Providers, 2)

	attempts := p.Metrics.Info.Ingest.Attempts
	require.Len(t, attempts, 2)
	assert.Equal(t, "planetary_fetch_failed_500", attempts[1].Code)
}

func TestIngestFallback(t *testing.T) {
	noScene := &fakeProvider{name: "sentinelhub", scenes: []*provider.Scene{{ID: "bare", Assets: map[string]string{}}}}
	badDims := &fakeProvider{name: "planetary", scenes: []*provider.Scene{goodScene("dims")}, payload: &provider.BandPayload{Bands: map[string][]byte{
		provider.BandRed: gray16TIFF(t, 8, 8, func(x, y int) uint16 { return 500 }),
		provider.BandNIR: gray16TIFF(t, 4, 4, func(x, y int) uint16 { return 3000 }),
	}}}
	good := &fakeProvider{name: "earthsearch", scenes: []*provider.Scene{goodScene("S2A_OK")}, payload: bandPayload(t, 8, 8)}

	p := newTestPipeline(noScene, badDims, good)
	result, err := p.Ingest(&IngestRequest{BBox: testBBox, Date: "2024-05-01/2024-05-15"})
	require.NoError(t, err)

	assert.Equal(t, "earthsearch", result.Provider)
	assert.True(t, result.FallbackUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "sentinelhub_no_qualifying_scene", result.Attempts[0].Code)
	assert.Equal(t, CodeBandDimensionMismatch, result.Attempts[1].Code)

	assert.Equal(t, Imagery{ID: "S2A_OK", Date: "2024-05-10", CloudCover: 12.5, Platform: "sentinel-2a"}, result.Imagery)
	assert.Equal(t, SceneRef{Provider: "earthsearch", SceneID: "S2A_OK", SceneDate: "2024-05-10T00:07:41Z"}, result.SceneRef)
	assert.Equal(t, testBBox, result.BBox)
	assert.Equal(t, "EPSG:4326", result.Alignment.CRS)
	assert.Equal(t, 8, result.Alignment.Width)

	ndvi := result.NDVI
	require.NotNil(t, ndvi)
	assert.Equal(t, 8, ndvi.Width)
	assert.Equal(t, 8, ndvi.Height)
	assert.Equal(t, 1.0, ndvi.ValidPixelRatio)
	assert.InDelta(t, 0.25/0.35, ndvi.Stats.Mean, 1e-6)
	assert.Len(t, ndvi.Grid3x3, 9)
	assert.Len(t, ndvi.CellFootprints, 9)
	assert.Empty(t, ndvi.Warnings)
	assert.False(t, ndvi.AoiMaskMeta.Applied)
	assert.NotEmpty(t, ndvi.PreviewPNG)
	for _, c := range ndvi.Grid3x3 {
		assert.Equal(t, StressLow, c.StressLevel)
	}

	values, err := utils.DecodeFloat32Base64(ndvi.MetricGrid.Encoded)
	require.NoError(t, err)
	assert.Len(t, values, 64)
	mask, err := utils.DecodeMaskBase64(ndvi.MetricGrid.ValidMaskEncoded)
	require.NoError(t, err)
	assert.Len(t, mask, 64)

	require.NotNil(t, result.NDMI)
	assert.InDelta(t, 0.15/0.45, result.NDMI.Stats.Mean, 1e-6)

	require.NotNil(t, good.lastReq)
	assert.Equal(t, noScene.fetches, 0)

	info := p.Metrics.Info.Ingest
	assert.Equal(t, "earthsearch", info.Provider)
	assert.True(t, info.FallbackUsed)
	assert.Len(t, info.Attempts, 3)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fallbackUsed":true`)
}

func TestIngestCube(t *testing.T) {
	cube := &fakeProvider{
		name:    "sentinelhub",
		scenes:  []*provider.Scene{goodScene("cube")},
		payload: &provider.BandPayload{Cube: cubeTIFF(t, 6, 6, 100, 500, 3000, 1500)},
	}
	p := newTestPipeline(cube)
	result, err := p.Ingest(&IngestRequest{BBox: testBBox})
	require.NoError(t, err)
	assert.False(t, result.FallbackUsed)
	assert.Nil(t, result.Attempts)
	assert.InDelta(t, 0.25/0.35, result.NDVI.Stats.Mean, 1e-6)
	require.NotNil(t, result.NDMI)
}

func TestIngestLowValidWarning(t *testing.T) {
	sparse := &fakeProvider{name: "planetary", scenes: []*provider.Scene{goodScene("sparse")}, payload: &provider.BandPayload{Bands: map[string][]byte{
		provider.BandRed: gray16TIFF(t, 6, 6, func(x, y int) uint16 { return 500 }),
		provider.BandNIR: gray16TIFF(t, 6, 6, func(x, y int) uint16 {
			if x == 0 {
				return 3000
			}
			return 0
		}),
	}}}
	p := newTestPipeline(sparse)
	result, err := p.Ingest(&IngestRequest{BBox: testBBox})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/6, result.NDVI.ValidPixelRatio, 1e-9)
	assert.Equal(t, []string{WarningLowValidPixelRatio}, result.NDVI.Warnings)
	assert.Nil(t, result.NDMI)
}

func TestIngestWithAoi(t *testing.T) {
	good := &fakeProvider{name: "earthsearch", scenes: []*provider.Scene{goodScene("aoi")}, payload: bandPayload(t, 10, 10)}
	p := newTestPipeline(good)

	geom := json.RawMessage(`{"type":"Polygon","coordinates":[[[149.0,-35.4],[149.05,-35.4],[149.05,-35.3],[149.0,-35.3],[149.0,-35.4]]]}`)
	result, err := p.Ingest(&IngestRequest{BBox: testBBox, Geometry: geom})
	require.NoError(t, err)
	assert.True(t, result.NDVI.AoiMaskMeta.Applied)
	assert.InDelta(t, 0.5, result.NDVI.AoiMaskMeta.CoveredPixelRatio, 1e-9)
	assert.Equal(t, 1.0, result.NDVI.ValidPixelRatio)
	assert.NotNil(t, result.NDVI.CellFootprints[0].Polygon)
	assert.Nil(t, result.NDVI.CellFootprints[2].Polygon)
}

func TestIngestDownsamplesToTargetSize(t *testing.T) {
	good := &fakeProvider{name: "earthsearch", scenes: []*provider.Scene{goodScene("large")}, payload: bandPayload(t, 300, 200)}
	p := newTestPipeline(good)

	target := 128.0
	geom := json.RawMessage(`{"type":"Polygon","coordinates":[[[149.0,-35.4],[149.05,-35.4],[149.05,-35.3],[149.0,-35.3],[149.0,-35.4]]]}`)
	result, err := p.Ingest(&IngestRequest{BBox: testBBox, Geometry: geom, TargetSize: &target})
	require.NoError(t, err)
	assert.Equal(t, 128, p.Metrics.Info.Ingest.TargetSize)

	ndvi := result.NDVI
	assert.Equal(t, 128, ndvi.Width)
	assert.Equal(t, 85, ndvi.Height)
	assert.Equal(t, 128, result.Alignment.Width)
	assert.Equal(t, 85, result.Alignment.Height)
	assert.InDelta(t, 0.1/128, result.Alignment.PixelSizeLon, 1e-12)
	assert.InDelta(t, 0.1/85, result.Alignment.PixelSizeLat, 1e-12)

	assert.InDelta(t, 0.25/0.35, ndvi.Stats.Mean, 1e-6)
	assert.Equal(t, 1.0, ndvi.ValidPixelRatio)
	assert.True(t, ndvi.AoiMaskMeta.Applied)
	assert.InDelta(t, 0.5, ndvi.AoiMaskMeta.CoveredPixelRatio, 1e-9)
	assert.Len(t, ndvi.Grid3x3, 9)
	assert.Len(t, ndvi.CellFootprints, 9)

	assert.Equal(t, 128, ndvi.MetricGrid.Width)
	assert.Equal(t, 85, ndvi.MetricGrid.Height)
	values, err := utils.DecodeFloat32Base64(ndvi.MetricGrid.Encoded)
	require.NoError(t, err)
	assert.Len(t, values, 128*85)
	mask, err := utils.DecodeMaskBase64(ndvi.MetricGrid.ValidMaskEncoded)
	require.NoError(t, err)
	assert.Len(t, mask, 128*85)

	require.NotNil(t, result.NDMI)
	assert.Equal(t, 128, result.NDMI.MetricGrid.Width)
	assert.Equal(t, 85, result.NDMI.MetricGrid.Height)
	assert.InDelta(t, 0.15/0.45, result.NDMI.Stats.Mean, 1e-6)
}

func TestIngestValidationSkipsProviders(t *testing.T) {
	a := &fakeProvider{name: "sentinelhub", scenes: []*provider.Scene{goodScene("x")}}
	p := newTestPipeline(a)

	_, err := p.Ingest(&IngestRequest{BBox: []float64{1, 1, 0, 0}})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, CodeBBoxRequired, ve.Code)

	_, err = p.Ingest(&IngestRequest{BBox: testBBox, Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`)})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, CodeInvalidGeometry, ve.Code)

	assert.Equal(t, 0, a.searches)

	payload := NewErrorPayload(err)
	assert.Equal(t, CodeInvalidGeometry, payload.Error)
	assert.Empty(t, payload.Providers)
}

func TestIngestCache(t *testing.T) {
	good := &fakeProvider{name: "earthsearch", scenes: []*provider.Scene{goodScene("cached")}, payload: bandPayload(t, 4, 4)}
	p := newTestPipeline(good)
	p.Cache = utils.NewMemoryCache()

	first, err := p.Ingest(&IngestRequest{BBox: testBBox, Date: "2024-05-01/2024-05-15"})
	require.NoError(t, err)
	second, err := p.Ingest(&IngestRequest{BBox: testBBox, Date: "2024-05-01/2024-05-15"})
	require.NoError(t, err)

	assert.Equal(t, 1, good.searches)
	assert.Equal(t, first.SceneRef, second.SceneRef)
	assert.Equal(t, first.NDVI.MetricGrid, second.NDVI.MetricGrid)
	assert.True(t, p.Metrics.Info.Ingest.CacheHit)
}

func TestIngestCancelled(t *testing.T) {
	a := &fakeProvider{name: "sentinelhub", scenes: []*provider.Scene{goodScene("x")}}
	p := newTestPipeline(a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Context = ctx

	result, err := p.Ingest(&IngestRequest{BBox: testBBox})
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, context.Canceled))

	var ae *AllProvidersFailedError
	assert.False(t, errors.As(err, &ae))
}

func TestIngestNoProviders(t *testing.T) {
	p := newTestPipeline()
	_, err := p.Ingest(&IngestRequest{BBox: testBBox})
	var ae *AllProvidersFailedError
	require.True(t, errors.As(err, &ae))
	assert.Empty(t, ae.Failures)
}
