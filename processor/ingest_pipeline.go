package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nci/vegindex/geometry"
	"github.com/nci/vegindex/metrics"
	"github.com/nci/vegindex/provider"
	"github.com/nci/vegindex/utils"
)

const WarningLowValidPixelRatio = "low_valid_pixel_ratio"

// IngestPipeline tries each provider in order until one yields a scene that
// decodes into a complete result.
type IngestPipeline struct {
	Context       context.Context
	Providers     []provider.SceneProvider
	Decoder       RasterDecoder
	Scorer        *SceneScorer
	Cache         utils.Cache
	CacheTTL      time.Duration
	Options       RequestOptions
	SearchLimit   int
	MaxCloudCover float64
	MinSignal     float64
	StressPolicy  utils.StressPolicy
	Palette       *utils.Palette
	Metrics       *metrics.MetricsCollector
	Now           func() time.Time
	Verbose       bool
}

func InitIngestPipeline(ctx context.Context, conf *utils.Config, providers []provider.SceneProvider, cache utils.Cache, mc *metrics.MetricsCollector) (*IngestPipeline, error) {
	scorer, err := NewSceneScorer(conf.Scoring)
	if err != nil {
		return nil, err
	}

	return &IngestPipeline{
		Context:   ctx,
		Providers: providers,
		Decoder:   TIFFDecoder{},
		Scorer:    scorer,
		Cache:     cache,
		CacheTTL:  conf.ServiceConfig.CacheTTL(),
		Options: RequestOptions{
			DefaultWindowDays: conf.Index.DefaultWindow,
			NativeResolution:  conf.Index.NativeResolution,
			MaxFetchSize:      conf.Index.MaxFetchSize,
		},
		SearchLimit:   conf.Providers.SearchLimit,
		MaxCloudCover: conf.Providers.MaxCloudCover,
		MinSignal:     conf.Index.MinSignal,
		StressPolicy:  *conf.StressPolicy,
		Palette:       conf.Palette,
		Metrics:       mc,
		Now:           time.Now,
		Verbose:       conf.ServiceConfig.Verbose,
	}, nil
}

func (p *IngestPipeline) ctx() context.Context {
	if p.Context == nil {
		return context.Background()
	}
	return p.Context
}

func (p *IngestPipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *IngestPipeline) ingestInfo() *metrics.IngestInfo {
	if p.Metrics == nil || p.Metrics.Info.Ingest == nil {
		return &metrics.IngestInfo{}
	}
	return p.Metrics.Info.Ingest
}

// Ingest runs one request to completion. It returns *ValidationError for
// bad input and *AllProvidersFailedError when every provider failed.
func (p *IngestPipeline) Ingest(req *IngestRequest) (*IngestResult, error) {
	t0 := time.Now()
	ctx := p.ctx()
	now := p.now()
	info := p.ingestInfo()
	defer func() { info.Duration = time.Since(t0) }()

	nreq, err := NormalizeRequest(req, now, p.Options)
	if err != nil {
		return nil, err
	}

	info.BBox = nreq.BBox.Slice()
	info.TargetSize = nreq.TargetSize
	info.Policy = nreq.Policy
	if nreq.Polygon != nil {
		info.SetRing(nreq.Polygon.Ring)
	}

	key := nreq.CacheKey()
	if p.Cache != nil {
		if data, ok := p.Cache.Get(ctx, key); ok {
			var cached IngestResult
			if err := json.Unmarshal(data, &cached); err == nil {
				info.CacheHit = true
				info.Provider = cached.Provider
				info.SceneID = cached.SceneRef.SceneID
				return &cached, nil
			}
		}
	}

	if p.Scorer == nil {
		p.Scorer, err = NewSceneScorer(nil)
		if err != nil {
			return nil, err
		}
	}

	var failures []ProviderFailure
	for i, prov := range p.Providers {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ingest cancelled: %w", ctx.Err())
		}

		ta := time.Now()
		result, err := p.attempt(ctx, prov, nreq, now, info)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("ingest cancelled: %w", ctx.Err())
			}
			f := failureFromError(prov.Name(), err)
			failures = append(failures, f)
			info.AddAttempt(f.Provider, f.Code, time.Since(ta))
			if p.Verbose {
				log.Printf("ingest: provider %s failed: %s: %s", f.Provider, f.Code, f.Message)
			}
			continue
		}
		info.AddAttempt(prov.Name(), "", time.Since(ta))

		result.Provider = prov.Name()
		result.FallbackUsed = i > 0
		result.Attempts = failures

		info.Provider = result.Provider
		info.SceneID = result.SceneRef.SceneID
		info.FallbackUsed = result.FallbackUsed
		info.ValidPixelRatio = result.NDVI.ValidPixelRatio

		if p.Cache != nil {
			if data, err := json.Marshal(result); err == nil {
				if err := p.Cache.Set(ctx, key, data, p.CacheTTL); err != nil && p.Verbose {
					log.Printf("ingest: cache set error: %v", err)
				}
			}
		}
		return result, nil
	}

	return nil, &AllProvidersFailedError{Failures: failures}
}

func (p *IngestPipeline) attempt(ctx context.Context, prov provider.SceneProvider, nreq *NormalizedIngestRequest, now time.Time, info *metrics.IngestInfo) (*IngestResult, error) {
	scenes, err := prov.Search(ctx, &provider.SearchParams{
		BBox:          nreq.BBox,
		Start:         nreq.Start,
		End:           nreq.End,
		Limit:         p.SearchLimit,
		MaxCloudCover: p.MaxCloudCover,
	})
	if err != nil {
		return nil, err
	}

	scene, err := p.Scorer.SelectScene(scenes, nreq, now)
	if err != nil {
		return nil, err
	}
	if scene == nil {
		return nil, &provider.Error{
			Provider: prov.Name(),
			Code:     prov.Name() + "_no_qualifying_scene",
			Message:  fmt.Sprintf("none of %d scenes carries the %v bands", len(scenes), provider.RequiredBands),
		}
	}
	if p.Verbose {
		log.Printf("ingest: %s selected scene %s (%s, %.1f%% cloud)", prov.Name(), scene.ID, scene.Date.Format(dateLayout), scene.CloudCover)
	}

	payload, err := prov.FetchBands(ctx, scene, &provider.FetchRequest{
		BBox:   nreq.BBox,
		Width:  nreq.FetchWidth,
		Height: nreq.FetchHeight,
	})
	if err != nil {
		return nil, err
	}
	info.BytesRead += int64(len(payload.Cube))
	for _, b := range payload.Bands {
		info.BytesRead += int64(len(b))
	}

	red, nir, swir, err := p.decodeBands(payload)
	if err != nil {
		return nil, err
	}

	ndvi, err := ComputeIndexGrid(nir, red, p.minSignal())
	if err != nil {
		return nil, err
	}
	var ndmi *IndexGrid
	if swir != nil {
		ndmi, err = ComputeIndexGrid(nir, swir, p.minSignal())
		if err != nil {
			return nil, err
		}
	}

	result, err := p.finalize(nreq, ndvi, ndmi)
	if err != nil {
		return nil, &DecodeError{Code: CodeRasterDecodeFailed, Message: err.Error()}
	}

	result.Imagery = Imagery{
		ID:         scene.ID,
		Date:       scene.Date.Format(dateLayout),
		CloudCover: scene.CloudCover,
		Platform:   scene.Platform,
	}
	result.SceneRef = SceneRef{
		Provider:  prov.Name(),
		SceneID:   scene.ID,
		SceneDate: scene.Date.Format(time.RFC3339),
	}
	return result, nil
}

func (p *IngestPipeline) minSignal() float64 {
	if p.MinSignal <= 0 {
		return DefaultMinSignal
	}
	return p.MinSignal
}

func (p *IngestPipeline) decoder() RasterDecoder {
	if p.Decoder == nil {
		return TIFFDecoder{}
	}
	return p.Decoder
}

// decodeBands returns red, nir and, when the payload has it, swir16.
func (p *IngestPipeline) decodeBands(payload *provider.BandPayload) (*BandRaster, *BandRaster, *BandRaster, error) {
	if payload.Cube != nil {
		raw, err := p.decoder().Decode(payload.Cube)
		if err != nil {
			return nil, nil, nil, err
		}
		cube, err := DecodeCube(raw)
		if err != nil {
			return nil, nil, nil, err
		}
		// blue, red, nir, swir16
		return cube[1], cube[2], cube[3], nil
	}

	decoded := make(map[string]*BandRaster, len(payload.Bands))
	for _, band := range []string{provider.BandRed, provider.BandNIR, provider.BandSWIR} {
		data, ok := payload.Bands[band]
		if !ok {
			continue
		}
		raw, err := p.decoder().Decode(data)
		if err != nil {
			return nil, nil, nil, err
		}
		decoded[band], err = DecodeBand(raw)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	red, nir, swir := decoded[provider.BandRed], decoded[provider.BandNIR], decoded[provider.BandSWIR]
	if red == nil || nir == nil {
		return nil, nil, nil, &DecodeError{Code: CodeRequiredBandMissing, Message: "payload lacks the red or nir band"}
	}
	if err := CheckDimensions(red, nir, swir); err != nil {
		return nil, nil, nil, err
	}
	return red, nir, swir, nil
}

func metricGrid(grid *IndexGrid, st Stats) MetricGrid {
	return MetricGrid{
		Encoded:          utils.EncodeFloat32Base64(grid.Values),
		ValidMaskEncoded: utils.EncodeMaskBase64(grid.ValidMask),
		Width:            grid.Width,
		Height:           grid.Height,
		Min:              st.Min,
		Max:              st.Max,
	}
}

// finalize downsamples the index grids and derives every summary from the
// downsampled NDVI grid.
func (p *IngestPipeline) finalize(nreq *NormalizedIngestRequest, ndvi, ndmi *IndexGrid) (*IngestResult, error) {
	ds := ndvi.Downsample(nreq.TargetSize)
	aoi := geometry.BuildAoiMask(nreq.BBox, ds.Width, ds.Height, nreq.Polygon)
	gs := ComputeStats(ds, aoi)

	preview, err := EncodePreviewPNG(ds, aoi, p.Palette)
	if err != nil {
		return nil, err
	}

	block := &NDVIBlock{
		PreviewPNG:      base64.StdEncoding.EncodeToString(preview),
		Width:           ds.Width,
		Height:          ds.Height,
		Stats:           gs.Stats,
		ValidPixelRatio: gs.ValidPixelRatio,
		AoiMaskMeta:     AoiMaskMeta{Applied: aoi.Applied, CoveredPixelRatio: aoi.CoveredPixelRatio},
		Grid3x3:         ComputeGrid3x3(ds, aoi, p.StressPolicy),
		CellFootprints:  CellFootprints(ds.Width, ds.Height, nreq.BBox, nreq.Polygon, aoi),
		MetricGrid:      metricGrid(ds, gs.Stats),
	}
	if gs.ValidPixelRatio < p.StressPolicy.LowValidPixelWarning {
		block.Warnings = append(block.Warnings, WarningLowValidPixelRatio)
	}

	result := &IngestResult{
		BBox:      nreq.BBox.Slice(),
		Alignment: geometry.DeriveAlignment(nreq.BBox, ds.Width, ds.Height),
		NDVI:      block,
	}

	if ndmi != nil {
		dm := ndmi.Downsample(nreq.TargetSize)
		ms := ComputeStats(dm, aoi)
		result.NDMI = &NDMIBlock{
			MetricGrid:      metricGrid(dm, ms.Stats),
			Stats:           ms.Stats,
			ValidPixelRatio: ms.ValidPixelRatio,
		}
	}
	return result, nil
}
