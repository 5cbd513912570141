package provider

import (
	"context"
	"strings"
)

// EarthSearch queries the Element84 Earth Search catalogue and crops the
// band COGs through a titiler compatible endpoint.
type EarthSearch struct {
	STACURL    string
	TilerURL   string
	Collection string
	Fetcher    Fetcher
	Verbose    bool
}

var earthSearchAssets = map[string]string{
	"red":    BandRed,
	"nir":    BandNIR,
	"swir16": BandSWIR,
}

func (p *EarthSearch) Name() string { return "earthsearch" }

func (p *EarthSearch) Search(ctx context.Context, params *SearchParams) ([]*Scene, error) {
	s := &stacSearcher{
		provider:   p.Name(),
		url:        strings.TrimRight(p.STACURL, "/") + "/search",
		collection: p.Collection,
		assetBands: earthSearchAssets,
		fetcher:    p.Fetcher,
		verbose:    p.Verbose,
	}
	return s.search(ctx, params, nil)
}

func (p *EarthSearch) FetchBands(ctx context.Context, scene *Scene, req *FetchRequest) (*BandPayload, error) {
	tiler := strings.TrimRight(p.TilerURL, "/")
	bands, err := fetchBandsConcurrently(ctx, availableBands(scene, []string{BandRed, BandNIR, BandSWIR}), func(ctx context.Context, band string) ([]byte, error) {
		return getRaster(ctx, p.Fetcher, p.Name(), tilerBBoxURL(tiler, req, scene.Assets[band]), nil)
	})
	if err != nil {
		return nil, err
	}
	return &BandPayload{Bands: bands}, nil
}
