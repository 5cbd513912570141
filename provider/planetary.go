package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Planetary uses the Microsoft Planetary Computer STAC API for search and
// its data API for signed, cropped band reads.
type Planetary struct {
	STACURL    string
	DataURL    string
	Collection string
	Fetcher    Fetcher
	Verbose    bool
}

var planetaryAssets = map[string]string{
	"B04": BandRed,
	"B08": BandNIR,
	"B11": BandSWIR,
}

var planetaryAssetKeys = map[string]string{
	BandRed:  "B04",
	BandNIR:  "B08",
	BandSWIR: "B11",
}

func (p *Planetary) Name() string { return "planetary" }

func (p *Planetary) Search(ctx context.Context, params *SearchParams) ([]*Scene, error) {
	s := &stacSearcher{
		provider:   p.Name(),
		url:        strings.TrimRight(p.STACURL, "/") + "/search",
		collection: p.Collection,
		assetBands: planetaryAssets,
		fetcher:    p.Fetcher,
		verbose:    p.Verbose,
	}
	return s.search(ctx, params, nil)
}

func (p *Planetary) cropURL(scene *Scene, band string, req *FetchRequest) string {
	q := url.Values{}
	q.Set("collection", scene.Collection)
	q.Set("item", scene.ID)
	q.Set("assets", planetaryAssetKeys[band])
	return fmt.Sprintf("%s/item/bbox/%s/%dx%d.tif?%s", strings.TrimRight(p.DataURL, "/"), formatBBox(req.BBox), req.Width, req.Height, q.Encode())
}

func (p *Planetary) FetchBands(ctx context.Context, scene *Scene, req *FetchRequest) (*BandPayload, error) {
	bands, err := fetchBandsConcurrently(ctx, availableBands(scene, []string{BandRed, BandNIR, BandSWIR}), func(ctx context.Context, band string) ([]byte, error) {
		return getRaster(ctx, p.Fetcher, p.Name(), p.cropURL(scene, band, req), nil)
	})
	if err != nil {
		return nil, err
	}
	return &BandPayload{Bands: bands}, nil
}
