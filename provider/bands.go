package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nci/vegindex/geometry"
)

// bandFetch returns the encoded raster of one band.
type bandFetch func(ctx context.Context, band string) ([]byte, error)

// fetchBandsConcurrently issues one fetch per band. The first failure
// cancels the shared context so sibling requests stop early.
func fetchBandsConcurrently(ctx context.Context, bands []string, fetch bandFetch) (map[string][]byte, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	out := make(map[string][]byte, len(bands))
	for _, band := range bands {
		band := band
		g.Go(func() error {
			data, err := fetch(gctx, band)
			if err != nil {
				return err
			}
			mu.Lock()
			out[band] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// availableBands keeps the wanted bands the scene actually carries,
// preserving order.
func availableBands(scene *Scene, wanted []string) []string {
	var bands []string
	for _, b := range wanted {
		if _, ok := scene.Assets[b]; ok {
			bands = append(bands, b)
		}
	}
	return bands
}

func formatBBox(b geometry.BBox) string {
	parts := make([]byte, 0, 64)
	for i, v := range b {
		if i > 0 {
			parts = append(parts, ',')
		}
		parts = strconv.AppendFloat(parts, v, 'f', -1, 64)
	}
	return string(parts)
}

// tilerBBoxURL builds a titiler style crop request for one COG.
func tilerBBoxURL(tiler string, req *FetchRequest, href string) string {
	return fmt.Sprintf("%s/cog/bbox/%s/%dx%d.tif?url=%s", tiler, formatBBox(req.BBox), req.Width, req.Height, url.QueryEscape(href))
}

// getRaster fetches a GeoTIFF crop and maps failures onto fetch error codes.
func getRaster(ctx context.Context, f Fetcher, provider, rawURL string, header http.Header) ([]byte, error) {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "image/tiff")
	resp, err := f.Fetch(ctx, &Request{Method: http.MethodGet, URL: rawURL, Header: header})
	if err != nil {
		return nil, transportError(provider, "fetch", err)
	}
	if !resp.OK() {
		return nil, statusError(provider, "fetch", resp)
	}
	return resp.Body, nil
}
