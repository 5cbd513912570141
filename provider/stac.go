package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

type stacSearchBody struct {
	Collections []string  `json:"collections"`
	BBox        []float64 `json:"bbox"`
	Datetime    string    `json:"datetime"`
	Limit       int       `json:"limit"`
}

type stacAsset struct {
	Href string `json:"href"`
}

type stacItem struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Properties struct {
		Datetime   string   `json:"datetime"`
		CloudCover *float64 `json:"eo:cloud_cover"`
		Platform   string   `json:"platform"`
	} `json:"properties"`
	Assets map[string]stacAsset `json:"assets"`
}

type stacItemCollection struct {
	Features []stacItem `json:"features"`
}

// stacSearcher runs a STAC item search and maps asset keys onto band names.
type stacSearcher struct {
	provider   string
	url        string
	collection string
	assetBands map[string]string
	fetcher    Fetcher
	verbose    bool
}

func (s *stacSearcher) search(ctx context.Context, params *SearchParams, header http.Header) ([]*Scene, error) {
	body, err := json.Marshal(&stacSearchBody{
		Collections: []string{s.collection},
		BBox:        params.BBox.Slice(),
		Datetime:    params.Start.UTC().Format(time.RFC3339) + "/" + params.End.UTC().Format(time.RFC3339),
		Limit:       params.Limit,
	})
	if err != nil {
		return nil, err
	}

	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/geo+json")

	resp, err := s.fetcher.Fetch(ctx, &Request{Method: http.MethodPost, URL: s.url, Header: header, Body: body})
	if err != nil {
		return nil, transportError(s.provider, "search", err)
	}
	if !resp.OK() {
		return nil, statusError(s.provider, "search", resp)
	}

	var fc stacItemCollection
	if err := json.Unmarshal(resp.Body, &fc); err != nil {
		return nil, &Error{
			Provider: s.provider,
			Code:     s.provider + "_search_failed_invalid_response",
			Message:  fmt.Sprintf("problem parsing STAC response from %s: %v", s.url, err),
			Err:      err,
		}
	}

	scenes := make([]*Scene, 0, len(fc.Features))
	for _, item := range fc.Features {
		scene, err := s.toScene(&item)
		if err != nil {
			if s.verbose {
				log.Printf("%s: skipping item %s: %v", s.provider, item.ID, err)
			}
			continue
		}
		if params.MaxCloudCover > 0 && scene.CloudCover > params.MaxCloudCover {
			continue
		}
		scenes = append(scenes, scene)
	}

	if s.verbose {
		log.Printf("%s: %d of %d catalogue items usable", s.provider, len(scenes), len(fc.Features))
	}
	return scenes, nil
}

func (s *stacSearcher) toScene(item *stacItem) (*Scene, error) {
	date, err := time.Parse(time.RFC3339Nano, item.Properties.Datetime)
	if err != nil {
		return nil, err
	}

	cloud := 100.0
	if item.Properties.CloudCover != nil {
		cloud = *item.Properties.CloudCover
	}

	collection := item.Collection
	if collection == "" {
		collection = s.collection
	}

	scene := &Scene{
		ID:         item.ID,
		Collection: collection,
		Date:       date.UTC(),
		CloudCover: cloud,
		Platform:   item.Properties.Platform,
		Provider:   s.provider,
		Assets:     make(map[string]string),
	}
	for key, band := range s.assetBands {
		if a, ok := item.Assets[key]; ok && a.Href != "" {
			scene.Assets[band] = a.Href
		}
	}
	return scene, nil
}
