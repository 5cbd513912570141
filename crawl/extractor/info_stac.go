package extractor

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/nci/vegindex/provider"
)

type stacItem struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	BBox       []float64 `json:"bbox"`
	Properties struct {
		Datetime   string   `json:"datetime"`
		CloudCover *float64 `json:"eo:cloud_cover"`
		Platform   string   `json:"platform"`
	} `json:"properties"`
	Assets map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
}

// stacAssetKeys covers both the common name and the Sentinel-2 band id.
var stacAssetKeys = map[string][]string{
	provider.BandBlue: {"blue", "B02"},
	provider.BandRed:  {"red", "B04"},
	provider.BandNIR:  {"nir", "B08"},
	provider.BandSWIR: {"swir16", "B11"},
}

// ExtractStacItem reads a static STAC item document.
func ExtractStacItem(filename string) (*SceneRecord, error) {
	rawData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var item stacItem
	if err := json.Unmarshal(rawData, &item); err != nil {
		return nil, err
	}
	if item.Type != "Feature" {
		return nil, fmt.Errorf("not a STAC item: type %q", item.Type)
	}
	if len(item.BBox) != 4 {
		return nil, fmt.Errorf("item %s has no 2D bbox", item.ID)
	}

	acquired, err := time.Parse(time.RFC3339Nano, item.Properties.Datetime)
	if err != nil {
		return nil, err
	}

	rec := &SceneRecord{
		SceneID:    item.ID,
		Acquired:   acquired.UTC(),
		CloudCover: 100,
		Platform:   item.Properties.Platform,
		BBox:       [4]float64{item.BBox[0], item.BBox[1], item.BBox[2], item.BBox[3]},
		Assets:     make(map[string]string),
		Source:     filename,
	}
	if item.Properties.CloudCover != nil {
		rec.CloudCover = *item.Properties.CloudCover
	}

	dsPath := filepath.Dir(filename)
	for band, keys := range stacAssetKeys {
		for _, key := range keys {
			if a, found := item.Assets[key]; found && a.Href != "" {
				href := a.Href
				if !filepath.IsAbs(href) && !strings.Contains(href, "://") {
					href = filepath.Join(dsPath, href)
				}
				rec.Assets[band] = href
				break
			}
		}
	}
	if !hasRequiredBands(rec) {
		return nil, fmt.Errorf("item %s lacks red or nir assets", item.ID)
	}
	return rec, nil
}

// Extract dispatches on the file extension.
func Extract(filename string) (*SceneRecord, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return ExtractYaml(filename)
	case ".json":
		return ExtractStacItem(filename)
	default:
		return nil, fmt.Errorf("unsupported metadata file: %s", filename)
	}
}
