package extractor

import (
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/nci/vegindex/provider"
)

type ardPoint struct {
	Lat float64
	Lon float64
}

type ardBand struct {
	Path string
}

// ardMetadata is the subset of an analysis ready dataset document the
// archive needs.
type ardMetadata struct {
	ID       string
	Platform struct {
		Code string
	}
	Extent struct {
		Center_dt string
		Coord     struct {
			Ll ardPoint
			Lr ardPoint
			Ul ardPoint
			Ur ardPoint
		}
	}
	Properties map[string]interface{}
	Image      struct {
		Bands map[string]*ardBand
	}
}

// ardBandNames lists, per band, the measurement names tried in order.
var ardBandNames = map[string][]string{
	provider.BandBlue: {"nbart_blue", "nbar_blue"},
	provider.BandRed:  {"nbart_red", "nbar_red"},
	provider.BandNIR:  {"nbart_nir_1", "nbar_nir_1"},
	provider.BandSWIR: {"nbart_swir_2", "nbar_swir_2"},
}

var ardTimestampFormats = []string{"2006-01-02T15:04:05.999999999Z07:00", "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"}

func parseArdTimestamp(s string) (time.Time, error) {
	for _, layout := range ardTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func ExtractYaml(filename string) (*SceneRecord, error) {
	rawData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ard := ardMetadata{}
	if err = yaml.Unmarshal(rawData, &ard); err != nil {
		return nil, err
	}

	acquired, err := parseArdTimestamp(ard.Extent.Center_dt)
	if err != nil {
		return nil, err
	}

	id := ard.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	rec := &SceneRecord{
		SceneID:    id,
		Acquired:   acquired,
		CloudCover: 100,
		Platform:   strings.ToLower(ard.Platform.Code),
		Assets:     make(map[string]string),
		Source:     filename,
	}
	if cc, ok := ard.Properties["eo:cloud_cover"]; ok {
		switch v := cc.(type) {
		case float64:
			rec.CloudCover = v
		case int:
			rec.CloudCover = float64(v)
		}
	}

	c := ard.Extent.Coord
	rec.BBox = [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range []ardPoint{c.Ll, c.Lr, c.Ul, c.Ur} {
		rec.BBox[0] = math.Min(rec.BBox[0], p.Lon)
		rec.BBox[1] = math.Min(rec.BBox[1], p.Lat)
		rec.BBox[2] = math.Max(rec.BBox[2], p.Lon)
		rec.BBox[3] = math.Max(rec.BBox[3], p.Lat)
	}
	if !(rec.BBox[0] < rec.BBox[2] && rec.BBox[1] < rec.BBox[3]) {
		return nil, fmt.Errorf("extent.coord does not describe an area")
	}

	dsPath := filepath.Dir(filename)
	for band, names := range ardBandNames {
		for _, ns := range names {
			if b, found := ard.Image.Bands[ns]; found && b != nil && b.Path != "" {
				href := b.Path
				if !filepath.IsAbs(href) && !strings.Contains(href, "://") {
					href = filepath.Join(dsPath, href)
				}
				rec.Assets[band] = href
				break
			}
		}
	}
	if !hasRequiredBands(rec) {
		return nil, fmt.Errorf("dataset %s lacks red or nir measurements", id)
	}
	return rec, nil
}

func hasRequiredBands(rec *SceneRecord) bool {
	for _, b := range provider.RequiredBands {
		if _, ok := rec.Assets[b]; !ok {
			return false
		}
	}
	return true
}
