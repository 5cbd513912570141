package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ArchiveSchema creates the scene index table read by Archive.
const ArchiveSchema = `create table if not exists %s (
	scene_id    text primary key,
	acquired    timestamptz not null,
	cloud_cover numeric not null default 100,
	platform    text,
	min_lon     double precision not null,
	min_lat     double precision not null,
	max_lon     double precision not null,
	max_lat     double precision not null,
	assets      jsonb not null
)`

// Archive serves scenes from a local Postgres index of COGs. Band crops
// go through the same titiler endpoint as Earth Search.
type Archive struct {
	DB       *sql.DB
	Table    string
	TilerURL string
	Fetcher  Fetcher
	Verbose  bool
}

func (p *Archive) Name() string { return "archive" }

func archiveQuery(table string) string {
	return fmt.Sprintf(`select scene_id, acquired, cloud_cover, coalesce(platform, ''), assets::text
		from %s
		where acquired >= $1 and acquired <= $2
		  and min_lon < $5 and max_lon > $3
		  and min_lat < $6 and max_lat > $4
		  and cloud_cover <= $7
		order by acquired desc
		limit $8`, pq.QuoteIdentifier(table))
}

func (p *Archive) dbError(err error) *Error {
	code := p.Name() + "_search_failed_db"
	if isTimeout(err) {
		code = p.Name() + "_search_failed_timeout"
	}
	return &Error{Provider: p.Name(), Code: code, Message: err.Error(), Err: err}
}

func (p *Archive) Search(ctx context.Context, params *SearchParams) ([]*Scene, error) {
	maxCloud := params.MaxCloudCover
	if maxCloud <= 0 {
		maxCloud = 100
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 30
	}

	rows, err := p.DB.QueryContext(ctx, archiveQuery(p.Table),
		params.Start, params.End,
		params.BBox[0], params.BBox[1], params.BBox[2], params.BBox[3],
		maxCloud, limit,
	)
	if err != nil {
		return nil, p.dbError(err)
	}
	defer rows.Close()

	var scenes []*Scene
	for rows.Next() {
		var (
			id, platform, assets string
			acquired             time.Time
			cloud                float64
		)
		if err := rows.Scan(&id, &acquired, &cloud, &platform, &assets); err != nil {
			return nil, p.dbError(err)
		}

		scene := &Scene{
			ID:         id,
			Date:       acquired.UTC(),
			CloudCover: cloud,
			Platform:   platform,
			Provider:   p.Name(),
			Assets:     make(map[string]string),
		}
		if err := json.Unmarshal([]byte(assets), &scene.Assets); err != nil {
			return nil, p.dbError(fmt.Errorf("scene %s assets: %w", id, err))
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, p.dbError(err)
	}
	return scenes, nil
}

func (p *Archive) FetchBands(ctx context.Context, scene *Scene, req *FetchRequest) (*BandPayload, error) {
	tiler := strings.TrimRight(p.TilerURL, "/")
	bands, err := fetchBandsConcurrently(ctx, availableBands(scene, []string{BandRed, BandNIR, BandSWIR}), func(ctx context.Context, band string) ([]byte, error) {
		return getRaster(ctx, p.Fetcher, p.Name(), tilerBBoxURL(tiler, req, scene.Assets[band]), nil)
	})
	if err != nil {
		return nil, err
	}
	return &BandPayload{Bands: bands}, nil
}
