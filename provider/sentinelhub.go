package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CloudyKit/jet/v6"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const evalscriptTemplate = `//VERSION=3
function setup() {
  return {
    input: [{ bands: [{{ range i, b := bands }}{{ if i > 0 }}, {{ end }}"{{ b }}"{{ end }}], units: "DN" }],
    output: { bands: {{ len(bands) }}, sampleType: "UINT16" }
  };
}

function evaluatePixel(sample) {
  return [{{ range i, b := bands }}{{ if i > 0 }}, {{ end }}sample.{{ b }}{{ end }}];
}
`

// sentinelHubCubeBands is the sample order of the rendered cube and must
// line up with the four band cube decoder.
var sentinelHubCubeBands = []string{"B02", "B04", "B08", "B11"}

var sentinelHubAssets = map[string]string{
	BandBlue: "B02",
	BandRed:  "B04",
	BandNIR:  "B08",
	BandSWIR: "B11",
}

var (
	evalscriptOnce sync.Once
	evalscriptTmpl *jet.Template
	evalscriptErr  error
)

// RenderEvalscript produces the process API script returning bands as an
// interleaved UINT16 cube.
func RenderEvalscript(bands []string) (string, error) {
	evalscriptOnce.Do(func() {
		loader := jet.NewInMemLoader()
		loader.Set("/evalscript.js", evalscriptTemplate)
		set := jet.NewSet(loader, jet.WithSafeWriter(nil))
		evalscriptTmpl, evalscriptErr = set.GetTemplate("/evalscript.js")
	})
	if evalscriptErr != nil {
		return "", evalscriptErr
	}

	vars := make(jet.VarMap)
	vars.Set("bands", bands)
	buf := new(bytes.Buffer)
	if err := evalscriptTmpl.Execute(buf, vars, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SentinelHub authenticates with OAuth2 client credentials, searches the
// Sentinel Hub catalogue and renders a four band cube with the process API.
type SentinelHub struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Collection   string
	Fetcher      Fetcher
	Verbose      bool

	tokenMu sync.Mutex
	token   *oauth2.Token
}

func (p *SentinelHub) Name() string { return "sentinelhub" }

// accessToken returns the cached token, fetching a new one with ctx once it
// has expired. A failed or cancelled fetch leaves nothing cached.
func (p *SentinelHub) accessToken(ctx context.Context) (*oauth2.Token, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()
	if p.token.Valid() {
		return p.token, nil
	}

	cfg := &clientcredentials.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		TokenURL:     p.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: DefaultTimeout}))
	if err != nil {
		return nil, err
	}
	p.token = tok
	return tok, nil
}

func (p *SentinelHub) authHeader(ctx context.Context) (http.Header, error) {
	if p.ClientID == "" || p.ClientSecret == "" {
		return nil, credentialsError(p.Name(), "client id or secret not configured", nil)
	}

	tok, err := p.accessToken(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, credentialsError(p.Name(), fmt.Sprintf("token request rejected: %v", err), err)
		}
		return nil, transportError(p.Name(), "auth", err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	return h, nil
}

func (p *SentinelHub) rejected(resp *Response) bool {
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

func (p *SentinelHub) Search(ctx context.Context, params *SearchParams) ([]*Scene, error) {
	header, err := p.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	s := &stacSearcher{
		provider:   p.Name(),
		url:        strings.TrimRight(p.BaseURL, "/") + "/api/v1/catalog/1.0.0/search",
		collection: p.Collection,
		fetcher:    &authChecker{Fetcher: p.Fetcher, provider: p},
		verbose:    p.Verbose,
	}
	scenes, err := s.search(ctx, params, header)
	if err != nil {
		return nil, err
	}

	// every scene of the collection carries the cube bands
	for _, scene := range scenes {
		for band, asset := range sentinelHubAssets {
			scene.Assets[band] = asset
		}
	}
	return scenes, nil
}

type processRequest struct {
	Input struct {
		Bounds struct {
			BBox       []float64 `json:"bbox"`
			Properties struct {
				CRS string `json:"crs"`
			} `json:"properties"`
		} `json:"bounds"`
		Data []processData `json:"data"`
	} `json:"input"`
	Output struct {
		Width     int               `json:"width"`
		Height    int               `json:"height"`
		Responses []processResponse `json:"responses"`
	} `json:"output"`
	Evalscript string `json:"evalscript"`
}

type processData struct {
	Type       string `json:"type"`
	DataFilter struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		MosaickingOrder string `json:"mosaickingOrder"`
	} `json:"dataFilter"`
}

type processResponse struct {
	Identifier string `json:"identifier"`
	Format     struct {
		Type string `json:"type"`
	} `json:"format"`
}

func (p *SentinelHub) FetchBands(ctx context.Context, scene *Scene, req *FetchRequest) (*BandPayload, error) {
	header, err := p.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	script, err := RenderEvalscript(sentinelHubCubeBands)
	if err != nil {
		return nil, err
	}

	var pr processRequest
	pr.Input.Bounds.BBox = req.BBox.Slice()
	pr.Input.Bounds.Properties.CRS = "http://www.opengis.net/def/crs/EPSG/0/4326"

	day := scene.Date.UTC().Truncate(24 * time.Hour)
	data := processData{Type: p.Collection}
	data.DataFilter.TimeRange.From = day.Format(time.RFC3339)
	data.DataFilter.TimeRange.To = day.Add(24*time.Hour - time.Second).Format(time.RFC3339)
	data.DataFilter.MosaickingOrder = "leastCC"
	pr.Input.Data = []processData{data}

	pr.Output.Width = req.Width
	pr.Output.Height = req.Height
	var out processResponse
	out.Identifier = "default"
	out.Format.Type = "image/tiff"
	pr.Output.Responses = []processResponse{out}
	pr.Evalscript = script

	body, err := json.Marshal(&pr)
	if err != nil {
		return nil, err
	}

	header.Set("Content-Type", "application/json")
	header.Set("Accept", "image/tiff")
	resp, err := p.Fetcher.Fetch(ctx, &Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(p.BaseURL, "/") + "/api/v1/process",
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, transportError(p.Name(), "fetch", err)
	}
	if p.rejected(resp) {
		return nil, credentialsError(p.Name(), fmt.Sprintf("process API returned HTTP %d", resp.StatusCode), nil)
	}
	if !resp.OK() {
		return nil, statusError(p.Name(), "fetch", resp)
	}
	return &BandPayload{Cube: resp.Body}, nil
}

// authChecker turns 401 and 403 responses into credential errors.
type authChecker struct {
	Fetcher
	provider *SentinelHub
}

func (a *authChecker) Fetch(ctx context.Context, req *Request) (*Response, error) {
	resp, err := a.Fetcher.Fetch(ctx, req)
	if err == nil && a.provider.rejected(resp) {
		return nil, credentialsError(a.provider.Name(), fmt.Sprintf("catalogue returned HTTP %d", resp.StatusCode), nil)
	}
	return resp, err
}
