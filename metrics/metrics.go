package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// AttemptInfo times one provider attempt. Code is empty on success.
type AttemptInfo struct {
	Provider string        `json:"provider"`
	Code     string        `json:"code,omitempty"`
	Duration time.Duration `json:"duration"`
}

type IngestInfo struct {
	Duration        time.Duration `json:"duration"`
	BBox            []float64     `json:"bbox"`
	Geometry        string        `json:"geometry"`
	GeometryArea    float64       `json:"geometry_area"`
	TargetSize      int           `json:"target_size"`
	Policy          string        `json:"policy"`
	CacheHit        bool          `json:"cache_hit"`
	Provider        string        `json:"provider"`
	SceneID         string        `json:"scene_id"`
	FallbackUsed    bool          `json:"fallback_used"`
	Attempts        []AttemptInfo `json:"attempts"`
	ValidPixelRatio float64       `json:"valid_pixel_ratio"`
	BytesRead       int64         `json:"bytes_read"`

	ring [][2]float64
}

type MetricsInfo struct {
	RequestID   string        `json:"request_id"`
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Ingest      *IngestInfo   `json:"ingest"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			RequestID: uuid.New().String(),
			Ingest:    &IngestInfo{},
		},
		logger: logger,
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

// SetRing records the area of interest so it is logged as WKT.
func (i *IngestInfo) SetRing(ring [][2]float64) {
	i.ring = ring
}

// AddAttempt appends one provider attempt.
func (i *IngestInfo) AddAttempt(provider, code string, d time.Duration) {
	i.Attempts = append(i.Attempts, AttemptInfo{Provider: provider, Code: code, Duration: d})
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)
	i.normaliseURLs()
	err := i.normaliseGeometry()
	if err != nil {
		log.Printf("metrics: normaliseGeometry() error: %v", err)
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err = enc.Encode(i)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURLs() {
	err := i.normaliseURL(&i.URL)
	if err != nil {
		log.Printf("metrics: normaliseUrl() error: %v", err)
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}

func (i *MetricsInfo) normaliseGeometry() error {
	if i.Ingest == nil {
		return nil
	}
	if len(i.Ingest.ring) < 4 {
		if len(i.Ingest.Geometry) == 0 {
			i.Ingest.Geometry = "POLYGON EMPTY"
		}
		return nil
	}

	coords := make([]geom.Coord, len(i.Ingest.ring))
	for k, p := range i.Ingest.ring {
		coords[k] = geom.Coord{p[0], p[1]}
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return fmt.Errorf("failed to build polygon: %v", err)
	}

	s, err := wkt.Marshal(poly)
	if err != nil {
		return fmt.Errorf("failed to encode polygon as wkt: %v", err)
	}
	i.Ingest.Geometry = s
	// planar area in square degrees
	i.Ingest.GeometryArea = poly.Area()
	return nil
}
