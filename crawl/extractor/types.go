package extractor

import "time"

// SceneRecord is one row of the scene archive.
type SceneRecord struct {
	SceneID    string            `json:"scene_id"`
	Acquired   time.Time         `json:"acquired"`
	CloudCover float64           `json:"cloud_cover"`
	Platform   string            `json:"platform,omitempty"`
	BBox       [4]float64        `json:"bbox"`
	Assets     map[string]string `json:"assets"`
	Source     string            `json:"source,omitempty"`
}
