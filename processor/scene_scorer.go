package processor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	goeval "github.com/edisonguo/govaluate"

	"github.com/nci/vegindex/provider"
)

const (
	PolicyBalanced    = "balanced"
	PolicyLowestCloud = "lowest-cloud"
	PolicyMostRecent  = "most-recent"
)

const recencyHorizonDays = 90.0

// DefaultScoringExpressions weight the per scene scores for each policy.
// Expressions may use recency, cloud, in_window, days_old and cloud_cover.
var DefaultScoringExpressions = map[string]string{
	PolicyLowestCloud: "0.82 * cloud + 0.18 * recency",
	PolicyMostRecent:  "0.86 * recency + 0.14 * cloud",
	PolicyBalanced:    "0.58 * recency + 0.42 * cloud + 0.1 * in_window",
}

var scoringVariables = map[string]bool{
	"recency":     true,
	"cloud":       true,
	"in_window":   true,
	"days_old":    true,
	"cloud_cover": true,
}

// NormalizePolicy maps unknown or empty policies onto balanced.
func NormalizePolicy(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if _, ok := DefaultScoringExpressions[p]; ok {
		return p
	}
	return PolicyBalanced
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func RecencyScore(sceneDate, now time.Time) float64 {
	daysOld := now.Sub(sceneDate).Hours() / 24
	return clamp01(1 - daysOld/recencyHorizonDays)
}

func CloudScore(cloudCover float64) float64 {
	return clamp01(1 - cloudCover/100)
}

type SceneScorer struct {
	exprs map[string]*goeval.EvaluableExpression
}

// NewSceneScorer compiles the default policy expressions with overrides
// applied on top. Overrides may only name known policies and variables.
func NewSceneScorer(overrides map[string]string) (*SceneScorer, error) {
	sources := make(map[string]string, len(DefaultScoringExpressions))
	for k, v := range DefaultScoringExpressions {
		sources[k] = v
	}
	for k, v := range overrides {
		if _, ok := DefaultScoringExpressions[k]; !ok {
			return nil, fmt.Errorf("unknown scoring policy %q", k)
		}
		sources[k] = v
	}

	s := &SceneScorer{exprs: make(map[string]*goeval.EvaluableExpression, len(sources))}
	for policy, src := range sources {
		expr, err := goeval.NewEvaluableExpression(src)
		if err != nil {
			return nil, fmt.Errorf("scoring policy %s: %v", policy, err)
		}
		for _, token := range expr.Tokens() {
			if token.Kind != goeval.VARIABLE {
				continue
			}
			name, _ := token.Value.(string)
			if !scoringVariables[name] {
				return nil, fmt.Errorf("scoring policy %s: unknown variable %q", policy, name)
			}
		}
		s.exprs[policy] = expr
	}
	return s, nil
}

// Score evaluates the policy expression for one scene.
func (s *SceneScorer) Score(policy string, scene *provider.Scene, req *NormalizedIngestRequest, now time.Time) (float64, error) {
	expr, ok := s.exprs[NormalizePolicy(policy)]
	if !ok {
		return 0, fmt.Errorf("no expression for policy %q", policy)
	}

	inWindow := 0.0
	if !scene.Date.Before(req.Start) && !scene.Date.After(req.End) {
		inWindow = 1
	}

	params := map[string]interface{}{
		"recency":     RecencyScore(scene.Date, now),
		"cloud":       CloudScore(scene.CloudCover),
		"in_window":   inWindow,
		"days_old":    now.Sub(scene.Date).Hours() / 24,
		"cloud_cover": scene.CloudCover,
	}
	res, err := expr.Evaluate(params)
	if err != nil {
		return 0, err
	}
	v, ok := res.(float64)
	if !ok {
		return 0, fmt.Errorf("scoring policy %s returned %T", policy, res)
	}
	return v, nil
}

type ScoredScene struct {
	Scene *provider.Scene
	Score float64
}

// RankScenes scores the scenes carrying the required bands, best first.
// Equal scores keep catalogue order.
func (s *SceneScorer) RankScenes(scenes []*provider.Scene, req *NormalizedIngestRequest, now time.Time) ([]ScoredScene, error) {
	ranked := make([]ScoredScene, 0, len(scenes))
	for _, scene := range scenes {
		if !scene.HasBands(provider.RequiredBands) {
			continue
		}
		score, err := s.Score(req.Policy, scene, req, now)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, ScoredScene{Scene: scene, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

// SelectScene returns the best scene, or nil when none qualifies.
func (s *SceneScorer) SelectScene(scenes []*provider.Scene, req *NormalizedIngestRequest, now time.Time) (*provider.Scene, error) {
	ranked, err := s.RankScenes(scenes, req, now)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}
	return ranked[0].Scene, nil
}
