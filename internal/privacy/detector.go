package privacy

import (
	"sort"

	"github.com/raaihank/phi-deid/internal/logger"
	"go.uber.org/zap"
)

// Detector finds PHI occurrences using the primary registry rules
type Detector struct {
	registry *Registry
	logger   *logger.Logger
}

// NewDetector creates a detector over the given registry
func NewDetector(registry *Registry, log *logger.Logger) *Detector {
	return &Detector{
		registry: registry,
		logger:   log,
	}
}

// Detect returns one detection per match across every primary rule, sorted
// by position. Matches at the same position keep registry order.
func (d *Detector) Detect(text string) []Detection {
	detections := make([]Detection, 0)

	for _, rule := range d.registry.Rules() {
		for _, loc := range rule.Matcher.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				Type:     rule.Type(),
				Value:    text[loc[0]:loc[1]],
				Position: loc[0],
			})
		}
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Position < detections[j].Position
	})

	if len(detections) > 0 {
		d.logger.Debug("PHI detected", zap.Int("count", len(detections)))
	}

	return detections
}

// Stats summarizes the detections in text
func (d *Detector) Stats(text string) Stats {
	return Summarize(d.Detect(text))
}

// Summarize computes statistics over an existing detection list
func Summarize(detections []Detection) Stats {
	stats := Stats{
		Total:  len(detections),
		ByType: make(map[string]int),
	}

	unique := make(map[string]struct{}, len(detections))
	for _, det := range detections {
		stats.ByType[det.Type]++
		unique[det.Value] = struct{}{}
	}
	stats.UniqueCount = len(unique)

	return stats
}
