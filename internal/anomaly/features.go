package anomaly

import (
	"github.com/spaolacci/murmur3"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// FeatureCount is the fixed width of every extracted feature vector
const FeatureCount = 9

var subscriptionOrdinal = map[string]float64{
	"basic":   0,
	"premium": 1,
	"vip":     2,
}

// Extract encodes an event into a fixed-order numeric feature vector:
// hour of day, weekday, event-type length, error flag, EU flag, consent
// flag, subscription ordinal, device-id hash and region hash.
func Extract(event *models.Event) []float64 {
	features := make([]float64, 0, FeatureCount)

	features = append(features,
		float64(event.Timestamp.Hour()),
		float64(event.Timestamp.Weekday()),
		float64(len(event.EventType)),
	)

	features = append(features, boolFeature(event.ErrorCode != ""))
	features = append(features, boolFeature(event.IsEU))
	features = append(features, boolFeature(event.HasConsent))

	features = append(features, subscriptionOrdinal[event.SubscriptionPlan])

	features = append(features, hashFeature(event.DeviceID))
	features = append(features, hashFeature(event.Region))

	return features
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// hashFeature maps an identifier into a stable bucket in [0, 1)
func hashFeature(s string) float64 {
	if s == "" {
		return 0
	}
	return float64(murmur3.Sum32([]byte(s))%1009) / 1009.0
}
