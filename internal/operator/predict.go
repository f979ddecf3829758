package operator

import (
	"context"
	"math"
	"time"

	"github.com/flyingrobots/protocol-bridge/internal/store"
)

// LoadPrediction is the predicted message volume for a single upcoming
// (day-of-week, hour-of-day) bucket.
type LoadPrediction struct {
	DayOfWeek int     `json:"day_of_week"`
	HourOfDay int      `json:"hour_of_day"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Samples   int     `json:"samples"`
}

// Predictor estimates near-term load from historical (day-of-week,
// hour-of-day) volume, falling back to a flat 7-day average when a bucket
// has too few samples to trust.
type Predictor struct {
	st *store.Store
}

func NewPredictor(st *store.Store) *Predictor { return &Predictor{st: st} }

// PredictNextHours returns one prediction per hour for the next `hours`
// hours starting from `from`.
func (p *Predictor) PredictNextHours(ctx context.Context, from time.Time, hours int) ([]LoadPrediction, error) {
	history, err := p.st.DailyHourCounts(ctx, from.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	type key struct{ dow, hour int }
	byBucket := map[key][]int64{}
	var recentCounts []int64
	weekAgo := from.AddDate(0, 0, -7).UTC().Format("2006-01-02")
	for _, h := range history {
		k := key{h.DayOfWeek, h.HourOfDay}
		byBucket[k] = append(byBucket[k], h.Count)
		if h.Date >= weekAgo {
			recentCounts = append(recentCounts, h.Count)
		}
	}
	fallbackMean, fallbackStd := meanStdDev(recentCounts)

	out := make([]LoadPrediction, 0, hours)
	for i := 0; i < hours; i++ {
		t := from.Add(time.Duration(i) * time.Hour)
		k := key{int(t.Weekday()), t.Hour()}
		samples := byBucket[k]

		const minSamples = 3
		if len(samples) < minSamples {
			out = append(out, LoadPrediction{
				DayOfWeek: k.dow, HourOfDay: k.hour,
				Mean: fallbackMean, StdDev: fallbackStd, Samples: len(samples),
			})
			continue
		}
		mean, std := meanStdDev(samples)
		out = append(out, LoadPrediction{DayOfWeek: k.dow, HourOfDay: k.hour, Mean: mean, StdDev: std, Samples: len(samples)})
	}
	return out, nil
}

func meanStdDev(vals []int64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += float64(v)
	}
	mean := sum / float64(len(vals))

	var sqSum float64
	for _, v := range vals {
		d := float64(v) - mean
		sqSum += d * d
	}
	return mean, math.Sqrt(sqSum / float64(len(vals)))
}
