package dataset

import (
	"fmt"
	"math"
	"time"
)

const (
	// MinReadings is the shortest series the baseline model accepts.
	MinReadings = 24
	// trainFraction of the series, oldest first, fits the baseline.
	trainFraction = 0.8
	// DefaultSample is the number of recent points a prediction reports.
	DefaultSample = 10
)

type PredictionPoint struct {
	ReadingTime   string  `json:"readingtime"`
	EnergyPerSqft float64 `json:"energy_per_sqft"`
	Predicted     float64 `json:"predicted"`
	Residual      float64 `json:"residual"`
}

type Metrics struct {
	RMSE         float64 `json:"rmse"`
	MAE          float64 `json:"mae"`
	MeanResidual float64 `json:"meanResidual"`
}

// Prediction is the baseline model's view of one building and utility.
// Predictions holds the most recent points only.
type Prediction struct {
	BuildingNumber int               `json:"buildingNumber"`
	Utility        string            `json:"utility"`
	Predictions    []PredictionPoint `json:"predictions"`
	AnomalyScore   float64           `json:"anomalyScore"`
	Metrics        Metrics           `json:"metrics"`
}

// Predict runs PredictSample with the default sample size.
func (s *Store) Predict(building int, utility string) (*Prediction, error) {
	return s.PredictSample(building, utility, DefaultSample)
}

// PredictSample fits an hour-of-week baseline of energy use per square foot
// on the oldest readings and scores every reading against it, reporting the
// last sample points. The anomaly score is the mean absolute residual.
func (s *Store) PredictSample(building int, utility string, sample int) (*Prediction, error) {
	utility = NormalizeUtility(utility)
	if sample <= 0 {
		sample = DefaultSample
	}
	b, err := s.GetBuilding(building)
	if err != nil {
		return nil, err
	}
	readings, err := s.Readings(building, utility)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("no %s readings for building %d: %w", utility, building, ErrNotFound)
	}
	if len(readings) < MinReadings {
		return nil, fmt.Errorf("%d %s readings for building %d, need %d: %w", len(readings), utility, building, MinReadings, ErrInsufficientData)
	}

	actual := make([]float64, len(readings))
	for i, r := range readings {
		actual[i] = r.Value
		if b.GrossArea > 0 {
			actual[i] = r.Value / b.GrossArea
		}
	}

	n := int(math.Ceil(float64(len(readings)) * trainFraction))
	base := fitBaseline(readings[:n], actual[:n])

	points := make([]PredictionPoint, len(readings))
	var sumSq, sumAbs, sum float64
	for i, r := range readings {
		predicted := base.predict(r.Time)
		residual := actual[i] - predicted
		sumSq += residual * residual
		sumAbs += math.Abs(residual)
		sum += residual
		points[i] = PredictionPoint{
			ReadingTime:   r.Time.Format("2006-01-02 15:04:05"),
			EnergyPerSqft: round6(actual[i]),
			Predicted:     round6(predicted),
			Residual:      round6(residual),
		}
	}

	count := float64(len(readings))
	start := len(points) - sample
	if start < 0 {
		start = 0
	}
	return &Prediction{
		BuildingNumber: building,
		Utility:        utility,
		Predictions:    points[start:],
		AnomalyScore:   round6(sumAbs / count),
		Metrics: Metrics{
			RMSE:         round6(math.Sqrt(sumSq / count)),
			MAE:          round6(sumAbs / count),
			MeanResidual: round6(sum / count),
		},
	}, nil
}

// baseline averages the training series by hour of week, falling back to
// hour of day and then the overall mean for slots it never saw.
type baseline struct {
	week    map[int]mean
	day     map[int]mean
	overall mean
}

type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.count++
}

func (m mean) value() (float64, bool) {
	if m.count == 0 {
		return 0, false
	}
	return m.sum / float64(m.count), true
}

func hourOfWeek(t time.Time) int {
	return int(t.Weekday())*24 + t.Hour()
}

func fitBaseline(readings []Reading, values []float64) baseline {
	b := baseline{week: make(map[int]mean), day: make(map[int]mean)}
	for i, r := range readings {
		w := b.week[hourOfWeek(r.Time)]
		w.add(values[i])
		b.week[hourOfWeek(r.Time)] = w

		d := b.day[r.Time.Hour()]
		d.add(values[i])
		b.day[r.Time.Hour()] = d

		b.overall.add(values[i])
	}
	return b
}

func (b baseline) predict(t time.Time) float64 {
	if v, ok := b.week[hourOfWeek(t)].value(); ok {
		return v
	}
	if v, ok := b.day[t.Hour()].value(); ok {
		return v
	}
	v, _ := b.overall.value()
	return v
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
