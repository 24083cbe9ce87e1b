package forecast

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/metweather/internal/feed"
	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/observability"
)

// Days is the number of forecast days in every result.
const Days = 4

const dateLayout = "2006-01-02"

// ErrInsufficientData is returned when fewer than Days complete forecast days
// could be reconstructed from a forecast document.
var ErrInsufficientData = errors.New("insufficient forecast data")

// InsufficientDataError reports how far reconstruction got. Days holds the
// complete days that were built, in order; callers may present them as a
// degraded result but must not treat them as a full forecast.
type InsufficientDataError struct {
	Days    []models.DailyForecast
	Buckets int
	Highs   int
	Lows    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%v: %d day buckets, %d highs, %d lows (need %d)",
		ErrInsufficientData, e.Buckets, e.Highs, e.Lows, Days)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// Aggregator turns parsed time-series documents into a WeatherResult.
// Calendar dates are taken in tz.
type Aggregator struct {
	logger *zap.Logger
	tz     *time.Location
}

// New returns an Aggregator. A nil logger disables logging; a nil tz means time.Local.
func New(logger *zap.Logger, tz *time.Location) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tz == nil {
		tz = time.Local
	}
	return &Aggregator{logger: logger, tz: tz}
}

// Aggregate builds the full result from a current-conditions document and a
// forecast document. now decides which calendar day is "today".
func (a *Aggregator) Aggregate(current, forecast feed.Document, label string, now time.Time) (models.WeatherResult, error) {
	days, err := a.Daily(forecast, now)
	if err != nil {
		return models.WeatherResult{}, err
	}
	return models.WeatherResult{
		Current:       a.Current(current),
		Forecasts:     days,
		LocationLabel: label,
		FetchedAt:     now,
	}, nil
}

func (a *Aggregator) Current(doc feed.Document) models.CurrentConditions {
	return models.CurrentConditions{
		Temperature: doc.CurrentTemperature(),
		IconURL:     doc.CurrentIcon(),
	}
}

// Daily buckets icon links by calendar day (skipping today), picks one icon
// per day and zips the first Days buckets with the positional highs and lows.
// On a shortfall it returns the complete days built so far together with an
// *InsufficientDataError.
func (a *Aggregator) Daily(doc feed.Document, now time.Time) ([]models.DailyForecast, error) {
	buckets := a.bucket(doc, now)
	highs, lows := doc.Highs(), doc.Lows()

	n := min(Days, len(buckets), len(highs), len(lows))
	days := make([]models.DailyForecast, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, models.DailyForecast{
			Date:    buckets[i].date,
			High:    highs[i],
			Low:     lows[i],
			IconURL: Representative(buckets[i].links),
		})
	}

	if n < Days {
		observability.AggregationInsufficientTotal.Inc()
		return days, &InsufficientDataError{
			Days:    days,
			Buckets: len(buckets),
			Highs:   len(highs),
			Lows:    len(lows),
		}
	}
	return days, nil
}

type dayBucket struct {
	date  string
	links []string
}

// bucket groups icon links by the civil date of their aligned timestamp,
// in the order dates first appear. Entries dated today are dropped.
func (a *Aggregator) bucket(doc feed.Document, now time.Time) []dayBucket {
	links := doc.Icons.Values
	times := doc.IconTimes()
	if len(links) != len(times) {
		observability.AggregationMisalignedTotal.Inc()
		a.logger.Warn("icon series and time layout differ in length",
			zap.String("layout", doc.Icons.Layout),
			zap.Int("icons", len(links)),
			zap.Int("times", len(times)))
	}

	today := now.In(a.tz).Format(dateLayout)
	index := make(map[string]int)
	var buckets []dayBucket
	for i := 0; i < len(links) && i < len(times); i++ {
		date := times[i].In(a.tz).Format(dateLayout)
		if date == today {
			continue
		}
		idx, ok := index[date]
		if !ok {
			idx = len(buckets)
			index[date] = idx
			buckets = append(buckets, dayBucket{date: date})
		}
		buckets[idx].links = append(buckets[idx].links, links[i])
	}
	return buckets
}

// Representative picks the icon at one-based position ceil(n/2), which
// approximates the midday reading of a day's time-ordered icons.
func Representative(links []string) string {
	if len(links) == 0 {
		return ""
	}
	return links[(len(links)+1)/2-1]
}
