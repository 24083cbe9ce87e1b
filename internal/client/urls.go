package client

import (
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the NDFD single-point XML client endpoint.
const DefaultBaseURL = "https://graphical.weather.gov/xml/sample_products/browser_interface/ndfdXMLclient.php"

// CurrentConditionsURL queries hourly temperature and icons from now until
// the same time tomorrow.
func CurrentConditionsURL(base string, lat, lon float64, now time.Time) string {
	q := pointQuery(lat, lon)
	q.Set("begin", now.Format(time.RFC3339))
	q.Set("end", now.AddDate(0, 0, 1).Format(time.RFC3339))
	q.Set("temp", "temp")
	q.Set("icons", "icons")
	return withQuery(base, q)
}

// ForecastURL queries icons and daily min/max temperatures from the start of
// today (in now's location) until four days from now.
func ForecastURL(base string, lat, lon float64, now time.Time) string {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	q := pointQuery(lat, lon)
	q.Set("begin", midnight.Format(time.RFC3339))
	q.Set("end", now.AddDate(0, 0, 4).Format(time.RFC3339))
	q.Set("icons", "icons")
	q.Set("mint", "mint")
	q.Set("maxt", "maxt")
	return withQuery(base, q)
}

func pointQuery(lat, lon float64) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("product", "time-series")
	return q
}

// withQuery merges q into any query already present on base.
func withQuery(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + q.Encode()
	}
	merged := u.Query()
	for k, v := range q {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
