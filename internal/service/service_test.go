package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/metweather/internal/client"
	"github.com/kjstillabower/metweather/internal/feed"
	"github.com/kjstillabower/metweather/internal/forecast"
	"github.com/kjstillabower/metweather/internal/models"
)

var (
	pacific = time.FixedZone("PDT", -7*60*60)
	svcNow  = time.Date(2026, 10, 19, 10, 30, 0, 0, pacific)
)

// forecastXML renders a forecast document with perDay three-hourly icons for
// days calendar days starting today, and highs/lows for the following days.
func forecastXML(days, perDay, temps int) string {
	start := time.Date(svcNow.Year(), svcNow.Month(), svcNow.Day(), 2, 0, 0, 0, pacific)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><dwml version="1.0"><data>`)
	b.WriteString(`<time-layout time-coordinate="local"><layout-key>k-p24h</layout-key>`)
	for d := 1; d <= temps; d++ {
		fmt.Fprintf(&b, `<start-valid-time>%s</start-valid-time>`, start.AddDate(0, 0, d).Add(6*time.Hour).Format(time.RFC3339))
	}
	b.WriteString(`</time-layout><time-layout time-coordinate="local"><layout-key>k-p3h</layout-key>`)
	for d := 0; d < days; d++ {
		for k := 0; k < perDay; k++ {
			fmt.Fprintf(&b, `<start-valid-time>%s</start-valid-time>`, start.AddDate(0, 0, d).Add(time.Duration(3*k)*time.Hour).Format(time.RFC3339))
		}
	}
	b.WriteString(`</time-layout><parameters applicable-location="point1">`)
	b.WriteString(`<temperature type="maximum" units="Fahrenheit" time-layout="k-p24h">`)
	for d := 0; d < temps; d++ {
		fmt.Fprintf(&b, `<value>%d</value>`, 60+d)
	}
	b.WriteString(`</temperature><temperature type="minimum" units="Fahrenheit" time-layout="k-p24h">`)
	for d := 0; d < temps; d++ {
		fmt.Fprintf(&b, `<value>%d</value>`, 40+d)
	}
	b.WriteString(`</temperature><conditions-icon type="forecast-NWS" time-layout="k-p3h"><name>Conditions Icons</name>`)
	for d := 0; d < days; d++ {
		for k := 1; k <= perDay; k++ {
			fmt.Fprintf(&b, `<icon-link>http://forecast.weather.gov/images/wtf/d%d-%d.jpg</icon-link>`, d, k)
		}
	}
	b.WriteString(`</conditions-icon></parameters></data></dwml>`)
	return b.String()
}

const currentConditionsXML = `<?xml version="1.0"?>
<dwml version="1.0"><data>
  <time-layout time-coordinate="local"><layout-key>k-p1h-n2-1</layout-key>
    <start-valid-time>2026-10-19T10:00:00-07:00</start-valid-time>
    <start-valid-time>2026-10-19T11:00:00-07:00</start-valid-time>
  </time-layout>
  <parameters applicable-location="point1">
    <temperature type="hourly" units="Fahrenheit" time-layout="k-p1h-n2-1">
      <value>52</value><value>53</value>
    </temperature>
    <conditions-icon type="forecast-NWS" time-layout="k-p1h-n2-1">
      <icon-link>http://forecast.weather.gov/images/wtf/bkn.jpg</icon-link>
      <icon-link>http://forecast.weather.gov/images/wtf/ovc.jpg</icon-link>
    </conditions-icon>
  </parameters>
</data></dwml>`

// fakeFeed serves the forecast document for URLs requesting mint/maxt and
// the current conditions document otherwise.
type fakeFeed struct {
	mu          sync.Mutex
	urls        []string
	current     string
	forecast    string
	currentErr  error
	forecastErr error
	barrier     *sync.WaitGroup // when set, each Fetch waits until both have started
}

func (f *fakeFeed) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.urls = append(f.urls, rawURL)
	f.mu.Unlock()

	if f.barrier != nil {
		f.barrier.Done()
		done := make(chan struct{})
		go func() { f.barrier.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Second):
			return nil, errors.New("fetches did not overlap")
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Query().Has("mint") {
		return []byte(f.forecast), f.forecastErr
	}
	return []byte(f.current), f.currentErr
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func newTestService(feedClient client.FeedClient, store *mockStore) *WeatherService {
	s := NewWeatherService(feedClient, store, Config{
		BaseURL:  "http://ndfd.test/xml",
		TTL:      time.Hour,
		Default:  portAngeles,
		Timezone: pacific,
	}, nil)
	s.now = func() time.Time { return svcNow }
	s.cache.now = func() time.Time { return svcNow }
	return s
}

func TestGetWeather_Pipeline(t *testing.T) {
	f := &fakeFeed{current: currentConditionsXML, forecast: forecastXML(5, 8, 4)}
	store := newMockStore()
	s := newTestService(f, store)

	res, err := s.GetWeather(context.Background(), "Port Angeles", 48.122487, -123.433434)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if res.Current.Temperature != "52" || !strings.HasSuffix(res.Current.IconURL, "bkn.jpg") {
		t.Errorf("Current = %+v, want 52/bkn.jpg", res.Current)
	}
	if res.LocationLabel != "Port Angeles" {
		t.Errorf("LocationLabel = %q", res.LocationLabel)
	}
	if len(res.Forecasts) != forecast.Days {
		t.Fatalf("len(Forecasts) = %d, want %d", len(res.Forecasts), forecast.Days)
	}
	for i, d := range res.Forecasts {
		if want := svcNow.AddDate(0, 0, i+1).Format("2006-01-02"); d.Date != want {
			t.Errorf("day %d Date = %s, want %s", i, d.Date, want)
		}
		if want := fmt.Sprintf("d%d-4.jpg", i+1); !strings.HasSuffix(d.IconURL, want) {
			t.Errorf("day %d IconURL = %s, want suffix %s", i, d.IconURL, want)
		}
		if d.High != fmt.Sprint(60+i) || d.Low != fmt.Sprint(40+i) {
			t.Errorf("day %d High/Low = %s/%s", i, d.High, d.Low)
		}
	}
	if f.callCount() != 2 {
		t.Errorf("feed calls = %d, want 2", f.callCount())
	}

	if _, err := s.GetWeather(context.Background(), "Port Angeles", 48.122487, -123.433434); err != nil {
		t.Fatalf("second GetWeather() error = %v", err)
	}
	if f.callCount() != 2 {
		t.Errorf("feed calls after cached call = %d, want 2", f.callCount())
	}
}

func TestGetWeather_RequestsBothDocuments(t *testing.T) {
	f := &fakeFeed{current: currentConditionsXML, forecast: forecastXML(5, 8, 4)}
	s := newTestService(f, newMockStore())

	if _, err := s.GetWeather(context.Background(), "", 47.6, -122.3); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	var sawCurrent, sawForecast bool
	for _, raw := range f.urls {
		u, _ := url.Parse(raw)
		q := u.Query()
		if q.Get("lat") != "47.6" || q.Get("lon") != "-122.3" {
			t.Errorf("url %s has wrong coordinates", raw)
		}
		if q.Has("temp") {
			sawCurrent = true
		}
		if q.Has("maxt") {
			sawForecast = true
		}
	}
	if !sawCurrent || !sawForecast {
		t.Errorf("requested urls = %v, want current and forecast", f.urls)
	}
}

// TestGetWeather_FetchesConcurrently verifies that the two documents are
// fetched in parallel: each fake fetch blocks until the other has started.
func TestGetWeather_FetchesConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	f := &fakeFeed{current: currentConditionsXML, forecast: forecastXML(5, 8, 4), barrier: &barrier}
	s := newTestService(f, newMockStore())

	if _, err := s.GetWeather(context.Background(), "Port Angeles", 48.122487, -123.433434); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
}

func TestGetWeather_DefaultLabel(t *testing.T) {
	f := &fakeFeed{current: currentConditionsXML, forecast: forecastXML(5, 8, 4)}
	s := newTestService(f, newMockStore())

	res, err := s.GetWeather(context.Background(), "  ", 48.122487, -123.433434)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if res.LocationLabel != "Port Angeles" {
		t.Errorf("LocationLabel = %q, want default Port Angeles", res.LocationLabel)
	}
}

func TestGetWeather_Errors(t *testing.T) {
	tests := []struct {
		name    string
		feed    *fakeFeed
		wantErr error
	}{
		{
			name:    "current transport failure",
			feed:    &fakeFeed{forecast: forecastXML(5, 8, 4), currentErr: fmt.Errorf("%w: HTTP 503", client.ErrTransport)},
			wantErr: client.ErrTransport,
		},
		{
			name:    "forecast transport failure",
			feed:    &fakeFeed{current: currentConditionsXML, forecastErr: fmt.Errorf("%w: empty response body", client.ErrTransport)},
			wantErr: client.ErrTransport,
		},
		{
			name:    "malformed current",
			feed:    &fakeFeed{current: "<html>oops</html>", forecast: forecastXML(5, 8, 4)},
			wantErr: feed.ErrMalformedFeed,
		},
		{
			name:    "malformed forecast",
			feed:    &fakeFeed{current: currentConditionsXML, forecast: "   "},
			wantErr: feed.ErrMalformedFeed,
		},
		{
			name:    "two usable days",
			feed:    &fakeFeed{current: currentConditionsXML, forecast: forecastXML(3, 8, 4)},
			wantErr: forecast.ErrInsufficientData,
		},
		{
			name:    "three highs",
			feed:    &fakeFeed{current: currentConditionsXML, forecast: forecastXML(5, 8, 3)},
			wantErr: forecast.ErrInsufficientData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			s := newTestService(tt.feed, store)

			_, err := s.GetWeather(context.Background(), "Port Angeles", 48.122487, -123.433434)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetWeather() error = %v, want %v", err, tt.wantErr)
			}
			if store.setCount() != 0 {
				t.Errorf("store sets = %d, want 0 after failure", store.setCount())
			}

			before := tt.feed.callCount()
			_, _ = s.GetWeather(context.Background(), "Port Angeles", 48.122487, -123.433434)
			if tt.feed.callCount() == before {
				t.Error("failed result was served from cache")
			}
		})
	}
}

// TestGetWeather_NDFDClient runs the full pipeline against an httptest server
// through the real feed client.
func TestGetWeather_NDFDClient(t *testing.T) {
	forecastBody := forecastXML(5, 8, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Has("mint") {
			_, _ = w.Write([]byte(forecastBody))
			return
		}
		_, _ = w.Write([]byte(currentConditionsXML))
	}))
	defer srv.Close()

	c, err := client.NewNDFDClient(srv.URL, "metweather-test", 2*time.Second, false)
	if err != nil {
		t.Fatalf("NewNDFDClient() error = %v", err)
	}
	s := NewWeatherService(c, newMockStore(), Config{
		BaseURL:  srv.URL,
		TTL:      time.Hour,
		Default:  portAngeles,
		Timezone: pacific,
	}, nil)
	s.now = func() time.Time { return svcNow }
	s.cache.now = func() time.Time { return svcNow }

	res, err := s.GetWeather(context.Background(), "Port Angeles", 48.122487, -123.433434)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if len(res.Forecasts) != forecast.Days || res.Current.Temperature != "52" {
		t.Errorf("GetWeather() = %+v", res)
	}
}

func TestCheckCache(t *testing.T) {
	store := newMockStore()
	s := newTestService(&fakeFeed{}, store)
	if err := s.CheckCache(context.Background()); err != nil {
		t.Errorf("CheckCache() error = %v", err)
	}
	store.pingErr = errors.New("connection refused")
	if err := s.CheckCache(context.Background()); !errors.Is(err, ErrCache) {
		t.Errorf("CheckCache() error = %v, want ErrCache", err)
	}
}

func TestNewWeatherService_Defaults(t *testing.T) {
	s := NewWeatherService(&fakeFeed{}, newMockStore(), Config{}, nil)
	if s.cfg.TTL != time.Hour {
		t.Errorf("TTL = %v, want 1h", s.cfg.TTL)
	}
	if s.cfg.BaseURL != client.DefaultBaseURL {
		t.Errorf("BaseURL = %s, want default", s.cfg.BaseURL)
	}
	if s.DefaultLocation() != (models.Location{}) {
		t.Errorf("DefaultLocation() = %+v, want zero", s.DefaultLocation())
	}
}
