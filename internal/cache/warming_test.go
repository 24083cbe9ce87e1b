package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/metweather/internal/models"
)

type mockWeatherFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int32 // number of leading calls that fail
	err      error
	seen     atomic.Int32
}

func (m *mockWeatherFetcher) GetWeather(ctx context.Context, label string, lat, lon float64) (models.WeatherResult, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[label]++
	m.mu.Unlock()

	n := m.seen.Add(1)
	if m.err != nil && (m.failures == 0 || n <= m.failures) {
		return models.WeatherResult{}, m.err
	}
	return models.WeatherResult{LocationLabel: label}, nil
}

func (m *mockWeatherFetcher) callsFor(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[label]
}

var warmLocations = []models.Location{
	{Label: "Port Angeles", Latitude: 48.122487, Longitude: -123.433434},
	{Label: "Sequim", Latitude: 48.0795, Longitude: -123.1018},
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, WarmerConfig{})

	if err := warmer.Warm(context.Background(), warmLocations); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	for _, loc := range warmLocations {
		if got := fetcher.callsFor(loc.Label); got != 1 {
			t.Errorf("calls for %s = %d, want 1", loc.Label, got)
		}
	}
}

func TestCacheWarmer_Warm_EmptyLocations(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, WarmerConfig{})
	ctx := context.Background()

	if err := warmer.Warm(ctx, nil); err != nil {
		t.Fatalf("Warm() with nil locations error = %v, want nil", err)
	}
	if err := warmer.Warm(ctx, []models.Location{}); err != nil {
		t.Fatalf("Warm() with empty locations error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	apiDown := errors.New("api down")
	fetcher := &mockWeatherFetcher{err: apiDown}
	warmer := NewCacheWarmer(fetcher, nil, WarmerConfig{})

	err := warmer.Warm(context.Background(), warmLocations[:1])
	if !errors.Is(err, apiDown) {
		t.Fatalf("Warm() error = %v, want wrapping %v", err, apiDown)
	}
	if !strings.Contains(err.Error(), "warm Port Angeles") {
		t.Errorf("Warm() error = %q, want location in message", err)
	}
	if got := fetcher.callsFor("Port Angeles"); got != 1 {
		t.Errorf("calls = %d, want 1 with retries disabled", got)
	}
}

// TestCacheWarmer_Warm_Retries verifies that a transient failure is retried
// up to RetryAttempts and the warm then succeeds.
func TestCacheWarmer_Warm_Retries(t *testing.T) {
	fetcher := &mockWeatherFetcher{err: errors.New("flaky"), failures: 2}
	warmer := NewCacheWarmer(fetcher, nil, WarmerConfig{RetryAttempts: 3, RetryDelay: time.Millisecond})

	if err := warmer.Warm(context.Background(), warmLocations[:1]); err != nil {
		t.Fatalf("Warm() error = %v, want nil after retries", err)
	}
	if got := fetcher.callsFor("Port Angeles"); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestCacheWarmer_StartStop(t *testing.T) {
	fetcher := &mockWeatherFetcher{}
	warmer := NewCacheWarmer(fetcher, nil, WarmerConfig{})

	if err := warmer.Start(warmLocations, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer warmer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callsFor("Sequim") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fetcher.callsFor("Sequim") == 0 {
		t.Error("Start() did not run an initial warm")
	}
}

func TestCacheWarmer_Start_NoLocations(t *testing.T) {
	warmer := NewCacheWarmer(&mockWeatherFetcher{}, nil, WarmerConfig{})
	if err := warmer.Start(nil, time.Minute); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	warmer.Stop()
}
