package models

import "time"

// Location is the query point for a forecast. Label is display-only.
type Location struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type CurrentConditions struct {
	Temperature string `json:"temperature"`
	IconURL     string `json:"iconUrl"`
}

// DailyForecast is one forecast day. Date is a civil date (YYYY-MM-DD).
type DailyForecast struct {
	Date    string `json:"date"`
	High    string `json:"high"`
	Low     string `json:"low"`
	IconURL string `json:"iconUrl"`
}

type WeatherResult struct {
	Current       CurrentConditions `json:"current"`
	Forecasts     []DailyForecast   `json:"forecasts"`
	LocationLabel string            `json:"locationLabel"`
	FetchedAt     time.Time         `json:"fetchedAt"`
	Stale         bool              `json:"stale,omitempty"` // Indicates data served from stale cache
}
