package feed

import "testing"

func BenchmarkParse_Forecast(b *testing.B) {
	data := []byte(forecastXML)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParse_CurrentConditions(b *testing.B) {
	data := []byte(currentXML)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}
