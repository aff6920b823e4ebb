package model

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
)

func TestNewWeatherForecast_Fahrenheit(t *testing.T) {
	tests := []struct {
		c    int
		want int
	}{
		{0, 32},
		{-20, -3},
		{25, 76},
		{54, 129},
	}
	for _, tt := range tests {
		f := NewWeatherForecast(civil.Date{Year: 2026, Month: 1, Day: 1}, tt.c, "Mild")
		if f.TemperatureF != tt.want {
			t.Errorf("TemperatureF(%d) = %d, want %d", tt.c, f.TemperatureF, tt.want)
		}
	}
}

func TestWeatherForecast_JSONShape(t *testing.T) {
	f := NewWeatherForecast(civil.Date{Year: 2026, Month: 10, Day: 18}, 21, "Warm")
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("could not encode json: %v", err)
	}
	want := `{"date":"2026-10-18","temperatureC":21,"temperatureF":69,"summary":"Warm"}`
	if string(b) != want {
		t.Errorf("Expected %s, got %s", want, string(b))
	}
}
