package model

import "cloud.google.com/go/civil"

// WeatherForecast is one synthesized day of the demo forecast.
type WeatherForecast struct {
	Date         civil.Date `json:"date"`
	TemperatureC int        `json:"temperatureC"`
	TemperatureF int        `json:"temperatureF"`
	Summary      string     `json:"summary"`
}

// NewWeatherForecast fills in the Fahrenheit value from temperatureC.
func NewWeatherForecast(date civil.Date, temperatureC int, summary string) WeatherForecast {
	return WeatherForecast{
		Date:         date,
		TemperatureC: temperatureC,
		TemperatureF: 32 + int(float64(temperatureC)/0.5556),
		Summary:      summary,
	}
}
