package service

import (
	"context"
	"math/rand"
	"time"

	"cloud.google.com/go/civil"
	"github.com/samber/lo"

	"github.com/fakhrymubarak/api-template/internal/model"
)

const (
	// ForecastDays is the number of days returned, starting tomorrow.
	ForecastDays = 5

	MinTemperatureC = -20
	// MaxTemperatureC is exclusive.
	MaxTemperatureC = 55
)

// Summaries is the fixed set a forecast summary is drawn from.
var Summaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild", "Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

type ForecastServiceInterface interface {
	GetForecast(ctx context.Context) ([]model.WeatherForecast, error)
}

// ForecastService synthesizes random forecasts. It holds no mutable state
// and is safe for concurrent use.
type ForecastService struct {
	Now func() time.Time
}

// NewForecastService returns a service using the wall clock unless a clock is given.
func NewForecastService(clock ...func() time.Time) *ForecastService {
	now := time.Now
	if len(clock) > 0 && clock[0] != nil {
		now = clock[0]
	}
	return &ForecastService{Now: now}
}

// GetForecast returns ForecastDays records for the days after today.
func (s *ForecastService) GetForecast(ctx context.Context) ([]model.WeatherForecast, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	today := civil.DateOf(s.Now())
	return lo.Map(lo.RangeFrom(1, ForecastDays), func(offset int, _ int) model.WeatherForecast {
		return model.NewWeatherForecast(
			today.AddDays(offset),
			MinTemperatureC+rand.Intn(MaxTemperatureC-MinTemperatureC),
			lo.Sample(Summaries),
		)
	}), nil
}
