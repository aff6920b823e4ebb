package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fakhrymubarak/api-template/internal/logging"
	"github.com/fakhrymubarak/api-template/internal/model"
	"github.com/fakhrymubarak/api-template/internal/openapi"
	"github.com/fakhrymubarak/api-template/internal/problem"
	"github.com/fakhrymubarak/api-template/internal/service"
)

const ForecastPath = "/WeatherForecast"

type WeatherForecastHandler struct {
	ForecastService service.ForecastServiceInterface
	problems        *problem.Writer
}

func NewWeatherForecastHandler(problems *problem.Writer, svc ...service.ForecastServiceInterface) *WeatherForecastHandler {
	var forecastService service.ForecastServiceInterface
	if len(svc) > 0 && svc[0] != nil {
		forecastService = svc[0]
	} else {
		forecastService = service.NewForecastService()
	}
	if problems == nil {
		problems = problem.NewWriter()
	}
	return &WeatherForecastHandler{
		ForecastService: forecastService,
		problems:        problems,
	}
}

func writeJSONResponse(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.FromContext(r.Context()).Warn("could not encode json", zap.Error(err))
	}
}

func (h *WeatherForecastHandler) GetWeatherForecast(w http.ResponseWriter, r *http.Request) error {
	logging.FromContext(r.Context()).Info("Getting weather forecast")

	forecasts, err := h.ForecastService.GetForecast(r.Context())
	if err != nil {
		return err
	}
	writeJSONResponse(w, r, http.StatusOK, forecasts)
	return nil
}

// Routes describes the endpoints this handler serves.
func (h *WeatherForecastHandler) Routes() []openapi.Route {
	return []openapi.Route{
		{
			Method:      http.MethodGet,
			Path:        ForecastPath,
			OperationID: "GetWeatherForecast",
			Summary:     "Get weather forecast",
			Description: "Returns a weather forecast for the next 5 days.",
			Tags:        []string{"WeatherForecast"},
			Responses: []openapi.Response{
				{Status: http.StatusOK, Description: "OK", Body: []model.WeatherForecast{}},
				{Status: http.StatusInternalServerError, Description: "Internal Server Error", ContentType: problem.ContentType, Body: problem.Details{}},
			},
			Handler: h.problems.Handle(h.GetWeatherForecast),
		},
	}
}
