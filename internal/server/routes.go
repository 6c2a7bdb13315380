package server

import (
	"errors"
	"net/http"
	"time"

	adactor "github.com/berfenger/wienernetze2mqtt/internal/adapter/actor"
	"github.com/berfenger/wienernetze2mqtt/internal/core/domain"
	"github.com/berfenger/wienernetze2mqtt/internal/core/service"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type meterPointResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Label   string `json:"label"`
}

type totalResponse struct {
	TotalToday     float64 `json:"total_today"`
	ValidatedToday float64 `json:"validated_today"`
}

type statusResponse struct {
	LastUpdateSuccess bool       `json:"last_update_success"`
	LastError         string     `json:"last_error,omitempty"`
	LastUpdate        *time.Time `json:"last_update,omitempty"`
}

type historyResponse struct {
	MeterPoint string                `json:"meter_point"`
	From       string                `json:"from"`
	To         string                `json:"to"`
	Readings   []wienernetze.Reading `json:"readings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/version", s.VersionHandler)

	api := e.Group("/api")
	api.GET("/meters", s.MetersHandler)
	api.GET("/meters/:id", s.MeterHandler)
	api.GET("/meters/:id/latest", s.LatestReadingHandler)
	api.GET("/meters/:id/total", s.TotalHandler)
	api.GET("/meters/:id/history", s.HistoryHandler)
	api.GET("/status", s.StatusHandler)
	api.POST("/refresh", s.RefreshHandler)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version":     versioninfo.Short(),
		"revision":    versioninfo.Revision,
		"last_commit": versioninfo.LastCommit,
	})
}

func (s *Server) MetersHandler(c echo.Context) error {
	meterPoints := s.coordinator.MeterPoints()
	resp := make([]meterPointResponse, 0, len(meterPoints))
	for _, mp := range meterPoints {
		resp = append(resp, meterPointResponse{
			ID:      wienernetze.MeterPointID(mp),
			Name:    mp.Name,
			Address: wienernetze.FormatAddress(mp),
			Label:   wienernetze.MeterPointLabel(mp),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) MeterHandler(c echo.Context) error {
	md, ok := s.coordinator.GetMeterData(c.Param("id"))
	if !ok {
		return notFound(c, "no data for meter point")
	}
	return c.JSON(http.StatusOK, md)
}

func (s *Server) LatestReadingHandler(c echo.Context) error {
	r, ok := s.coordinator.GetLatestReading(c.Param("id"))
	if !ok {
		return notFound(c, "no reading for meter point")
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) TotalHandler(c echo.Context) error {
	id := c.Param("id")
	if !s.knownMeterPoint(id) {
		return notFound(c, "unknown meter point")
	}
	return c.JSON(http.StatusOK, totalResponse{
		TotalToday:     s.coordinator.GetTotalConsumptionToday(id),
		ValidatedToday: s.coordinator.GetValidatedConsumptionToday(id),
	})
}

// HistoryHandler serves stored readings of the days from..to, both
// inclusive. Both default to today.
func (s *Server) HistoryHandler(c echo.Context) error {
	if s.history == nil {
		return notFound(c, "reading history is disabled")
	}
	id := c.Param("id")
	if !s.knownMeterPoint(id) {
		return notFound(c, "unknown meter point")
	}

	now := s.now()
	today, _ := wienernetze.TodayRange(now)
	fromStr := c.QueryParam("from")
	if fromStr == "" {
		fromStr = today
	}
	toStr := c.QueryParam("to")
	if toStr == "" {
		toStr = today
	}
	from, err := time.ParseInLocation(wienernetze.DateLayout, fromStr, now.Location())
	if err != nil {
		return badRequest(c, "invalid from date, expected YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(wienernetze.DateLayout, toStr, now.Location())
	if err != nil {
		return badRequest(c, "invalid to date, expected YYYY-MM-DD")
	}
	if to.Before(from) {
		return badRequest(c, "to is before from")
	}
	end := to.AddDate(0, 0, 1)

	readings, ok := s.cache.get(id, from, end)
	if !ok {
		readings, err = s.history.Readings(id, from, end)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		s.cache.add(id, from, end, readings)
	}
	if readings == nil {
		readings = []wienernetze.Reading{}
	}
	return c.JSON(http.StatusOK, historyResponse{
		MeterPoint: id,
		From:       fromStr,
		To:         toStr,
		Readings:   readings,
	})
}

func (s *Server) StatusHandler(c echo.Context) error {
	resp := statusResponse{
		LastUpdateSuccess: s.coordinator.LastUpdateSuccess(),
	}
	if err := s.coordinator.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if lu := s.coordinator.LastUpdate(); !lu.IsZero() {
		resp.LastUpdate = &lu
	}
	return c.JSON(http.StatusOK, resp)
}

// RefreshHandler runs a refresh cycle through the actors, so it never
// overlaps with a scheduled one.
func (s *Server) RefreshHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.RefreshRequest{}, adactor.RefreshTimeout+10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
	resp, ok := res.(domain.RefreshResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected refresh response"})
	}
	if err := resp.GetResponseError(); err != nil {
		if errors.Is(err, service.ErrReauthRequired) {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
	return s.StatusHandler(c)
}

func (s *Server) knownMeterPoint(id string) bool {
	for _, mp := range s.coordinator.MeterPoints() {
		if mp.ID == id {
			return true
		}
	}
	return false
}

func notFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}
