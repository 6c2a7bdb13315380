package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"go.uber.org/zap"
)

var (
	ErrNotReady       = errors.New("smart meter api not ready")
	ErrNoMeterPoints  = errors.New("no meter points found")
	ErrUnknownMeterID = errors.New("unknown meter point")
)

// Setup validates the credentials and resolves the selected meter point ids
// against the meter points visible to them. An empty selection selects all.
func Setup(ctx context.Context, api wienernetze.MeterReader, selected []string, logger *zap.Logger) ([]wienernetze.MeterPoint, error) {
	if err := api.Authenticate(ctx); err != nil {
		if errors.Is(err, wienernetze.ErrAuth) {
			logger.Error("authentication failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrReauthRequired, err)
		}
		logger.Error("connection failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	logger.Info("authenticated with wienernetze api")

	all, err := api.GetMeterPoints(ctx)
	if err != nil {
		if errors.Is(err, wienernetze.ErrAuth) {
			return nil, fmt.Errorf("%w: %w", ErrReauthRequired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if len(all) == 0 {
		return nil, ErrNoMeterPoints
	}

	for _, mp := range all {
		logger.Debug("available meter point",
			zap.String("id", mp.ID),
			zap.String("label", wienernetze.MeterPointLabel(mp)))
	}

	if len(selected) == 0 {
		return all, nil
	}

	byID := make(map[string]wienernetze.MeterPoint, len(all))
	for _, mp := range all {
		byID[wienernetze.MeterPointID(mp)] = mp
	}
	out := make([]wienernetze.MeterPoint, 0, len(selected))
	seen := map[string]bool{}
	for _, id := range selected {
		if seen[id] {
			continue
		}
		mp, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMeterID, id)
		}
		seen[id] = true
		out = append(out, mp)
	}
	return out, nil
}

// EntryTitle names a set of selected meter points after the first one.
func EntryTitle(meterPoints []wienernetze.MeterPoint) string {
	if len(meterPoints) == 0 {
		return "Wiener Netze Smart Meter"
	}
	if addr := wienernetze.FormatAddress(meterPoints[0]); addr != "" {
		return addr
	}
	return meterPoints[0].ID
}
