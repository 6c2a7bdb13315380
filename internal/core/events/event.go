package events

import (
	"time"

	. "github.com/berfenger/wienernetze2mqtt/internal/core/domain"
)

func SnapshotToUpdateEvents(snapshot MeterStateSnapshot) []any {
	var events []any
	for _, ms := range snapshot.Meters {
		events = append(events, MeterStateToUpdateEvents(ms)...)
	}
	events = append(events, CoordinatorStatusToUpdateEvents(snapshot.Status)...)
	return events
}

func MeterStateToUpdateEvents(ms MeterState) []any {
	var events []any
	id := func(suffix string) string { return MeterSensorId(ms.MeterPoint.ID, suffix) }

	// Consumption today
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id(SENSOR_SUFFIX_CONSUMPTION_TODAY),
		},
		Value:    ms.TotalToday,
		Decimals: 3,
	})
	// Validated consumption today
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id(SENSOR_SUFFIX_VALIDATED_CONSUMPTION_TODAY),
		},
		Value:    ms.ValidatedToday,
		Decimals: 3,
	})

	// no reading yet today, leave the latest reading sensors untouched
	if ms.Latest == nil {
		return events
	}

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id(SENSOR_SUFFIX_LATEST_READING),
		},
		Value:    ms.Latest.Value,
		Decimals: 3,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id(SENSOR_SUFFIX_LATEST_READING_START),
		},
		Value: ms.Latest.From,
	})
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id(SENSOR_SUFFIX_LATEST_READING_ESTIMATED),
		},
		Value: !ms.Latest.Validated(),
	})

	return events
}

func CoordinatorStatusToUpdateEvents(status CoordinatorStatus) []any {
	var events []any

	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LAST_UPDATE_SUCCESS,
		},
		Value: status.LastUpdateSuccess,
	})
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_LAST_ERROR,
		},
		Value: status.LastError,
	})
	if !status.LastUpdate.IsZero() {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: SENSOR_ID_LAST_UPDATE,
			},
			Value: status.LastUpdate.Format(time.RFC3339),
		})
	}

	return events
}
