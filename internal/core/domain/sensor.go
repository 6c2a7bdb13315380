package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE        = "bridge"
	SENSOR_ID_LAST_UPDATE_SUCCESS = "last_update_success"
	SENSOR_ID_LAST_ERROR          = "last_error"
	SENSOR_ID_LAST_UPDATE         = "last_update"
	BUTTON_ID_REFRESH             = "refresh"

	SENSOR_SUFFIX_CONSUMPTION_TODAY           = "consumption_today"
	SENSOR_SUFFIX_VALIDATED_CONSUMPTION_TODAY = "validated_consumption_today"
	SENSOR_SUFFIX_LATEST_READING              = "latest_reading"
	SENSOR_SUFFIX_LATEST_READING_START        = "latest_reading_start"
	SENSOR_SUFFIX_LATEST_READING_ESTIMATED    = "latest_reading_estimated"

	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_PROBLEM         = "problem"
	DEVICE_CLASS_TIMESTAMP       = "timestamp"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"

	UNIT_KWH = "kWh"

	BUTTON_PAYLOAD_PRESS = "PRESS"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("wienernetze_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "wienernetze2mqtt",
		Model:        "Smart Meter Bridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Wiener Netze Bridge %s", md5HashShort(baseTopic)),
	}
}

func MeterPointDevice(mp wienernetze.MeterPoint) Device {
	return Device{
		Id:           fmt.Sprintf("wn_meter_%s", md5HashShort(mp.ID)),
		Manufacturer: "Wiener Netze",
		Model:        "Smart Meter",
		Name:         wienernetze.MeterPointLabel(mp),
	}
}

// IdDevice strips a device down to what HA needs to link further entities.
func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// MeterSensorId builds a topic safe sensor id scoped to a meter point.
func MeterSensorId(meterPointID, suffix string) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(meterPointID), suffix)
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(bridgeDevice),
		Id:             SENSOR_ID_LAST_UPDATE_SUCCESS,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Last update successful",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_LAST_UPDATE_SUCCESS),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(bridgeDevice),
		Id:             SENSOR_ID_LAST_ERROR,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Last error",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:alert-circle-outline",
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_LAST_ERROR),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(bridgeDevice),
		Id:             SENSOR_ID_LAST_UPDATE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Last update",
		DeviceClass:    DEVICE_CLASS_TIMESTAMP,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_LAST_UPDATE),
	})

	return sensors
}

func MeterSensors(meterDevice Device, mp wienernetze.MeterPoint) []GenericSensor {
	var sensors []GenericSensor
	id := func(suffix string) string { return MeterSensorId(mp.ID, suffix) }

	// Consumption today
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                id(SENSOR_SUFFIX_CONSUMPTION_TODAY),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Consumption today",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: UNIT_KWH,
		Icon:              "mdi:flash",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_SUFFIX_CONSUMPTION_TODAY),
	})

	// Validated consumption today
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(meterDevice),
		Id:                id(SENSOR_SUFFIX_VALIDATED_CONSUMPTION_TODAY),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Validated consumption today",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: UNIT_KWH,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_SUFFIX_VALIDATED_CONSUMPTION_TODAY),
	})

	// Latest quarter hour reading
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(meterDevice),
		Id:                id(SENSOR_SUFFIX_LATEST_READING),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Latest reading",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: UNIT_KWH,
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_SUFFIX_LATEST_READING),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(meterDevice),
		Id:             id(SENSOR_SUFFIX_LATEST_READING_START),
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Latest reading start",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_SUFFIX_LATEST_READING_START),
	})

	sensors = append(sensors, GenericSensor{
		Device:         IdDevice(meterDevice),
		Id:             id(SENSOR_SUFFIX_LATEST_READING_ESTIMATED),
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Latest reading estimated",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:       uniqueId(meterDevice.Id, SENSOR_SUFFIX_LATEST_READING_ESTIMATED),
	})

	return sensors
}

func RefreshButton(bridgeDevice Device) GenericButton {
	return GenericButton{
		Device:   IdDevice(bridgeDevice),
		Id:       BUTTON_ID_REFRESH,
		Name:     "Refresh",
		Icon:     "mdi:refresh",
		UniqueId: uniqueId(bridgeDevice.Id, BUTTON_ID_REFRESH),
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
