package domain

import (
	"time"

	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_METER        = "meter"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// MeterState is what the bridge publishes for one meter point after a cycle.
type MeterState struct {
	MeterPoint     wienernetze.MeterPoint
	TotalToday     float64
	ValidatedToday float64
	Latest         *wienernetze.Reading
}

type CoordinatorStatus struct {
	LastUpdateSuccess bool
	LastError         string
	LastUpdate        time.Time
}

// MeterStateSnapshot is the published coordinator state. After a failed
// cycle it still holds the previous data.
type MeterStateSnapshot struct {
	Meters []MeterState
	Status CoordinatorStatus
}

type RefreshRequest struct {
	ActorRequestMixIn
}

type RefreshResponse struct {
	ActorResponseMixIn
	MeterStateSnapshot
}

type GetMeterStateRequest struct {
	ActorRequestMixIn
}

type GetMeterStateResponse struct {
	ActorResponseMixIn
	MeterStateSnapshot
}

// PublishStateRequest asks the poller to publish the current state without
// polling the API.
type PublishStateRequest struct {
	ActorRequestMixIn
}

// BridgeOnline is sent by the MQTT actor to its parent once it can publish.
type BridgeOnline struct {
}

type GetMeterPointsRequest struct {
	ActorRequestMixIn
}

type GetMeterPointsResponse struct {
	ActorResponseMixIn
	MeterPoints []wienernetze.MeterPoint
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
	Buttons []GenericButton
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
