package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/wienernetze2mqtt/internal/adapter/actor"
	"github.com/berfenger/wienernetze2mqtt/internal/core/domain"
	"github.com/berfenger/wienernetze2mqtt/internal/core/service"
	"github.com/berfenger/wienernetze2mqtt/internal/mqtt"
	"github.com/berfenger/wienernetze2mqtt/internal/util"
	"github.com/berfenger/wienernetze2mqtt/internal/util/actorutil"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnMaster(t *testing.T, api *wienernetze.TestClient, received chan domain.SensorUpdateEvent) (*actor.ActorSystem, *actor.PID) {

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	coordinator := service.NewCoordinator(api, api.MeterPoints, service.WithLogger(logger))

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.MeterActor {
			return adactor.NewMeterActor(coordinator, logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger, received)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid
}

func TestMasterActor(t *testing.T) {

	as, pid := spawnMaster(t, wienernetze.CreateTestClient(), nil)

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(t, ok)

	assert.True(t, healthResp.Healthy, "healthy is true")
	assert.Equal(t, domain.ACTOR_ID_MASTER, healthResp.Id)
}

func TestMasterRefreshPublishesState(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	api := wienernetze.CreateTestClient()
	received := make(chan domain.SensorUpdateEvent, 32)
	as, pid := spawnMaster(t, api, received)

	// children are up and subscribed once the health check passes
	_, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(err)

	res, err := as.Root.RequestFuture(pid, domain.RefreshRequest{}, 10*time.Second).Result()
	require.NoError(err)
	resp, ok := res.(domain.RefreshResponse)
	require.True(ok)
	assert.False(resp.HasResponseError())
	require.Len(resp.Meters, 1)
	assert.InDelta(0.45, resp.Meters[0].TotalToday, 1e-9)

	totalId := domain.MeterSensorId(api.MeterPoints[0].ID, domain.SENSOR_SUFFIX_CONSUMPTION_TODAY)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-received:
			if ev.SensorId() != totalId {
				continue
			}
			fev, ok := ev.(domain.FloatSensorUpdateEvent)
			require.True(ok)
			assert.InDelta(0.45, fev.Value, 1e-9)
			return
		case <-deadline:
			t.Fatal("consumption_today was not published")
		}
	}
}

func TestMasterRefreshButton(t *testing.T) {

	api := wienernetze.CreateTestClient()
	as, pid := spawnMaster(t, api, nil)

	as.Root.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_REFRESH,
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  domain.BUTTON_PAYLOAD_PRESS,
	}})
	assert.Eventually(t, func() bool { return api.ConsumptionCallCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	// unknown payloads are ignored
	as.Root.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_REFRESH,
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  "HOLD",
	}})
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, api.ConsumptionCallCount())
}

func TestDiscoveryRequest(t *testing.T) {

	assert := assert.New(t)

	mp := wienernetze.TestMeterPoint()
	req := DiscoveryRequest("wienernetze", domain.GetMeterPointsResponse{MeterPoints: []wienernetze.MeterPoint{mp}})

	assert.Len(req.Sensors, 4+5)
	assert.Len(req.Buttons, 1)
	assert.Equal(domain.BUTTON_ID_REFRESH, req.Buttons[0].Id)

	bridge := domain.BridgeDevice("wienernetze")
	meterSensor := req.Sensors[4]
	assert.Equal(bridge.Id, meterSensor.Device.ViaDevice)
	assert.Equal("Wiener Netze", meterSensor.Device.Manufacturer)
	assert.Equal(wienernetze.MeterPointLabel(mp), meterSensor.Device.Name)
	assert.Empty(req.Sensors[5].Device.Manufacturer, "only the first entity carries the full device")
}
