package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/core/domain"
	"github.com/berfenger/wienernetze2mqtt/internal/core/port"
	"github.com/berfenger/wienernetze2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// RefreshTimeout bounds a whole poll cycle over all meter points.
const RefreshTimeout = 2 * time.Minute

// MeterActor owns the coordinator. Refreshes run one at a time, requests
// arriving meanwhile are stashed and served after the running cycle.
type MeterActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	coordinator port.MeterCoordinator
	logger      *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewMeterActor(coordinator port.MeterCoordinator, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		coordinator: coordinator,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@default started", zap.Int("meter_points", len(state.coordinator.MeterPoints())))
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default: ActorHealthRequest")
		ctx.Respond(state.healthResponse("idle"))
	case domain.GetMeterPointsRequest:
		state.logger.Debug("meter@default: GetMeterPointsRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.GetMeterPointsResponse{
			MeterPoints: state.coordinator.MeterPoints(),
		})
	case domain.GetMeterStateRequest:
		state.logger.Debug("meter@default: GetMeterStateRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.GetMeterStateResponse{
			MeterStateSnapshot: state.currentState(),
		})
	case domain.RefreshRequest:
		state.logger.Debug("meter@default: RefreshRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, state.refresh),
			mapTaskResult[domain.RefreshResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.RefreshResponse{
					ActorResponseMixIn: domain.Failed(err),
					MeterStateSnapshot: state.currentState(),
				},
				replyTo: sender,
			}
		}).WithTimeout(RefreshTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingRefresh)
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingRefresh(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@refreshing backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.healthResponse("refreshing"))
	default:
		state.logger.Debug("meter@refreshing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) healthResponse(s string) domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_METER,
		Healthy: true,
		State:   s,
	}
}

func (state *MeterActor) refresh() *domain.RefreshResponse {
	ctx, cancel := context.WithTimeout(context.Background(), RefreshTimeout)
	defer cancel()

	err := state.coordinator.Refresh(ctx)
	if err != nil {
		state.logger.Warn("refresh failed", zap.Error(err))
	}
	return &domain.RefreshResponse{
		ActorResponseMixIn: domain.Failed(err),
		MeterStateSnapshot: state.currentState(),
	}
}

// currentState reads the published coordinator state, which is the previous
// snapshot when the last cycle failed.
func (state *MeterActor) currentState() domain.MeterStateSnapshot {
	var resp domain.MeterStateSnapshot
	for _, mp := range state.coordinator.MeterPoints() {
		ms := domain.MeterState{
			MeterPoint:     mp,
			TotalToday:     state.coordinator.GetTotalConsumptionToday(mp.ID),
			ValidatedToday: state.coordinator.GetValidatedConsumptionToday(mp.ID),
		}
		if latest, ok := state.coordinator.GetLatestReading(mp.ID); ok {
			ms.Latest = &latest
		}
		resp.Meters = append(resp.Meters, ms)
	}
	resp.Status = domain.CoordinatorStatus{
		LastUpdateSuccess: state.coordinator.LastUpdateSuccess(),
		LastUpdate:        state.coordinator.LastUpdate(),
	}
	if err := state.coordinator.LastError(); err != nil {
		resp.Status.LastError = err.Error()
	}
	return resp
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
