package actor

import (
	"fmt"
	"time"

	adactor "github.com/berfenger/wienernetze2mqtt/internal/adapter/actor"
	"github.com/berfenger/wienernetze2mqtt/internal/core/domain"
	"github.com/berfenger/wienernetze2mqtt/internal/core/events"
	. "github.com/berfenger/wienernetze2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor schedules refresh cycles on the meter actor and publishes the
// resulting state to the event stream. Manual refreshes go through the same
// path, so they never overlap with a scheduled one.
type PollerActor struct {
	behavior  actor.Behavior
	stash     *Stash
	scheduler *scheduler.TimerScheduler

	meterActor  *actor.PID
	interval    time.Duration
	eventStream *eventstream.EventStream
	replyTo     *actor.PID

	logger *zap.Logger
}

type pollTick struct {
}

func NewPollerActor(interval time.Duration, meterActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		interval:    interval,
		meterActor:  meterActor,
		behavior:    actor.NewBehavior(),
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_POLLER, logger),
		eventStream: eventStream,
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started", zap.Duration("interval", state.interval))
		if state.interval > 0 {
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.scheduler.RequestOnce(state.interval, ctx.Self(), pollTick{})
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default: ActorHealthRequest")
		ctx.Respond(state.healthResponse("idle"))
	case pollTick:
		state.logger.Debug("poller@default tick")
		// schedule next tick
		state.scheduler.RequestOnce(state.interval, ctx.Self(), pollTick{})
		state.startRefresh(ctx, nil)
	case domain.RefreshRequest:
		state.logger.Debug("poller@default RefreshRequest")
		state.startRefresh(ctx, ForRequest(msg).ReplyTo(ctx))
	case domain.PublishStateRequest:
		state.logger.Debug("poller@default PublishStateRequest")
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetMeterStateRequest{}, 2*time.Second), func(err error) any {
			return domain.GetMeterStateResponse{ActorResponseMixIn: domain.Failed(err)}
		})
	case domain.GetMeterStateResponse:
		if msg.HasResponseError() {
			state.logger.Error("poller@default GetMeterStateResponse error", zap.Error(msg.GetResponseError()))
			return
		}
		state.publish(msg.MeterStateSnapshot)
	default:
		state.logger.Debug("poller@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) WaitingRefreshReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RefreshResponse:
		if msg.HasResponseError() {
			state.logger.Warn("poller@waiting RefreshResponse error", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Debug("poller@waiting RefreshResponse")
		}
		state.publish(msg.MeterStateSnapshot)
		if state.replyTo != nil {
			ctx.Send(state.replyTo, msg)
			state.replyTo = nil
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.healthResponse("refreshing"))
	default:
		state.logger.Debug("poller@waiting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) startRefresh(ctx actor.Context, replyTo *actor.PID) {
	state.replyTo = replyTo
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.RefreshRequest{}, adactor.RefreshTimeout+5*time.Second), func(err error) any {
		return domain.RefreshResponse{
			ActorResponseMixIn: domain.Failed(err),
			MeterStateSnapshot: domain.MeterStateSnapshot{
				Status: domain.CoordinatorStatus{LastError: err.Error()},
			},
		}
	})
	state.behavior.BecomeStacked(state.WaitingRefreshReceive)
}

func (state *PollerActor) publish(snapshot domain.MeterStateSnapshot) {
	for _, ev := range events.SnapshotToUpdateEvents(snapshot) {
		state.eventStream.Publish(ev)
	}
}

func (state *PollerActor) healthResponse(s string) domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_POLLER,
		Healthy: true,
		State:   s,
	}
}
