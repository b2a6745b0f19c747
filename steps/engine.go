package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/metrics"
	"LineDesk/utils"
)

// Store is the data access the step engine needs.
type Store interface {
	ActiveScenarios(channelID uint, triggerType string, tagID *uint) ([]db.StepScenario, error)
	ScenarioByID(id uint) (*db.StepScenario, error)
	StepByOrder(scenarioID uint, order int) (*db.StepMessage, error)
	HasActiveExecution(scenarioID, userID uint) (bool, error)
	CreateExecution(exec *db.StepExecution) error
	DueExecutions(now time.Time, limit int) ([]db.StepExecution, error)
	AdvanceExecution(execID uint, fromStep int, nextSendAt time.Time) (bool, error)
	CompleteExecution(execID uint, fromStep int, at time.Time) (bool, error)
	UserByID(id uint) (*db.LineUser, error)
	ChannelByID(id uint) (*db.Channel, error)
	UserIDsWithTag(tagID uint) ([]uint, error)
	RecordOutbound(userID uint, messageType, content string, at time.Time) error
}

type GatewayFactory func(accessToken string) line.Gateway

// Engine owns drip-campaign executions: starting them on triggers and
// advancing due ones on a schedule.
type Engine struct {
	store      Store
	newGateway GatewayFactory
	now        func() time.Time
	pageSize   int
}

func NewEngine(store Store, newGateway GatewayFactory) *Engine {
	if newGateway == nil {
		newGateway = line.NewGateway
	}
	return &Engine{store: store, newGateway: newGateway, now: time.Now, pageSize: 100}
}

// StartResult reports a bulk start: how many executions were created and how
// many users were skipped because an active execution already existed.
type StartResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Start begins one user's run of a scenario at fromStep. It enforces the
// single-active-execution invariant: a user already running the scenario is
// skipped, not restarted.
func (e *Engine) Start(scenarioID, userID uint, fromStep int) (bool, error) {
	active, err := e.store.HasActiveExecution(scenarioID, userID)
	if err != nil {
		return false, fmt.Errorf("Start: duplicate check: %w", err)
	}
	if active {
		return false, nil
	}

	step, err := e.store.StepByOrder(scenarioID, fromStep)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("Start: scenario %d has no step %d", scenarioID, fromStep)
		}
		return false, fmt.Errorf("Start: load step: %w", err)
	}

	exec := db.StepExecution{
		ScenarioID:  scenarioID,
		LineUserID:  userID,
		CurrentStep: fromStep,
		NextSendAt:  NextSendAt(e.now(), step.DelayMinutes, step.SendHour, step.SendMinute),
		Status:      db.ExecutionStatusActive,
	}
	if err := e.store.CreateExecution(&exec); err != nil {
		return false, fmt.Errorf("Start: create execution: %w", err)
	}
	return true, nil
}

// StartForFollow starts every active follow-triggered scenario of the
// channel for the user. Per-scenario failures are logged and do not abort
// the rest.
func (e *Engine) StartForFollow(channelID, userID uint) {
	scenarios, err := e.store.ActiveScenarios(channelID, db.TriggerFollow, nil)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", channelID).Msg("failed to list follow scenarios")
		return
	}
	for _, sc := range scenarios {
		if _, err := e.Start(sc.ID, userID, 1); err != nil {
			log.Error().Err(err).Uint("scenario_id", sc.ID).Uint("user_id", userID).
				Msg("failed to start follow scenario")
		}
	}
}

// StartForTagAssign starts scenarios watching the assigned tag.
func (e *Engine) StartForTagAssign(channelID, userID, tagID uint) {
	scenarios, err := e.store.ActiveScenarios(channelID, db.TriggerTagAssigned, &tagID)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", channelID).Uint("tag_id", tagID).
			Msg("failed to list tag scenarios")
		return
	}
	for _, sc := range scenarios {
		if _, err := e.Start(sc.ID, userID, 1); err != nil {
			log.Error().Err(err).Uint("scenario_id", sc.ID).Uint("user_id", userID).
				Msg("failed to start tag scenario")
		}
	}
}

// StartManual is the operator bulk start: an explicit user set, from an
// arbitrary step. Duplicate-active users count as skipped.
func (e *Engine) StartManual(scenarioID uint, userIDs []uint, fromStep int) (StartResult, error) {
	if fromStep < 1 {
		fromStep = 1
	}
	var res StartResult
	for _, userID := range userIDs {
		created, err := e.Start(scenarioID, userID, fromStep)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// Advance processes a bounded page of due executions. Each row is claimed
// with a conditional bump on (id, current_step) before its message is sent,
// so concurrent sweeps fetching the same page deliver each step once. A
// delivery failure is logged but the schedule still moves forward, so one
// dead recipient cannot pile up a stuck backlog. An execution pointing at a
// step that no longer exists is completed immediately. Returns the number of
// executions handled.
func (e *Engine) Advance(ctx context.Context) int {
	now := e.now()
	execs, err := e.store.DueExecutions(now, e.pageSize)
	if err != nil {
		log.Error().Err(err).Msg("step advance: failed to fetch due executions")
		return 0
	}

	processed := 0
	for i := range execs {
		if e.advanceOne(ctx, now, &execs[i]) {
			processed++
			metrics.SweepItems.WithLabelValues("steps").Inc()
		}
	}
	return processed
}

func (e *Engine) advanceOne(ctx context.Context, now time.Time, exec *db.StepExecution) bool {
	step, err := e.store.StepByOrder(exec.ScenarioID, exec.CurrentStep)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The step was deleted under a running execution; nothing left to send.
			claimed, err := e.store.CompleteExecution(exec.ID, exec.CurrentStep, now)
			if err != nil {
				log.Error().Err(err).Uint("execution_id", exec.ID).Msg("step advance: failed to complete orphaned execution")
				return false
			}
			if !claimed {
				return false
			}
			metrics.SkippedUnits.WithLabelValues("missing_step").Inc()
			return true
		}
		log.Error().Err(err).Uint("execution_id", exec.ID).Msg("step advance: failed to load step")
		return false
	}

	// Claim the row with the conditional bump before delivering, so a
	// concurrent sweep that fetched the same page cannot send this step too.
	next, err := e.store.StepByOrder(exec.ScenarioID, exec.CurrentStep+1)
	var claimed bool
	switch {
	case err == nil:
		nextAt := NextSendAt(now, next.DelayMinutes, next.SendHour, next.SendMinute)
		claimed, err = e.store.AdvanceExecution(exec.ID, exec.CurrentStep, nextAt)
		if err != nil {
			log.Error().Err(err).Uint("execution_id", exec.ID).Msg("step advance: failed to advance execution")
			return false
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		claimed, err = e.store.CompleteExecution(exec.ID, exec.CurrentStep, now)
		if err != nil {
			log.Error().Err(err).Uint("execution_id", exec.ID).Msg("step advance: failed to complete execution")
			return false
		}
	default:
		log.Error().Err(err).Uint("execution_id", exec.ID).Msg("step advance: failed to look up next step")
		return false
	}
	if !claimed {
		return false
	}

	e.sendStep(ctx, exec, step)
	return true
}

func (e *Engine) sendStep(ctx context.Context, exec *db.StepExecution, step *db.StepMessage) {
	user, err := e.store.UserByID(exec.LineUserID)
	if err != nil {
		log.Warn().Err(err).Uint("execution_id", exec.ID).Uint("user_id", exec.LineUserID).
			Msg("step advance: user missing, skipping delivery")
		metrics.SkippedUnits.WithLabelValues("missing_user").Inc()
		return
	}

	ch, err := e.store.ChannelByID(user.ChannelID)
	if err != nil {
		log.Warn().Err(err).Uint("channel_id", user.ChannelID).Msg("step advance: channel missing, skipping delivery")
		metrics.SkippedUnits.WithLabelValues("missing_channel").Inc()
		return
	}
	token, err := utils.Decrypt(ch.AccessToken)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("step advance: failed to decrypt access token")
		return
	}

	gw := e.newGateway(token)
	if err := gw.Push(ctx, user.LineUserID, []line.Message{line.NewTextMessage(step.Content)}); err != nil {
		log.Error().Err(err).Uint("execution_id", exec.ID).Int("step", step.StepOrder).
			Msg("step advance: delivery failed, schedule still moves forward")
		metrics.Deliveries.WithLabelValues("push", "error").Inc()
		return
	}
	metrics.Deliveries.WithLabelValues("push", "ok").Inc()

	if err := e.store.RecordOutbound(user.ID, "text", step.Content, e.now()); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).
			Msg("step advance: failed to persist chat record (remote side effect already applied)")
	}
}
