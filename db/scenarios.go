package db

import (
	"time"
)

func (s *Store) CreateScenario(scenario *StepScenario) error {
	return s.db.Create(scenario).Error
}

func (s *Store) ScenarioByID(id uint) (*StepScenario, error) {
	var scenario StepScenario
	if err := s.db.First(&scenario, id).Error; err != nil {
		return nil, err
	}
	return &scenario, nil
}

func (s *Store) CreateStep(step *StepMessage) error {
	return s.db.Create(step).Error
}

// ActiveScenarios returns the channel's active scenarios for a trigger type.
// For tag_assigned triggers, tagID narrows to scenarios watching that tag.
func (s *Store) ActiveScenarios(channelID uint, triggerType string, tagID *uint) ([]StepScenario, error) {
	q := s.db.Where("channel_id = ? AND trigger_type = ? AND is_active = true",
		channelID, triggerType)
	if tagID != nil {
		q = q.Where("trigger_tag_id = ?", *tagID)
	}
	var scenarios []StepScenario
	err := q.Find(&scenarios).Error
	return scenarios, err
}

func (s *Store) StepByOrder(scenarioID uint, order int) (*StepMessage, error) {
	var step StepMessage
	err := s.db.Where("scenario_id = ? AND step_order = ?", scenarioID, order).
		First(&step).Error
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// HasActiveExecution guards the one-active-execution-per-(scenario,user)
// invariant.
func (s *Store) HasActiveExecution(scenarioID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&StepExecution{}).
		Where("scenario_id = ? AND line_user_id = ? AND status = ?",
			scenarioID, userID, ExecutionStatusActive).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) CreateExecution(exec *StepExecution) error {
	return s.db.Create(exec).Error
}

// DueExecutions returns a bounded page of active executions whose next send
// time has arrived.
func (s *Store) DueExecutions(now time.Time, limit int) ([]StepExecution, error) {
	var execs []StepExecution
	err := s.db.Where("status = ? AND next_send_at <= ?", ExecutionStatusActive, now).
		Order("next_send_at ASC").
		Limit(limit).
		Find(&execs).Error
	return execs, err
}

// AdvanceExecution bumps the execution to the next step with a conditional
// update on (id, current_step) so a concurrent sweep cannot advance the same
// step twice. Returns false when the row was already advanced.
func (s *Store) AdvanceExecution(execID uint, fromStep int, nextSendAt time.Time) (bool, error) {
	res := s.db.Model(&StepExecution{}).
		Where("id = ? AND current_step = ? AND status = ?",
			execID, fromStep, ExecutionStatusActive).
		Updates(map[string]any{
			"current_step": fromStep + 1,
			"next_send_at": nextSendAt,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CompleteExecution terminates the execution, guarded the same way.
func (s *Store) CompleteExecution(execID uint, fromStep int, at time.Time) (bool, error) {
	res := s.db.Model(&StepExecution{}).
		Where("id = ? AND current_step = ? AND status = ?",
			execID, fromStep, ExecutionStatusActive).
		Updates(map[string]any{
			"status":       ExecutionStatusCompleted,
			"completed_at": at,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
