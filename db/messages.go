package db

import (
	"time"
)

func (s *Store) CreateMessage(msg *Message) error {
	return s.db.Create(msg).Error
}

func (s *Store) MessageByID(id uint) (*Message, error) {
	var msg Message
	if err := s.db.First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// DueScheduledMessages returns a bounded page of scheduled messages whose
// send time has arrived.
func (s *Store) DueScheduledMessages(now time.Time, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
		MessageStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// ClaimMessage flips a message from fromStatus to sending with a conditional
// update. Returns false when another sweep already claimed it.
func (s *Store) ClaimMessage(messageID uint, fromStatus string) (bool, error) {
	res := s.db.Model(&Message{}).
		Where("id = ? AND status = ?", messageID, fromStatus).
		Updates(map[string]any{
			"status":     MessageStatusSending,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FinishMessage records the outcome of a broadcast run.
func (s *Store) FinishMessage(messageID uint, status string, recipients, success, failure int, sentAt time.Time) error {
	return s.db.Model(&Message{}).Where("id = ?", messageID).Updates(map[string]any{
		"status":          status,
		"recipient_count": recipients,
		"success_count":   success,
		"failure_count":   failure,
		"sent_at":         sentAt,
		"updated_at":      time.Now().UTC(),
	}).Error
}
