package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

func (s *Store) UserByID(id uint) (*LineUser, error) {
	var user LineUser
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UserByLineID(channelID uint, lineUserID string) (*LineUser, error) {
	var user LineUser
	err := s.db.Where("channel_id = ? AND line_user_id = ?", channelID, lineUserID).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(user *LineUser) error {
	return s.db.Create(user).Error
}

// SyncProfile refreshes the fields owned by the platform profile and clears
// the blocked flag (called on follow and on implicit follow-sync).
func (s *Store) SyncProfile(userID uint, displayName, pictureURL, statusMessage string) error {
	return s.db.Model(&LineUser{}).Where("id = ?", userID).Updates(map[string]any{
		"display_name":   displayName,
		"picture_url":    pictureURL,
		"status_message": statusMessage,
		"is_blocked":     false,
		"updated_at":     time.Now().UTC(),
	}).Error
}

func (s *Store) SetBlocked(userID uint, blocked bool) error {
	return s.db.Model(&LineUser{}).Where("id = ?", userID).Updates(map[string]any{
		"is_blocked": blocked,
		"updated_at": time.Now().UTC(),
	}).Error
}

func (s *Store) SetFollowedAt(userID uint, at time.Time) error {
	return s.db.Model(&LineUser{}).Where("id = ?", userID).
		Update("followed_at", at).Error
}

// SetUserMenu records the menu currently linked to the user on the platform.
// Callers must only invoke this after the remote link/unlink call succeeded.
func (s *Store) SetUserMenu(userID uint, menuID *uint) error {
	return s.db.Model(&LineUser{}).Where("id = ?", userID).Updates(map[string]any{
		"current_rich_menu_id": menuID,
		"updated_at":           time.Now().UTC(),
	}).Error
}

// RecordInbound persists one inbound chat message and bumps the user's
// last-message fields and unread counter in the same transaction.
func (s *Store) RecordInbound(userID uint, messageType, content string, at time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		chat := ChatMessage{
			LineUserID:  userID,
			Direction:   ChatDirectionIn,
			MessageType: messageType,
			Content:     content,
			SentAt:      at,
		}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		return tx.Model(&LineUser{}).Where("id = ?", userID).Updates(map[string]any{
			"last_message_at":   at,
			"last_message_text": content,
			"unread_count":      gorm.Expr("unread_count + 1"),
			"updated_at":        time.Now().UTC(),
		}).Error
	})
}

func (s *Store) RecordOutbound(userID uint, messageType, content string, at time.Time) error {
	chat := ChatMessage{
		LineUserID:  userID,
		Direction:   ChatDirectionOut,
		MessageType: messageType,
		Content:     content,
		SentAt:      at,
	}
	return s.db.Create(&chat).Error
}

// DeleteUserCascade removes a user and every row referencing it, in
// dependency order: step executions, tag links, chat history, then the user.
func (s *Store) DeleteUserCascade(userID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("line_user_id = ?", userID).Delete(&StepExecution{}).Error; err != nil {
			return fmt.Errorf("DeleteUserCascade: executions: %w", err)
		}
		if err := tx.Where("line_user_id = ?", userID).Delete(&LineUserTag{}).Error; err != nil {
			return fmt.Errorf("DeleteUserCascade: tags: %w", err)
		}
		if err := tx.Where("line_user_id = ?", userID).Delete(&ChatMessage{}).Error; err != nil {
			return fmt.Errorf("DeleteUserCascade: chat: %w", err)
		}
		if err := tx.Delete(&LineUser{}, userID).Error; err != nil {
			return fmt.Errorf("DeleteUserCascade: user: %w", err)
		}
		return nil
	})
}

// RecipientLineIDs resolves a broadcast audience: all non-blocked users of
// the channel, narrowed to holders of any tag in tagIDs when the filter is
// non-empty.
func (s *Store) RecipientLineIDs(channelID uint, tagIDs []uint) ([]string, error) {
	q := s.db.Model(&LineUser{}).
		Where("line_users.channel_id = ? AND line_users.is_blocked = false", channelID)
	if len(tagIDs) > 0 {
		q = q.Joins("JOIN line_user_tags ON line_user_tags.line_user_id = line_users.id").
			Where("line_user_tags.tag_id IN ?", tagIDs).
			Distinct()
	}
	var ids []string
	err := q.Pluck("line_users.line_user_id", &ids).Error
	return ids, err
}
