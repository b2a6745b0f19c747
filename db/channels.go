package db

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func (s *Store) CreateChannel(ch *Channel) error {
	return s.db.Create(ch).Error
}

// ChannelByLineID resolves the webhook routing key to a tenant.
func (s *Store) ChannelByLineID(lineChannelID string) (*Channel, error) {
	var ch Channel
	if err := s.db.Where("line_channel_id = ?", lineChannelID).First(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Store) ChannelByID(id uint) (*Channel, error) {
	var ch Channel
	if err := s.db.First(&ch, id).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Store) Channels() ([]Channel, error) {
	var channels []Channel
	err := s.db.Find(&channels).Error
	return channels, err
}

// SetDefaultRichMenu designates menuID as the channel's default, clearing the
// flag on any other menu so at most one default exists per channel.
func (s *Store) SetDefaultRichMenu(channelID uint, menuID *uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&RichMenu{}).
			Where("channel_id = ? AND is_default = true", channelID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		if menuID != nil {
			if err := tx.Model(&RichMenu{}).
				Where("id = ? AND channel_id = ?", *menuID, channelID).
				Update("is_default", true).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Channel{}).Where("id = ?", channelID).
			Updates(map[string]any{"default_rich_menu_id": menuID, "updated_at": time.Now().UTC()}).Error
	})
}

// DefaultRichMenu returns the channel's designated default menu, or nil when
// none is configured.
func (s *Store) DefaultRichMenu(channelID uint) (*RichMenu, error) {
	var ch Channel
	if err := s.db.First(&ch, channelID).Error; err != nil {
		return nil, err
	}
	if ch.DefaultRichMenuID == nil {
		return nil, nil
	}
	var menu RichMenu
	if err := s.db.First(&menu, *ch.DefaultRichMenuID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &menu, nil
}

// SetChannelPassword stores a bcrypt hash of the channel access password.
func (s *Store) SetChannelPassword(channelID uint, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("SetChannelPassword: failed to hash password: %w", err)
	}
	return s.db.Model(&Channel{}).Where("id = ?", channelID).
		Update("password_hash", string(hash)).Error
}

func (s *Store) CheckChannelPassword(channelID uint, password string) (bool, error) {
	var ch Channel
	if err := s.db.First(&ch, channelID).Error; err != nil {
		return false, err
	}
	if ch.PasswordHash == "" {
		return true, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(ch.PasswordHash), []byte(password)) == nil, nil
}
