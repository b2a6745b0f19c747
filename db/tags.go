package db

import (
	"time"

	"gorm.io/gorm/clause"
)

func (s *Store) CreateTag(tag *Tag) error {
	return s.db.Create(tag).Error
}

func (s *Store) TagByID(id uint) (*Tag, error) {
	var tag Tag
	if err := s.db.First(&tag, id).Error; err != nil {
		return nil, err
	}
	return &tag, nil
}

// AssignTag links a tag to a user, reporting whether a new link was created.
// Re-assigning an existing tag is a no-op.
func (s *Store) AssignTag(userID, tagID uint) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LineUserTag{LineUserID: userID, TagID: tagID, CreatedAt: time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UnassignTag(userID, tagID uint) error {
	return s.db.Where("line_user_id = ? AND tag_id = ?", userID, tagID).
		Delete(&LineUserTag{}).Error
}

// UserMenuTags returns the user's tags that carry a linked rich menu, ordered
// by priority descending with tag id ascending as the deterministic
// tie-break.
func (s *Store) UserMenuTags(userID uint) ([]Tag, error) {
	var tags []Tag
	err := s.db.Model(&Tag{}).
		Joins("JOIN line_user_tags ON line_user_tags.tag_id = tags.id").
		Where("line_user_tags.line_user_id = ? AND tags.linked_rich_menu_id IS NOT NULL", userID).
		Order("tags.priority DESC, tags.id ASC").
		Find(&tags).Error
	return tags, err
}

func (s *Store) UserIDsWithTag(tagID uint) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&LineUserTag{}).Where("tag_id = ?", tagID).
		Pluck("line_user_id", &ids).Error
	return ids, err
}

// Tenant-scoped variants for operator paths.

func (c *ChannelScope) TagByID(id uint) (*Tag, error) {
	var tag Tag
	err := c.store.db.Where("id = ? AND channel_id = ?", id, c.channelID).First(&tag).Error
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (c *ChannelScope) Tags() ([]Tag, error) {
	var tags []Tag
	err := c.store.db.Where("channel_id = ?", c.channelID).
		Order("priority DESC, id ASC").Find(&tags).Error
	return tags, err
}

func (c *ChannelScope) UserByID(id uint) (*LineUser, error) {
	var user LineUser
	err := c.store.db.Where("id = ? AND channel_id = ?", id, c.channelID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *ChannelScope) MessageByID(id uint) (*Message, error) {
	var msg Message
	err := c.store.db.Where("id = ? AND channel_id = ?", id, c.channelID).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *ChannelScope) ScenarioByID(id uint) (*StepScenario, error) {
	var scenario StepScenario
	err := c.store.db.Where("id = ? AND channel_id = ?", id, c.channelID).First(&scenario).Error
	if err != nil {
		return nil, err
	}
	return &scenario, nil
}

func (c *ChannelScope) RichMenuByID(id uint) (*RichMenu, error) {
	var menu RichMenu
	err := c.store.db.Where("id = ? AND channel_id = ?", id, c.channelID).First(&menu).Error
	if err != nil {
		return nil, err
	}
	return &menu, nil
}
