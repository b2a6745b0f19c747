package db

import (
	"time"
)

func (s *Store) CreateRichMenu(menu *RichMenu) error {
	return s.db.Create(menu).Error
}

func (s *Store) RichMenuByID(id uint) (*RichMenu, error) {
	var menu RichMenu
	if err := s.db.First(&menu, id).Error; err != nil {
		return nil, err
	}
	return &menu, nil
}

// OpenWindowMenus returns registered menus of the channel whose display
// window contains now, newest created first.
func (s *Store) OpenWindowMenus(channelID uint, now time.Time) ([]RichMenu, error) {
	var menus []RichMenu
	err := s.db.Where(
		"channel_id = ? AND platform_menu_id <> '' AND display_period_start IS NOT NULL AND display_period_end IS NOT NULL AND display_period_start <= ? AND display_period_end >= ?",
		channelID, now, now,
	).Order("created_at DESC").Find(&menus).Error
	return menus, err
}

// MenusToActivate finds registered window menus whose window just opened:
// inside their window but not yet flagged active.
func (s *Store) MenusToActivate(channelID uint, now time.Time) ([]RichMenu, error) {
	var menus []RichMenu
	err := s.db.Where(
		"channel_id = ? AND is_active = false AND platform_menu_id <> '' AND display_period_start IS NOT NULL AND display_period_end IS NOT NULL AND display_period_start <= ? AND display_period_end >= ?",
		channelID, now, now,
	).Order("created_at DESC").Find(&menus).Error
	return menus, err
}

// MenusToDeactivate finds menus flagged active whose window has closed.
func (s *Store) MenusToDeactivate(channelID uint, now time.Time) ([]RichMenu, error) {
	var menus []RichMenu
	err := s.db.Where(
		"channel_id = ? AND is_active = true AND display_period_end IS NOT NULL AND display_period_end < ?",
		channelID, now,
	).Find(&menus).Error
	return menus, err
}

func (s *Store) SetMenuActive(menuID uint, active bool) error {
	return s.db.Model(&RichMenu{}).Where("id = ?", menuID).Updates(map[string]any{
		"is_active":  active,
		"updated_at": time.Now().UTC(),
	}).Error
}

// SetPlatformMenuID records the external id returned by menu registration.
func (s *Store) SetPlatformMenuID(menuID uint, platformMenuID string) error {
	return s.db.Model(&RichMenu{}).Where("id = ?", menuID).Updates(map[string]any{
		"platform_menu_id": platformMenuID,
		"updated_at":       time.Now().UTC(),
	}).Error
}

func (s *Store) DeleteRichMenu(menuID uint) error {
	return s.db.Delete(&RichMenu{}, menuID).Error
}
