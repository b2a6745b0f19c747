package db

import "time"

// LogActivity appends one audit record. Failures are the caller's to log;
// audit writes never block the action they describe.
func (s *Store) LogActivity(channelID uint, actor, action, detail string) error {
	return s.db.Create(&ActivityLog{
		ChannelID: channelID,
		Actor:     actor,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}).Error
}
