package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store is the privileged data-access capability handed to webhook processing
// and scheduled sweeps. It sees every channel's rows. Operator-facing request
// paths get a ChannelScope instead.
type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	if err := gdb.AutoMigrate(
		&Channel{},
		&LineUser{},
		&Tag{},
		&LineUserTag{},
		&RichMenu{},
		&Message{},
		&StepScenario{},
		&StepMessage{},
		&StepExecution{},
		&ChatMessage{},
		&ActivityLog{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: gdb}, nil
}

// NewStore wraps an existing gorm handle (tests, shared pools).
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// ChannelScope is the tenant-scoped capability: every query it issues is
// pinned to one channel. Handed to operator request paths so a tenant can
// never reach another tenant's rows by construction.
type ChannelScope struct {
	store     *Store
	channelID uint
}

func (s *Store) Scope(channelID uint) *ChannelScope {
	return &ChannelScope{store: s, channelID: channelID}
}

func (c *ChannelScope) ChannelID() uint { return c.channelID }
