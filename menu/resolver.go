package menu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"LineDesk/db"
	"LineDesk/line"
)

// Store is the data access the menu engine needs.
type Store interface {
	OpenWindowMenus(channelID uint, now time.Time) ([]db.RichMenu, error)
	UserMenuTags(userID uint) ([]db.Tag, error)
	DefaultRichMenu(channelID uint) (*db.RichMenu, error)
	RichMenuByID(id uint) (*db.RichMenu, error)
	SetUserMenu(userID uint, menuID *uint) error
	Channels() ([]db.Channel, error)
	MenusToActivate(channelID uint, now time.Time) ([]db.RichMenu, error)
	MenusToDeactivate(channelID uint, now time.Time) ([]db.RichMenu, error)
	SetMenuActive(menuID uint, active bool) error
}

// Engine decides which rich menu each user should carry and reconciles the
// platform to match.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Resolve computes the menu that should currently be bound to the user.
// Precedence: open display-window menu (newest created wins) over
// highest-priority tag-linked menu (ties broken by ascending tag id) over
// the channel default. Unregistered menus are never candidates. A nil result
// means no menu.
func (e *Engine) Resolve(user *db.LineUser) (*db.RichMenu, error) {
	now := e.now()

	open, err := e.store.OpenWindowMenus(user.ChannelID, now)
	if err != nil {
		return nil, fmt.Errorf("Resolve: window menus: %w", err)
	}
	if len(open) > 0 {
		return &open[0], nil
	}

	tags, err := e.store.UserMenuTags(user.ID)
	if err != nil {
		return nil, fmt.Errorf("Resolve: user tags: %w", err)
	}
	for _, tag := range tags {
		if tag.LinkedRichMenuID == nil {
			continue
		}
		menu, err := e.store.RichMenuByID(*tag.LinkedRichMenuID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("Resolve: tag menu: %w", err)
		}
		if menu.Registered() {
			return menu, nil
		}
	}

	def, err := e.store.DefaultRichMenu(user.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("Resolve: default menu: %w", err)
	}
	if def != nil && def.Registered() {
		return def, nil
	}
	return nil, nil
}

// Apply reconciles the user's platform-side menu link to target. It is a
// no-op when the target matches the recorded link, and it only writes the
// local record after the remote call succeeded, so local state never claims
// a switch that did not happen.
func (e *Engine) Apply(ctx context.Context, gw line.Gateway, user *db.LineUser, target *db.RichMenu) error {
	if target == nil && user.CurrentRichMenuID == nil {
		return nil
	}
	if target != nil && user.CurrentRichMenuID != nil && *user.CurrentRichMenuID == target.ID {
		return nil
	}

	if target == nil {
		if err := gw.UnlinkMenuFromUser(ctx, user.LineUserID); err != nil {
			return fmt.Errorf("Apply: unlink: %w", err)
		}
		if err := e.store.SetUserMenu(user.ID, nil); err != nil {
			return fmt.Errorf("Apply: persist after unlink (remote side effect already applied): %w", err)
		}
		user.CurrentRichMenuID = nil
		return nil
	}

	if !target.Registered() {
		return fmt.Errorf("Apply: menu %d is not registered with the platform", target.ID)
	}
	if err := gw.LinkMenuToUser(ctx, user.LineUserID, target.PlatformMenuID); err != nil {
		return fmt.Errorf("Apply: link: %w", err)
	}
	if err := e.store.SetUserMenu(user.ID, &target.ID); err != nil {
		return fmt.Errorf("Apply: persist after link (remote side effect already applied): %w", err)
	}
	id := target.ID
	user.CurrentRichMenuID = &id
	return nil
}

// Reapply recomputes and reconciles in one step. Used after tag assignment
// and unassignment; failures are the caller's to log and must not fail the
// triggering event.
func (e *Engine) Reapply(ctx context.Context, gw line.Gateway, user *db.LineUser) error {
	target, err := e.Resolve(user)
	if err != nil {
		return err
	}
	return e.Apply(ctx, gw, user, target)
}
