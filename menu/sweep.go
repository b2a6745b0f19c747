package menu

import (
	"context"

	"github.com/rs/zerolog/log"

	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/metrics"
	"LineDesk/utils"
)

// GatewayFactory builds a gateway from a decrypted channel access token.
type GatewayFactory func(accessToken string) line.Gateway

// Sweeper runs the display-window sweep. This operates on the platform-wide
// default menu, a different remote operation from the per-user link path in
// Engine.Apply; the two must not be conflated.
type Sweeper struct {
	engine     *Engine
	newGateway GatewayFactory
}

func NewSweeper(engine *Engine, newGateway GatewayFactory) *Sweeper {
	if newGateway == nil {
		newGateway = line.NewGateway
	}
	return &Sweeper{engine: engine, newGateway: newGateway}
}

// SweepWindows activates registered menus whose display window has opened
// (setting them as the platform-wide default) and deactivates menus whose
// window has closed (reverting the platform default to the channel's
// designated default, or clearing it when none exists). Each channel and
// each menu is handled independently; one failure never aborts the sweep.
// Returns the number of menus transitioned.
func (s *Sweeper) SweepWindows(ctx context.Context) int {
	channels, err := s.engine.store.Channels()
	if err != nil {
		log.Error().Err(err).Msg("window sweep: failed to list channels")
		return 0
	}

	processed := 0
	now := s.engine.now()
	for _, ch := range channels {
		token, err := utils.Decrypt(ch.AccessToken)
		if err != nil {
			log.Error().Err(err).Uint("channel_id", ch.ID).Msg("window sweep: failed to decrypt access token")
			continue
		}
		gw := s.newGateway(token)

		toActivate, err := s.engine.store.MenusToActivate(ch.ID, now)
		if err != nil {
			log.Error().Err(err).Uint("channel_id", ch.ID).Msg("window sweep: failed to find opening menus")
			continue
		}
		// toActivate comes back newest-created first; walk it oldest-first so
		// the newest open menu ends up as the platform default, matching the
		// per-user precedence in Resolve.
		for i := len(toActivate) - 1; i >= 0; i-- {
			m := toActivate[i]
			if err := gw.SetDefaultMenu(ctx, m.PlatformMenuID); err != nil {
				log.Error().Err(err).Uint("channel_id", ch.ID).Uint("menu_id", m.ID).
					Msg("window sweep: failed to set platform default for opening menu")
				continue
			}
			if err := s.engine.store.SetMenuActive(m.ID, true); err != nil {
				log.Error().Err(err).Uint("menu_id", m.ID).
					Msg("window sweep: failed to mark menu active (remote side effect already applied)")
				continue
			}
			log.Info().Uint("channel_id", ch.ID).Uint("menu_id", m.ID).Msg("window menu activated")
			metrics.SweepItems.WithLabelValues("menu_windows").Inc()
			processed++
		}

		toDeactivate, err := s.engine.store.MenusToDeactivate(ch.ID, now)
		if err != nil {
			log.Error().Err(err).Uint("channel_id", ch.ID).Msg("window sweep: failed to find closing menus")
			continue
		}
		for _, m := range toDeactivate {
			if err := s.revertDefault(ctx, gw, &ch); err != nil {
				log.Error().Err(err).Uint("channel_id", ch.ID).Uint("menu_id", m.ID).
					Msg("window sweep: failed to revert platform default for closing menu")
				continue
			}
			if err := s.engine.store.SetMenuActive(m.ID, false); err != nil {
				log.Error().Err(err).Uint("menu_id", m.ID).
					Msg("window sweep: failed to mark menu inactive (remote side effect already applied)")
				continue
			}
			log.Info().Uint("channel_id", ch.ID).Uint("menu_id", m.ID).Msg("window menu deactivated")
			metrics.SweepItems.WithLabelValues("menu_windows").Inc()
			processed++
		}
	}
	return processed
}

func (s *Sweeper) revertDefault(ctx context.Context, gw line.Gateway, ch *db.Channel) error {
	def, err := s.engine.store.DefaultRichMenu(ch.ID)
	if err != nil {
		return err
	}
	if def != nil && def.Registered() {
		return gw.SetDefaultMenu(ctx, def.PlatformMenuID)
	}
	return gw.ClearDefaultMenu(ctx)
}
