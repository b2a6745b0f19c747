package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/metrics"
)

// processEvent dispatches one webhook event. Events in a batch are isolated:
// nothing here may panic or abort the caller's loop, and a missing
// referenced entity is a logged skip, not an error.
func (s *Server) processEvent(ctx context.Context, ch *db.Channel, ev *line.WebhookEvent) {
	if !s.claims.Claim(ctx, ch.ID, ev.WebhookEventID) {
		log.Info().Str("event_id", ev.WebhookEventID).Msg("duplicate webhook event, skipping")
		return
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type).Inc()

	gw, err := s.gatewayFor(ch)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("failed to build gateway for channel")
		return
	}

	switch ev.Type {
	case "follow":
		s.handleFollow(ctx, ch, gw, ev)
	case "unfollow":
		s.handleUnfollow(ch, ev)
	case "message":
		s.handleMessage(ctx, ch, gw, ev)
	case "postback":
		s.handlePostback(ctx, ch, gw, ev)
	default:
		log.Debug().Str("type", ev.Type).Msg("ignoring unhandled event type")
	}
}

// handleFollow syncs an existing user on re-follow, or provisions a brand
// new one: default menu linked directly (no prior state to reconcile),
// auto-tags inserted, then a full menu re-resolution. A freshly applied tag
// may outrank the default that was just linked, so the two-step order is
// deliberate. Follow-triggered scenarios start last.
func (s *Server) handleFollow(ctx context.Context, ch *db.Channel, gw line.Gateway, ev *line.WebhookEvent) {
	profile, err := gw.GetProfile(ctx, ev.Source.UserID)
	if err != nil {
		log.Warn().Err(err).Str("line_user_id", ev.Source.UserID).Msg("follow: profile fetch failed")
		profile = &line.Profile{UserID: ev.Source.UserID}
	}

	user, err := s.store.UserByLineID(ch.ID, ev.Source.UserID)
	if err == nil {
		if err := s.store.SyncProfile(user.ID, profile.DisplayName, profile.PictureURL, profile.StatusMessage); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("follow: profile sync failed")
		}
		if err := s.store.SetFollowedAt(user.ID, time.Now().UTC()); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("follow: failed to reset followed_at")
		}
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error().Err(err).Str("line_user_id", ev.Source.UserID).Msg("follow: user lookup failed")
		return
	}

	user = &db.LineUser{
		ChannelID:     ch.ID,
		LineUserID:    ev.Source.UserID,
		DisplayName:   profile.DisplayName,
		PictureURL:    profile.PictureURL,
		StatusMessage: profile.StatusMessage,
		FollowedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(user); err != nil {
		log.Error().Err(err).Str("line_user_id", ev.Source.UserID).Msg("follow: failed to create user")
		return
	}

	if def, err := s.store.DefaultRichMenu(ch.ID); err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("follow: failed to load default menu")
	} else if def != nil && def.Registered() {
		if err := gw.LinkMenuToUser(ctx, user.LineUserID, def.PlatformMenuID); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("follow: failed to link default menu")
		} else if err := s.store.SetUserMenu(user.ID, &def.ID); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).
				Msg("follow: failed to record menu link (remote side effect already applied)")
		} else {
			id := def.ID
			user.CurrentRichMenuID = &id
		}
	}

	if followTags := ch.FollowTagIDs.Data(); len(followTags) > 0 {
		for _, tagID := range followTags {
			created, err := s.store.AssignTag(user.ID, tagID)
			if err != nil {
				log.Error().Err(err).Uint("user_id", user.ID).Uint("tag_id", tagID).
					Msg("follow: failed to apply auto tag")
				continue
			}
			// Auto tags count as tag assignment like the operator and
			// postback paths do, so tag-watching scenarios fire here too.
			if created {
				s.steps.StartForTagAssign(ch.ID, user.ID, tagID)
			}
		}
		if err := s.menus.Reapply(ctx, gw, user); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("follow: menu re-resolution failed")
		}
	}

	s.steps.StartForFollow(ch.ID, user.ID)
}

// handleUnfollow marks the user blocked. History is retained for a
// potential re-follow.
func (s *Server) handleUnfollow(ch *db.Channel, ev *line.WebhookEvent) {
	user, err := s.store.UserByLineID(ch.ID, ev.Source.UserID)
	if err != nil {
		log.Warn().Err(err).Str("line_user_id", ev.Source.UserID).Msg("unfollow: unknown user, skipping")
		metrics.SkippedUnits.WithLabelValues("missing_user").Inc()
		return
	}
	if err := s.store.SetBlocked(user.ID, true); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("unfollow: failed to set blocked flag")
	}
}

// handleMessage persists inbound chat. Accounts can message without a clean
// follow event, so an unknown sender is provisioned here as an implicit
// follow-sync.
func (s *Server) handleMessage(ctx context.Context, ch *db.Channel, gw line.Gateway, ev *line.WebhookEvent) {
	if ev.Message == nil {
		return
	}

	user, err := s.store.UserByLineID(ch.ID, ev.Source.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile, perr := gw.GetProfile(ctx, ev.Source.UserID)
		if perr != nil {
			log.Warn().Err(perr).Str("line_user_id", ev.Source.UserID).Msg("message: profile fetch failed")
			profile = &line.Profile{UserID: ev.Source.UserID}
		}
		user = &db.LineUser{
			ChannelID:     ch.ID,
			LineUserID:    ev.Source.UserID,
			DisplayName:   profile.DisplayName,
			PictureURL:    profile.PictureURL,
			StatusMessage: profile.StatusMessage,
			FollowedAt:    time.Now().UTC(),
		}
		if err := s.store.CreateUser(user); err != nil {
			log.Error().Err(err).Str("line_user_id", ev.Source.UserID).Msg("message: failed to create user")
			return
		}
	} else if err != nil {
		log.Error().Err(err).Str("line_user_id", ev.Source.UserID).Msg("message: user lookup failed")
		return
	} else {
		// Implicit follow-sync: an inbound message proves the account is
		// reachable even when the follow event itself was missed, so the
		// blocked flag and profile are refreshed here too.
		if profile, perr := gw.GetProfile(ctx, ev.Source.UserID); perr != nil {
			log.Warn().Err(perr).Str("line_user_id", ev.Source.UserID).Msg("message: profile refresh failed")
			if user.IsBlocked {
				if berr := s.store.SetBlocked(user.ID, false); berr != nil {
					log.Error().Err(berr).Uint("user_id", user.ID).Msg("message: failed to clear blocked flag")
				}
			}
		} else if serr := s.store.SyncProfile(user.ID, profile.DisplayName, profile.PictureURL, profile.StatusMessage); serr != nil {
			log.Error().Err(serr).Uint("user_id", user.ID).Msg("message: profile sync failed")
		}
	}

	content := ev.Message.Text
	if content == "" {
		content = "[" + ev.Message.Type + "]"
	}
	at := time.UnixMilli(ev.Timestamp).UTC()
	if err := s.store.RecordInbound(user.ID, ev.Message.Type, content, at); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("message: failed to persist chat message")
	}
}

// handlePostback executes the custom-action bundle stored on the broadcast
// message the tap originated from: tags first, then the scenario start, then
// the reply push. Any missing reference is a logged skip.
func (s *Server) handlePostback(ctx context.Context, ch *db.Channel, gw line.Gateway, ev *line.WebhookEvent) {
	if ev.Postback == nil {
		return
	}
	data, err := ParsePostbackData(ev.Postback.Data)
	if err != nil {
		log.Warn().Err(err).Str("data", ev.Postback.Data).Msg("postback: undecodable payload, skipping")
		metrics.SkippedUnits.WithLabelValues("bad_postback").Inc()
		return
	}

	user, err := s.store.UserByLineID(ch.ID, ev.Source.UserID)
	if err != nil {
		log.Warn().Err(err).Str("line_user_id", ev.Source.UserID).Msg("postback: unknown user, skipping")
		metrics.SkippedUnits.WithLabelValues("missing_user").Inc()
		return
	}

	msg, err := s.store.MessageByID(data.MessageID)
	if err != nil || msg.ChannelID != ch.ID {
		log.Warn().Uint("message_id", data.MessageID).Uint("channel_id", ch.ID).Uint("user_id", user.ID).
			Msg("postback: originating message missing, skipping")
		metrics.SkippedUnits.WithLabelValues("missing_message").Inc()
		return
	}

	action := findCustomAction(msg.Contents.Data(), data.Block)
	if action == nil {
		log.Warn().Uint("message_id", msg.ID).Msg("postback: no custom action on referenced block, skipping")
		metrics.SkippedUnits.WithLabelValues("missing_action").Inc()
		return
	}

	for _, tagID := range action.TagIDs {
		created, err := s.store.AssignTag(user.ID, tagID)
		if err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Uint("tag_id", tagID).Msg("postback: tag apply failed")
			continue
		}
		if created {
			s.steps.StartForTagAssign(ch.ID, user.ID, tagID)
		}
	}
	if len(action.TagIDs) > 0 {
		if err := s.menus.Reapply(ctx, gw, user); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("postback: menu re-resolution failed")
		}
	}

	if action.ScenarioID != nil {
		if _, err := s.steps.Start(*action.ScenarioID, user.ID, 1); err != nil {
			log.Error().Err(err).Uint("scenario_id", *action.ScenarioID).Uint("user_id", user.ID).
				Msg("postback: scenario start failed")
		}
	}

	if action.ReplyText != "" {
		reply := strings.ReplaceAll(action.ReplyText, "{name}", user.DisplayName)
		if err := gw.Push(ctx, user.LineUserID, []line.Message{line.NewTextMessage(reply)}); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("postback: reply push failed")
			metrics.Deliveries.WithLabelValues("push", "error").Inc()
		} else {
			metrics.Deliveries.WithLabelValues("push", "ok").Inc()
			if err := s.store.RecordOutbound(user.ID, "text", reply, time.Now().UTC()); err != nil {
				log.Error().Err(err).Uint("user_id", user.ID).
					Msg("postback: failed to persist reply (remote side effect already applied)")
			}
		}
	}
}

// findCustomAction picks the action bundle referenced by a postback: the
// block at the given index when it carries one, otherwise the first block
// with an action.
func findCustomAction(blocks []db.ContentBlock, blockIndex int) *db.CustomAction {
	if blockIndex >= 0 && blockIndex < len(blocks) && blocks[blockIndex].Action != nil {
		return blocks[blockIndex].Action
	}
	for i := range blocks {
		if blocks[i].Action != nil {
			return blocks[i].Action
		}
	}
	return nil
}
