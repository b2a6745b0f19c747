package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"LineDesk/db"
	"LineDesk/line"
)

func uintParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", name, raw)
	}
	return uint(v), nil
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Operator"); a != "" {
		return a
	}
	return "operator"
}

const channelPasswordHeader = "X-Channel-Password"

// channelContext loads the channel and a tenant-scoped store for an operator
// request. A channel with an access password set requires it on every
// operator request.
func (s *Server) channelContext(w http.ResponseWriter, r *http.Request) (*db.Channel, *db.ChannelScope, bool) {
	channelID, err := uintParam(r, "channelID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	ch, err := s.store.ChannelByID(channelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "unknown channel")
		} else {
			writeError(w, http.StatusInternalServerError, "channel lookup failed")
		}
		return nil, nil, false
	}
	if ch.PasswordHash != "" {
		ok, err := s.store.CheckChannelPassword(ch.ID, r.Header.Get(channelPasswordHeader))
		if err != nil || !ok {
			writeError(w, http.StatusForbidden, "channel password required")
			return nil, nil, false
		}
	}
	return ch, s.store.Scope(ch.ID), true
}

// HandleRegisterRichMenu registers a stored menu with the platform: create
// the remote menu, upload the image from the request body, persist the
// platform id. A failed upload deletes the half-registered remote menu so
// the local row stays unregistered rather than pointing at a menu with no
// image. `?default=true` additionally designates it as the channel default.
func (s *Server) HandleRegisterRichMenu(w http.ResponseWriter, r *http.Request) {
	ch, scope, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	menuID, err := uintParam(r, "menuID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	menu, err := scope.RichMenuByID(menuID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown rich menu")
		return
	}
	if menu.Registered() {
		writeError(w, http.StatusConflict, "rich menu is already registered")
		return
	}

	image, err := io.ReadAll(r.Body)
	if err != nil || len(image) == 0 {
		writeError(w, http.StatusBadRequest, "menu image body is required")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	gw, err := s.gatewayFor(ch)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("register menu: failed to build gateway")
		writeError(w, http.StatusInternalServerError, "channel credentials unavailable")
		return
	}

	platformID, err := gw.CreateRichMenu(r.Context(), menuDefinition(menu))
	if err != nil {
		log.Error().Err(err).Uint("menu_id", menu.ID).Msg("register menu: remote create failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("menu registration failed: %v", err))
		return
	}
	if err := gw.UploadRichMenuImage(r.Context(), platformID, image, contentType); err != nil {
		log.Error().Err(err).Uint("menu_id", menu.ID).Msg("register menu: image upload failed")
		if derr := gw.DeleteRichMenu(r.Context(), platformID); derr != nil {
			log.Error().Err(derr).Str("platform_menu_id", platformID).
				Msg("register menu: cleanup of half-registered menu failed")
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("menu image upload failed: %v", err))
		return
	}
	if err := s.store.SetPlatformMenuID(menu.ID, platformID); err != nil {
		log.Error().Err(err).Uint("menu_id", menu.ID).
			Msg("register menu: failed to persist platform id (remote side effect already applied)")
		writeError(w, http.StatusInternalServerError, "menu registered remotely but not recorded; re-sync required")
		return
	}

	var failures []string
	if r.URL.Query().Get("default") == "true" {
		if err := gw.SetDefaultMenu(r.Context(), platformID); err != nil {
			failures = append(failures, fmt.Sprintf("set platform default: %v", err))
		} else if err := s.store.SetDefaultRichMenu(ch.ID, &menu.ID); err != nil {
			failures = append(failures, fmt.Sprintf("record default: %v", err))
		}
	}

	if err := s.store.LogActivity(ch.ID, actor(r), "richmenu.register", menu.Name); err != nil {
		log.Warn().Err(err).Msg("register menu: activity log write failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platform_menu_id": platformID,
		"failures":         failures,
	})
}

func menuDefinition(menu *db.RichMenu) line.RichMenuDefinition {
	def := line.RichMenuDefinition{
		Size:        line.RichMenuSize{Width: menu.Width, Height: menu.Height},
		Selected:    true,
		Name:        menu.Name,
		ChatBarText: menu.ChatBarText,
	}
	for _, area := range menu.Areas.Data() {
		def.Areas = append(def.Areas, line.RichMenuArea{
			Bounds: line.RichMenuBounds{X: area.X, Y: area.Y, Width: area.Width, Height: area.Height},
			Action: line.RichMenuAction{Type: area.Action.Type, Text: area.Action.Text, URI: area.Action.URI},
		})
	}
	return def
}

// HandleAssignTag links a tag to a user. A newly created link triggers
// tag-watching scenarios and a menu re-resolution; a menu failure is logged
// but the tag assignment itself still succeeds.
func (s *Server) HandleAssignTag(w http.ResponseWriter, r *http.Request) {
	ch, scope, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	user, tag, ok := s.userAndTag(w, r, scope)
	if !ok {
		return
	}

	created, err := s.store.AssignTag(user.ID, tag.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tag assignment failed")
		return
	}
	if created {
		s.steps.StartForTagAssign(ch.ID, user.ID, tag.ID)
	}
	s.reapplyMenu(r, ch, user)

	if err := s.store.LogActivity(ch.ID, actor(r), "tag.assign",
		fmt.Sprintf("tag %q -> user %d", tag.Name, user.ID)); err != nil {
		log.Warn().Err(err).Msg("assign tag: activity log write failed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"assigned": created})
}

// HandleUnassignTag removes a tag link and re-resolves the user's menu.
func (s *Server) HandleUnassignTag(w http.ResponseWriter, r *http.Request) {
	ch, scope, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	user, tag, ok := s.userAndTag(w, r, scope)
	if !ok {
		return
	}

	if err := s.store.UnassignTag(user.ID, tag.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "tag removal failed")
		return
	}
	s.reapplyMenu(r, ch, user)

	if err := s.store.LogActivity(ch.ID, actor(r), "tag.unassign",
		fmt.Sprintf("tag %q -x- user %d", tag.Name, user.ID)); err != nil {
		log.Warn().Err(err).Msg("unassign tag: activity log write failed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) userAndTag(w http.ResponseWriter, r *http.Request, scope *db.ChannelScope) (*db.LineUser, *db.Tag, bool) {
	userID, err := uintParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	tagID, err := uintParam(r, "tagID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	user, err := scope.UserByID(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return nil, nil, false
	}
	tag, err := scope.TagByID(tagID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown tag")
		return nil, nil, false
	}
	return user, tag, true
}

func (s *Server) reapplyMenu(r *http.Request, ch *db.Channel, user *db.LineUser) {
	gw, err := s.gatewayFor(ch)
	if err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("menu reapply: failed to build gateway")
		return
	}
	if err := s.menus.Reapply(r.Context(), gw, user); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("menu reapply failed")
	}
}

type startScenarioRequest struct {
	UserIDs  []uint `json:"user_ids"`
	TagID    *uint  `json:"tag_id"`
	FromStep int    `json:"from_step"`
}

// HandleStartScenario is the operator bulk start: an explicit user list or a
// tag's member set, from an arbitrary step. The response reports created vs
// skipped so partial no-ops are visible.
func (s *Server) HandleStartScenario(w http.ResponseWriter, r *http.Request) {
	ch, scope, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	scenarioID, err := uintParam(r, "scenarioID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scenario, err := scope.ScenarioByID(scenarioID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown scenario")
		return
	}

	var req startScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userIDs := req.UserIDs
	if len(userIDs) == 0 && req.TagID != nil {
		if _, err := scope.TagByID(*req.TagID); err != nil {
			writeError(w, http.StatusNotFound, "unknown tag")
			return
		}
		userIDs, err = s.store.UserIDsWithTag(*req.TagID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve tag members")
			return
		}
	}
	if len(userIDs) == 0 {
		writeError(w, http.StatusBadRequest, "no target users")
		return
	}

	fromStep := req.FromStep
	if fromStep < 1 {
		fromStep = 1
	}
	result, err := s.steps.StartManual(scenario.ID, userIDs, fromStep)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("scenario start incomplete (created %d, skipped %d): %v",
				result.Created, result.Skipped, err))
		return
	}

	if err := s.store.LogActivity(ch.ID, actor(r), "scenario.start",
		fmt.Sprintf("scenario %q: created %d, skipped %d", scenario.Name, result.Created, result.Skipped)); err != nil {
		log.Warn().Err(err).Msg("start scenario: activity log write failed")
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSendMessage triggers an immediate broadcast of a draft or scheduled
// message.
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	ch, scope, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	messageID, err := uintParam(r, "messageID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := scope.MessageByID(messageID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown message")
		return
	}

	sent, err := s.broadcasts.SendNow(r.Context(), msg.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "broadcast failed to start")
		return
	}
	if !sent {
		writeError(w, http.StatusConflict, "message is not in a sendable status")
		return
	}

	if err := s.store.LogActivity(ch.ID, actor(r), "message.send", msg.Title); err != nil {
		log.Warn().Err(err).Msg("send message: activity log write failed")
	}
	final, err := scope.MessageByID(msg.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": db.MessageStatusSending})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          final.Status,
		"recipient_count": final.RecipientCount,
		"success_count":   final.SuccessCount,
		"failure_count":   final.FailureCount,
	})
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// HandleSetChannelPassword sets or rotates the channel access password.
// Rotating goes through channelContext like any other operator request, so an
// existing password must be presented to change it.
func (s *Server) HandleSetChannelPassword(w http.ResponseWriter, r *http.Request) {
	ch, _, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := s.store.SetChannelPassword(ch.ID, req.Password); err != nil {
		log.Error().Err(err).Uint("channel_id", ch.ID).Msg("set password: update failed")
		writeError(w, http.StatusInternalServerError, "password update failed")
		return
	}
	if err := s.store.LogActivity(ch.ID, actor(r), "channel.password", "rotated"); err != nil {
		log.Warn().Err(err).Msg("set password: activity log write failed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// HandleDeleteUser tears a user down in dependency order: executions, tag
// links, chat history, then the row itself.
func (s *Server) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ch, scope, ok := s.channelContext(w, r)
	if !ok {
		return
	}
	userID, err := uintParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := scope.UserByID(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	if err := s.store.DeleteUserCascade(user.ID); err != nil {
		log.Error().Err(err).Uint("user_id", user.ID).Msg("user delete failed")
		writeError(w, http.StatusInternalServerError, "user delete failed")
		return
	}

	if err := s.store.LogActivity(ch.ID, actor(r), "user.delete", user.LineUserID); err != nil {
		log.Warn().Err(err).Msg("delete user: activity log write failed")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
