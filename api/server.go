package api

import (
	"encoding/json"
	"net/http"
	"time"

	"LineDesk/broadcast"
	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/menu"
	"LineDesk/steps"
	"LineDesk/utils"
)

// Store is the data access the HTTP layer needs. Satisfied by the privileged
// *db.Store; operator paths additionally derive a tenant scope per request.
type Store interface {
	ChannelByLineID(lineChannelID string) (*db.Channel, error)
	ChannelByID(id uint) (*db.Channel, error)
	Scope(channelID uint) *db.ChannelScope
	CheckChannelPassword(channelID uint, password string) (bool, error)
	SetChannelPassword(channelID uint, password string) error
	UserByLineID(channelID uint, lineUserID string) (*db.LineUser, error)
	CreateUser(user *db.LineUser) error
	SyncProfile(userID uint, displayName, pictureURL, statusMessage string) error
	SetFollowedAt(userID uint, at time.Time) error
	SetBlocked(userID uint, blocked bool) error
	DefaultRichMenu(channelID uint) (*db.RichMenu, error)
	SetUserMenu(userID uint, menuID *uint) error
	SetPlatformMenuID(menuID uint, platformMenuID string) error
	SetDefaultRichMenu(channelID uint, menuID *uint) error
	AssignTag(userID, tagID uint) (bool, error)
	UnassignTag(userID, tagID uint) error
	UserIDsWithTag(tagID uint) ([]uint, error)
	RecordInbound(userID uint, messageType, content string, at time.Time) error
	RecordOutbound(userID uint, messageType, content string, at time.Time) error
	MessageByID(id uint) (*db.Message, error)
	DeleteUserCascade(userID uint) error
	LogActivity(channelID uint, actor, action, detail string) error
}

// Server holds the handler dependencies. The privileged store is used on
// webhook and job paths; operator paths derive a channel scope from it per
// request.
type Server struct {
	store      Store
	claims     *utils.EventClaims
	menus      *menu.Engine
	sweeper    *menu.Sweeper
	steps      *steps.Engine
	broadcasts *broadcast.Engine
	newGateway func(accessToken string) line.Gateway
	cronSecret string
}

func NewServer(
	store Store,
	claims *utils.EventClaims,
	menus *menu.Engine,
	sweeper *menu.Sweeper,
	stepEngine *steps.Engine,
	broadcasts *broadcast.Engine,
	cronSecret string,
) *Server {
	return &Server{
		store:      store,
		claims:     claims,
		menus:      menus,
		sweeper:    sweeper,
		steps:      stepEngine,
		broadcasts: broadcasts,
		newGateway: line.NewGateway,
		cronSecret: cronSecret,
	}
}

func (s *Server) gatewayFor(ch *db.Channel) (line.Gateway, error) {
	token, err := utils.Decrypt(ch.AccessToken)
	if err != nil {
		return nil, err
	}
	return s.newGateway(token), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
