package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"gorm.io/gorm"

	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/menu"
	"LineDesk/steps"
	"LineDesk/utils"
)

// fakeStore is a single-channel in-memory Store.
type fakeStore struct {
	channel     *db.Channel
	user        *db.LineUser
	password    string
	passwordSet string
	syncCount   int
	inbound     int
	outbound    int
	assigned    []uint
	activity    int
}

func (f *fakeStore) ChannelByLineID(lineChannelID string) (*db.Channel, error) {
	if f.channel != nil && f.channel.LineChannelID == lineChannelID {
		return f.channel, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) ChannelByID(id uint) (*db.Channel, error) {
	if f.channel != nil && f.channel.ID == id {
		return f.channel, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) Scope(channelID uint) *db.ChannelScope { return nil }

func (f *fakeStore) CheckChannelPassword(channelID uint, password string) (bool, error) {
	return f.password != "" && password == f.password, nil
}

func (f *fakeStore) SetChannelPassword(channelID uint, password string) error {
	f.passwordSet = password
	return nil
}

func (f *fakeStore) UserByLineID(channelID uint, lineUserID string) (*db.LineUser, error) {
	if f.user != nil && f.user.LineUserID == lineUserID {
		return f.user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) CreateUser(user *db.LineUser) error {
	user.ID = 10
	f.user = user
	return nil
}

func (f *fakeStore) SyncProfile(userID uint, displayName, pictureURL, statusMessage string) error {
	f.syncCount++
	if f.user != nil {
		f.user.DisplayName = displayName
		f.user.IsBlocked = false
	}
	return nil
}

func (f *fakeStore) SetFollowedAt(userID uint, at time.Time) error { return nil }

func (f *fakeStore) SetBlocked(userID uint, blocked bool) error {
	if f.user != nil {
		f.user.IsBlocked = blocked
	}
	return nil
}

func (f *fakeStore) DefaultRichMenu(channelID uint) (*db.RichMenu, error) { return nil, nil }
func (f *fakeStore) SetUserMenu(userID uint, menuID *uint) error          { return nil }
func (f *fakeStore) SetPlatformMenuID(menuID uint, platformMenuID string) error {
	return nil
}
func (f *fakeStore) SetDefaultRichMenu(channelID uint, menuID *uint) error { return nil }

func (f *fakeStore) AssignTag(userID, tagID uint) (bool, error) {
	f.assigned = append(f.assigned, tagID)
	return true, nil
}

func (f *fakeStore) UnassignTag(userID, tagID uint) error        { return nil }
func (f *fakeStore) UserIDsWithTag(tagID uint) ([]uint, error)   { return nil, nil }

func (f *fakeStore) RecordInbound(userID uint, messageType, content string, at time.Time) error {
	f.inbound++
	return nil
}

func (f *fakeStore) RecordOutbound(userID uint, messageType, content string, at time.Time) error {
	f.outbound++
	return nil
}

func (f *fakeStore) MessageByID(id uint) (*db.Message, error) { return nil, gorm.ErrRecordNotFound }
func (f *fakeStore) DeleteUserCascade(userID uint) error      { return nil }

func (f *fakeStore) LogActivity(channelID uint, actor, action, detail string) error {
	f.activity++
	return nil
}

type fakeGateway struct {
	profile    *line.Profile
	profileErr error
	pushCalls  int
}

func (g *fakeGateway) GetProfile(ctx context.Context, userID string) (*line.Profile, error) {
	if g.profileErr != nil {
		return nil, g.profileErr
	}
	if g.profile != nil {
		return g.profile, nil
	}
	return &line.Profile{UserID: userID}, nil
}
func (g *fakeGateway) Push(ctx context.Context, to string, messages []line.Message) error {
	g.pushCalls++
	return nil
}
func (g *fakeGateway) Multicast(ctx context.Context, to []string, messages []line.Message) error {
	return nil
}
func (g *fakeGateway) CreateRichMenu(ctx context.Context, def line.RichMenuDefinition) (string, error) {
	return "", nil
}
func (g *fakeGateway) UploadRichMenuImage(ctx context.Context, menuID string, image []byte, contentType string) error {
	return nil
}
func (g *fakeGateway) DeleteRichMenu(ctx context.Context, menuID string) error        { return nil }
func (g *fakeGateway) LinkMenuToUser(ctx context.Context, userID, menuID string) error { return nil }
func (g *fakeGateway) UnlinkMenuFromUser(ctx context.Context, userID string) error     { return nil }
func (g *fakeGateway) SetDefaultMenu(ctx context.Context, menuID string) error         { return nil }
func (g *fakeGateway) ClearDefaultMenu(ctx context.Context) error                      { return nil }

type fakeStepStore struct {
	scenarios map[uint]*db.StepScenario
	steps     map[uint]map[int]*db.StepMessage
	execs     []*db.StepExecution
}

func newFakeStepStore() *fakeStepStore {
	return &fakeStepStore{
		scenarios: map[uint]*db.StepScenario{},
		steps:     map[uint]map[int]*db.StepMessage{},
	}
}

func (f *fakeStepStore) addStep(scenarioID uint, order int) {
	if f.steps[scenarioID] == nil {
		f.steps[scenarioID] = map[int]*db.StepMessage{}
	}
	f.steps[scenarioID][order] = &db.StepMessage{ScenarioID: scenarioID, StepOrder: order}
}

func (f *fakeStepStore) ActiveScenarios(channelID uint, triggerType string, tagID *uint) ([]db.StepScenario, error) {
	var out []db.StepScenario
	for _, sc := range f.scenarios {
		if sc.ChannelID != channelID || sc.TriggerType != triggerType || !sc.IsActive {
			continue
		}
		if tagID != nil && (sc.TriggerTagID == nil || *sc.TriggerTagID != *tagID) {
			continue
		}
		out = append(out, *sc)
	}
	return out, nil
}

func (f *fakeStepStore) ScenarioByID(id uint) (*db.StepScenario, error) {
	if sc, ok := f.scenarios[id]; ok {
		return sc, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStepStore) StepByOrder(scenarioID uint, order int) (*db.StepMessage, error) {
	if step, ok := f.steps[scenarioID][order]; ok {
		return step, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStepStore) HasActiveExecution(scenarioID, userID uint) (bool, error) {
	for _, e := range f.execs {
		if e.ScenarioID == scenarioID && e.LineUserID == userID && e.Status == db.ExecutionStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStepStore) CreateExecution(exec *db.StepExecution) error {
	exec.ID = uint(len(f.execs) + 1)
	f.execs = append(f.execs, exec)
	return nil
}

func (f *fakeStepStore) DueExecutions(now time.Time, limit int) ([]db.StepExecution, error) {
	return nil, nil
}
func (f *fakeStepStore) AdvanceExecution(execID uint, fromStep int, nextSendAt time.Time) (bool, error) {
	return false, nil
}
func (f *fakeStepStore) CompleteExecution(execID uint, fromStep int, at time.Time) (bool, error) {
	return false, nil
}
func (f *fakeStepStore) UserByID(id uint) (*db.LineUser, error) { return nil, gorm.ErrRecordNotFound }
func (f *fakeStepStore) ChannelByID(id uint) (*db.Channel, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeStepStore) UserIDsWithTag(tagID uint) ([]uint, error) { return nil, nil }
func (f *fakeStepStore) RecordOutbound(userID uint, messageType, content string, at time.Time) error {
	return nil
}

type fakeMenuStore struct{}

func (fakeMenuStore) OpenWindowMenus(channelID uint, now time.Time) ([]db.RichMenu, error) {
	return nil, nil
}
func (fakeMenuStore) UserMenuTags(userID uint) ([]db.Tag, error)          { return nil, nil }
func (fakeMenuStore) DefaultRichMenu(channelID uint) (*db.RichMenu, error) { return nil, nil }
func (fakeMenuStore) RichMenuByID(id uint) (*db.RichMenu, error) {
	return nil, gorm.ErrRecordNotFound
}
func (fakeMenuStore) SetUserMenu(userID uint, menuID *uint) error { return nil }
func (fakeMenuStore) Channels() ([]db.Channel, error)             { return nil, nil }
func (fakeMenuStore) MenusToActivate(channelID uint, now time.Time) ([]db.RichMenu, error) {
	return nil, nil
}
func (fakeMenuStore) MenusToDeactivate(channelID uint, now time.Time) ([]db.RichMenu, error) {
	return nil, nil
}
func (fakeMenuStore) SetMenuActive(menuID uint, active bool) error { return nil }

func testServer(t *testing.T, store *fakeStore, gw *fakeGateway, ss *fakeStepStore) *Server {
	t.Helper()
	if ss == nil {
		ss = newFakeStepStore()
	}
	return &Server{
		store:      store,
		menus:      menu.NewEngine(fakeMenuStore{}),
		steps:      steps.NewEngine(ss, func(token string) line.Gateway { return gw }),
		newGateway: func(token string) line.Gateway { return gw },
		cronSecret: "cron-secret",
	}
}

func seededChannel(t *testing.T) *db.Channel {
	t.Helper()
	if err := utils.InitCrypto("0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatalf("InitCrypto: %v", err)
	}
	token, err := utils.Encrypt("access-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return &db.Channel{
		ID:            1,
		LineChannelID: "2000000001",
		ChannelSecret: "channel-secret",
		AccessToken:   token,
	}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
