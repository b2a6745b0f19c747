package steps

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"LineDesk/db"
	"LineDesk/line"
	"LineDesk/utils"
)

type fakeStore struct {
	scenarios map[uint]*db.StepScenario
	steps     map[uint]map[int]*db.StepMessage
	execs     []*db.StepExecution
	users     map[uint]*db.LineUser
	channels  map[uint]*db.Channel
	outbound  int

	// dueOverride, when set, is returned verbatim by DueExecutions. Used to
	// hand the engine a page that is stale relative to the stored rows.
	dueOverride []db.StepExecution
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scenarios: map[uint]*db.StepScenario{},
		steps:     map[uint]map[int]*db.StepMessage{},
		users:     map[uint]*db.LineUser{},
		channels:  map[uint]*db.Channel{},
	}
}

func (f *fakeStore) addStep(scenarioID uint, order, delay int) {
	if f.steps[scenarioID] == nil {
		f.steps[scenarioID] = map[int]*db.StepMessage{}
	}
	f.steps[scenarioID][order] = &db.StepMessage{
		ScenarioID: scenarioID, StepOrder: order, DelayMinutes: delay,
		Content: "step content",
	}
}

func (f *fakeStore) ActiveScenarios(channelID uint, triggerType string, tagID *uint) ([]db.StepScenario, error) {
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

func (f *fakeStore) ScenarioByID(id uint) (*db.StepScenario, error) {
	if sc, ok := f.scenarios[id]; ok {
		return sc, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) StepByOrder(scenarioID uint, order int) (*db.StepMessage, error) {
	if step, ok := f.steps[scenarioID][order]; ok {
		return step, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) HasActiveExecution(scenarioID, userID uint) (bool, error) {
	for _, e := range f.execs {
		if e.ScenarioID == scenarioID && e.LineUserID == userID && e.Status == db.ExecutionStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateExecution(exec *db.StepExecution) error {
	exec.ID = uint(len(f.execs) + 1)
	f.execs = append(f.execs, exec)
	return nil
}

func (f *fakeStore) DueExecutions(now time.Time, limit int) ([]db.StepExecution, error) {
	if f.dueOverride != nil {
		return f.dueOverride, nil
	}
	var out []db.StepExecution
	for _, e := range f.execs {
		if e.Status == db.ExecutionStatusActive && !e.NextSendAt.After(now) && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) AdvanceExecution(execID uint, fromStep int, nextSendAt time.Time) (bool, error) {
	for _, e := range f.execs {
		if e.ID == execID && e.CurrentStep == fromStep && e.Status == db.ExecutionStatusActive {
			e.CurrentStep = fromStep + 1
			e.NextSendAt = nextSendAt
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CompleteExecution(execID uint, fromStep int, at time.Time) (bool, error) {
	for _, e := range f.execs {
		if e.ID == execID && e.CurrentStep == fromStep && e.Status == db.ExecutionStatusActive {
			e.Status = db.ExecutionStatusCompleted
			e.CompletedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UserByID(id uint) (*db.LineUser, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) ChannelByID(id uint) (*db.Channel, error) {
	if ch, ok := f.channels[id]; ok {
		return ch, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) UserIDsWithTag(tagID uint) ([]uint, error) { return nil, nil }

func (f *fakeStore) RecordOutbound(userID uint, messageType, content string, at time.Time) error {
	f.outbound++
	return nil
}

type fakeGateway struct {
	pushCalls int
	pushErr   error
}

func (g *fakeGateway) GetProfile(ctx context.Context, userID string) (*line.Profile, error) {
	return &line.Profile{UserID: userID}, nil
}
func (g *fakeGateway) Push(ctx context.Context, to string, messages []line.Message) error {
	g.pushCalls++
	return g.pushErr
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
func (g *fakeGateway) DeleteRichMenu(ctx context.Context, menuID string) error   { return nil }
func (g *fakeGateway) LinkMenuToUser(ctx context.Context, u, m string) error     { return nil }
func (g *fakeGateway) UnlinkMenuFromUser(ctx context.Context, u string) error    { return nil }
func (g *fakeGateway) SetDefaultMenu(ctx context.Context, menuID string) error   { return nil }
func (g *fakeGateway) ClearDefaultMenu(ctx context.Context) error                { return nil }

func testEngine(t *testing.T, store *fakeStore, gw *fakeGateway, now time.Time) *Engine {
	t.Helper()
	if err := utils.InitCrypto("0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(store, func(token string) line.Gateway { return gw })
	engine.now = func() time.Time { return now }
	return engine
}

func seedChannelAndUser(t *testing.T, store *fakeStore) {
	t.Helper()
	token, err := utils.Encrypt("access-token")
	if err != nil {
		t.Fatal(err)
	}
	store.channels[1] = &db.Channel{ID: 1, LineChannelID: "100", AccessToken: token}
	store.users[10] = &db.LineUser{ID: 10, ChannelID: 1, LineUserID: "U10"}
}

func TestStartManualSkipsDuplicateActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addStep(1, 1, 0)
	store.execs = append(store.execs, &db.StepExecution{
		ID: 99, ScenarioID: 1, LineUserID: 10, CurrentStep: 1,
		Status: db.ExecutionStatusActive, NextSendAt: now.Add(time.Hour),
	})
	engine := testEngine(t, store, &fakeGateway{}, now)

	res, err := engine.StartManual(1, []uint{10}, 1)
	if err != nil {
		t.Fatalf("StartManual: %v", err)
	}
	if res.Created != 0 || res.Skipped != 1 {
		t.Fatalf("got created=%d skipped=%d, want 0/1", res.Created, res.Skipped)
	}
}

func TestStartComputesImmediateNextSendAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addStep(1, 1, 0)
	engine := testEngine(t, store, &fakeGateway{}, now)

	created, err := engine.Start(1, 10, 1)
	if err != nil || !created {
		t.Fatalf("Start = %v, %v", created, err)
	}
	if !store.execs[0].NextSendAt.Equal(now) {
		t.Fatalf("NextSendAt = %v, want %v", store.execs[0].NextSendAt, now)
	}
	if store.execs[0].CurrentStep != 1 {
		t.Fatalf("CurrentStep = %d, want 1", store.execs[0].CurrentStep)
	}
}

func TestAdvanceSendsAndMovesToNextStep(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedChannelAndUser(t, store)
	store.addStep(1, 1, 0)
	store.addStep(1, 2, 60)
	store.execs = append(store.execs, &db.StepExecution{
		ID: 1, ScenarioID: 1, LineUserID: 10, CurrentStep: 1,
		Status: db.ExecutionStatusActive, NextSendAt: now,
	})
	gw := &fakeGateway{}
	engine := testEngine(t, store, gw, now)

	if processed := engine.Advance(context.Background()); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	if gw.pushCalls != 1 {
		t.Errorf("pushCalls = %d, want 1", gw.pushCalls)
	}
	exec := store.execs[0]
	if exec.CurrentStep != 2 {
		t.Errorf("CurrentStep = %d, want 2", exec.CurrentStep)
	}
	if want := now.Add(60 * time.Minute); !exec.NextSendAt.Equal(want) {
		t.Errorf("NextSendAt = %v, want %v", exec.NextSendAt, want)
	}
	if store.outbound != 1 {
		t.Errorf("outbound chat records = %d, want 1", store.outbound)
	}
}

func TestAdvanceCompletesAfterLastStep(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedChannelAndUser(t, store)
	store.addStep(1, 1, 0)
	store.execs = append(store.execs, &db.StepExecution{
		ID: 1, ScenarioID: 1, LineUserID: 10, CurrentStep: 1,
		Status: db.ExecutionStatusActive, NextSendAt: now,
	})
	engine := testEngine(t, store, &fakeGateway{}, now)

	engine.Advance(context.Background())
	exec := store.execs[0]
	if exec.Status != db.ExecutionStatusCompleted {
		t.Fatalf("Status = %q, want completed", exec.Status)
	}
	if exec.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestAdvanceCompletesWhenStepMissing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedChannelAndUser(t, store)
	store.execs = append(store.execs, &db.StepExecution{
		ID: 1, ScenarioID: 1, LineUserID: 10, CurrentStep: 7,
		Status: db.ExecutionStatusActive, NextSendAt: now,
	})
	gw := &fakeGateway{}
	engine := testEngine(t, store, gw, now)

	engine.Advance(context.Background())
	if gw.pushCalls != 0 {
		t.Errorf("pushCalls = %d, want 0", gw.pushCalls)
	}
	if store.execs[0].Status != db.ExecutionStatusCompleted {
		t.Fatalf("Status = %q, want completed", store.execs[0].Status)
	}
}

func TestAdvanceDeliveryFailureStillAdvances(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedChannelAndUser(t, store)
	store.addStep(1, 1, 0)
	store.addStep(1, 2, 30)
	store.execs = append(store.execs, &db.StepExecution{
		ID: 1, ScenarioID: 1, LineUserID: 10, CurrentStep: 1,
		Status: db.ExecutionStatusActive, NextSendAt: now,
	})
	gw := &fakeGateway{pushErr: errors.New("boom")}
	engine := testEngine(t, store, gw, now)

	engine.Advance(context.Background())
	if store.execs[0].CurrentStep != 2 {
		t.Fatalf("CurrentStep = %d, want 2 (schedule must keep moving)", store.execs[0].CurrentStep)
	}
}

func TestAdvanceDoesNotSendRowLostToConcurrentClaim(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	seedChannelAndUser(t, store)
	store.addStep(1, 1, 0)
	store.addStep(1, 2, 60)
	// Stored row already advanced to step 2 by another sweep; the fetched
	// page still carries the stale step-1 snapshot.
	store.execs = append(store.execs, &db.StepExecution{
		ID: 1, ScenarioID: 1, LineUserID: 10, CurrentStep: 2,
		Status: db.ExecutionStatusActive, NextSendAt: now.Add(time.Hour),
	})
	store.dueOverride = []db.StepExecution{{
		ID: 1, ScenarioID: 1, LineUserID: 10, CurrentStep: 1,
		Status: db.ExecutionStatusActive, NextSendAt: now,
	}}
	gw := &fakeGateway{}
	engine := testEngine(t, store, gw, now)

	if processed := engine.Advance(context.Background()); processed != 0 {
		t.Fatalf("processed = %d, want 0 for a row another sweep already claimed", processed)
	}
	if gw.pushCalls != 0 {
		t.Fatalf("pushCalls = %d, want 0 (claim must precede delivery)", gw.pushCalls)
	}
	if store.execs[0].CurrentStep != 2 {
		t.Fatalf("CurrentStep = %d, stored row must be untouched", store.execs[0].CurrentStep)
	}
}

func TestStartForFollowStartsAllActiveScenarios(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.scenarios[1] = &db.StepScenario{ID: 1, ChannelID: 1, TriggerType: db.TriggerFollow, IsActive: true}
	store.scenarios[2] = &db.StepScenario{ID: 2, ChannelID: 1, TriggerType: db.TriggerFollow, IsActive: false}
	store.addStep(1, 1, 0)
	store.addStep(2, 1, 0)
	engine := testEngine(t, store, &fakeGateway{}, now)

	engine.StartForFollow(1, 10)
	if len(store.execs) != 1 {
		t.Fatalf("executions = %d, want 1 (inactive scenario must not start)", len(store.execs))
	}
	if store.execs[0].ScenarioID != 1 {
		t.Fatalf("started scenario %d, want 1", store.execs[0].ScenarioID)
	}
}
