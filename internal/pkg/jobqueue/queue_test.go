package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/app/repository"
	"github.com/hauntedempire/paycore/internal/pkg/database"
	"github.com/hauntedempire/paycore/internal/pkg/notify"
	"github.com/hauntedempire/paycore/internal/pkg/promotion"
)

type fakeAccounts struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeAccounts) Upgrade(ctx context.Context, userID, ref string, amount int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "upgrade:"+userID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Account{UserID: userID, Tier: "premium"}, nil
}

func (f *fakeAccounts) Downgrade(ctx context.Context, userID, ref string, amount int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "downgrade:"+userID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Account{UserID: userID, Tier: "free"}, nil
}

type fakePromoter struct {
	events []promotion.Event
	err    error
}

func (f *fakePromoter) Promote(ctx context.Context, ev promotion.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

type recordingChannel struct {
	name string
	err  error
	msgs []notify.Message
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, msg notify.Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

type testEnv struct {
	queue    *Queue
	store    Store
	accounts *fakeAccounts
	promoter *fakePromoter
	ok       *recordingChannel
	broken   *recordingChannel
}

func newTestEnv(t *testing.T, scheduler Scheduler) *testEnv {
	t.Helper()
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)

	env := &testEnv{
		store:    repository.NewJobRepository(db),
		accounts: &fakeAccounts{},
		promoter: &fakePromoter{},
		ok:       &recordingChannel{name: "discord"},
		broken:   &recordingChannel{name: "email", err: errors.New("smtp down")},
	}
	env.queue = NewQueue(env.store, Handlers{
		Accounts: env.accounts,
		Promoter: env.promoter,
		Notifier: notify.NewNotifier(env.broken, env.ok),
	}, scheduler)
	return env
}

func TestEnqueue_NotifyIsolation(t *testing.T) {
	env := newTestEnv(t, nil)

	job, err := env.queue.Enqueue(context.Background(), NotifyPayload{Kind: notify.KindPurchase, Message: "sold"})
	require.NoError(t, err)

	assert.Equal(t, string(JobStatusDone), job.Status)
	assert.Contains(t, job.ErrorMsg, "smtp down")
	assert.NotNil(t, job.CompletedAt)
	require.Len(t, env.ok.msgs, 1)
	assert.Equal(t, "sold", env.ok.msgs[0].Text)
}

func TestEnqueue_NotifyAllChannelsFail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ok.err = errors.New("discord down")

	job, err := env.queue.Enqueue(context.Background(), NotifyPayload{Message: "sold"})
	require.NoError(t, err, "enqueue succeeds once the job is persisted")
	assert.Equal(t, string(JobStatusDone), job.Status)
	assert.Contains(t, job.ErrorMsg, "discord down")
	assert.NotNil(t, job.CompletedAt)

	stats, err := env.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats[JobStatusError])
}

func TestEnqueue_UpgradeThenNotify(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	job, err := env.queue.Enqueue(ctx, AccountUpdatePayload{Action: ActionUpgrade, UserID: "u1", Reference: "pi_1", Amount: 999, Currency: "usd", Notify: true})
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusDone), job.Status)
	assert.Equal(t, []string{"upgrade:u1"}, env.accounts.calls)

	require.Len(t, env.ok.msgs, 1)
	assert.Equal(t, notify.KindAccount, env.ok.msgs[0].Kind)
	assert.Contains(t, env.ok.msgs[0].Text, "u1 upgraded to premium")

	jobs, err := env.queue.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestEnqueue_AccountUpdateFailureRecorded(t *testing.T) {
	env := newTestEnv(t, nil)
	env.accounts.err = errors.New("deadlock")

	job, err := env.queue.Enqueue(context.Background(), AccountUpdatePayload{Action: ActionDowngrade, UserID: "u1", Notify: true})
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusError), job.Status)
	assert.Equal(t, "deadlock", job.ErrorMsg)
	assert.Empty(t, env.ok.msgs, "no notification after a failed update")
}

func TestEnqueue_PromotionFailureStillDone(t *testing.T) {
	env := newTestEnv(t, nil)
	env.promoter.err = errors.New("ad service 503")

	job, err := env.queue.Enqueue(context.Background(), PromotionPayload{Kind: "payment", UserID: "u1", Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusDone), job.Status)
	assert.Contains(t, job.ErrorMsg, "ad service 503")
	require.Len(t, env.promoter.events, 1)
	assert.Equal(t, int64(500), env.promoter.events[0].Amount)
}

func TestEnqueue_RejectsInvalidPayloads(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.queue.Enqueue(ctx, AccountUpdatePayload{Action: "promote", UserID: "u1"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = env.queue.Enqueue(ctx, AccountUpdatePayload{Action: ActionUpgrade})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = env.queue.Enqueue(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	stats, err := env.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[JobStatusPending]+stats[JobStatusDone]+stats[JobStatusError], "nothing persisted")
}

func TestProcess_UnknownStoredTypeEndsInError(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.store.Create(ctx, &models.Job{ID: "legacy", Type: "reindex", Status: "pending", PayloadJSON: `{}`}))
	require.NoError(t, env.queue.Process(ctx, "legacy"))

	job, err := env.queue.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusError), job.Status)
	assert.Contains(t, job.ErrorMsg, ErrUnknownJobType.Error())
}

type stuckScheduler struct {
	ids []string
	err error
}

func (s *stuckScheduler) Schedule(ctx context.Context, id string) error {
	s.ids = append(s.ids, id)
	return s.err
}

func TestReplay(t *testing.T) {
	sched := &stuckScheduler{err: errors.New("redis down")}
	env := newTestEnv(t, sched)
	ctx := context.Background()

	job, err := env.queue.Enqueue(ctx, PromotionPayload{Kind: "refund"})
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusPending), job.Status)
	assert.Equal(t, []string{job.ID}, sched.ids)

	replayed, err := env.queue.Replay(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusDone), replayed.Status)

	_, err = env.queue.Replay(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotReplayable)

	stats, err := env.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusDone])
	assert.Equal(t, int64(0), stats[JobStatusPending])
}

func TestDecodePayload(t *testing.T) {
	p, err := decodePayload("db_update", `{"action":"downgrade","user_id":"u1","notify":true}`)
	require.NoError(t, err)
	assert.Equal(t, AccountUpdatePayload{Action: ActionDowngrade, UserID: "u1", Notify: true}, p)

	_, err = decodePayload("notify", `{not json`)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = decodePayload("mystery", `{}`)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}
