package report

import (
	"context"
	"sync"
	"testing"

	"viewexchange-engine/pkg/config"
	"viewexchange-engine/pkg/errutil"
	"viewexchange-engine/pkg/event"
	"viewexchange-engine/services/campaign"
	"viewexchange-engine/services/ledger"
	"viewexchange-engine/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakeJobPool struct{}

func (fakeJobPool) MaterializeInTx(context.Context, *gorm.DB, string, int, int64) error {
	return nil
}

func (fakeJobPool) ExpireForCampaignInTx(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}

type reportFixture struct {
	svc       *Service
	campaigns *campaign.Service
	ledger    *ledger.Service
	enqueuer  *fakeEnqueuer
	db        *gorm.DB
}

func newFixture(t *testing.T) *reportFixture {
	t.Helper()

	db := testutil.NewTestDB(t, &Report{}, &campaign.Campaign{}, &ledger.Entry{}, &ledger.Balance{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Engine.MinWatchSeconds = 10
	cfg.Engine.MaxWatchSeconds = 600
	cfg.Engine.ReportThreshold = 3

	ledgerSvc := ledger.NewService(ledger.ServiceParams{
		DB:        db,
		Node:      node,
		Publisher: event.Nop{},
	})

	campaigns := campaign.NewService(campaign.ServiceParams{
		DB:        db,
		Node:      node,
		Seq:       &testutil.FakeSequence{},
		Config:    cfg,
		Ledger:    ledgerSvc,
		Jobs:      fakeJobPool{},
		Expirer:   fakeJobPool{},
		Publisher: event.Nop{},
	})

	enqueuer := &fakeEnqueuer{}
	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Config:    cfg,
		Campaigns: campaigns,
		Enqueuer:  enqueuer,
	})

	return &reportFixture{svc: svc, campaigns: campaigns, ledger: ledgerSvc, enqueuer: enqueuer, db: db}
}

func (f *reportFixture) createCampaign(t *testing.T) *campaign.Campaign {
	t.Helper()
	ctx := context.Background()

	_, err := f.ledger.Append(ctx, "owner", 1000, ledger.KindManualAdjustment, "test funding")
	require.NoError(t, err)

	c, err := f.campaigns.Create(ctx, campaign.CreateCommand{
		OwnerID:              "owner",
		MediaRef:             "yt:abc123",
		RequiredWatchSeconds: 10,
		RequestedViews:       5,
	})
	require.NoError(t, err)
	return c
}

func TestFileIncrementsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCampaign(t)

	r, err := f.svc.File(ctx, c.ID, "viewer-a", "looks like spam")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)

	got, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReportCount)
	assert.Equal(t, campaign.StatusActive, got.Status)
	assert.Empty(t, f.enqueuer.tasks)
}

func TestFileRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCampaign(t)

	_, err := f.svc.File(ctx, c.ID, "viewer-a", "")
	require.NoError(t, err)

	_, err = f.svc.File(ctx, c.ID, "viewer-a", "again")
	require.Error(t, err)
	assert.Equal(t, ReasonDuplicateReport, errutil.ReasonOf(err))

	got, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReportCount)
}

func TestFileUnknownCampaign(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.File(context.Background(), "ghost", "viewer-a", "")
	require.Error(t, err)
	assert.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestThresholdSuspendsAndRequestsReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCampaign(t)

	for _, reporter := range []string{"viewer-a", "viewer-b"} {
		_, err := f.svc.File(ctx, c.ID, reporter, "")
		require.NoError(t, err)
	}

	got, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusActive, got.Status)

	// Third distinct reporter crosses the threshold.
	_, err = f.svc.File(ctx, c.ID, "viewer-c", "")
	require.NoError(t, err)

	got, err = f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusSuspended, got.Status)

	require.Len(t, f.enqueuer.tasks, 1)
	assert.Equal(t, "report:review_requested", f.enqueuer.tasks[0].Type())
}

func TestResolveApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCampaign(t)

	for _, reporter := range []string{"viewer-a", "viewer-b", "viewer-c"} {
		_, err := f.svc.File(ctx, c.ID, reporter, "")
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Resolve(ctx, c.ID, ResolutionApprove))

	got, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusActive, got.Status)
	assert.Zero(t, got.ReportCount)

	pending, err := f.svc.ListPending(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResolveRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.createCampaign(t)

	for _, reporter := range []string{"viewer-a", "viewer-b", "viewer-c"} {
		_, err := f.svc.File(ctx, c.ID, reporter, "")
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Resolve(ctx, c.ID, ResolutionRemove))

	got, err := f.campaigns.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusRemoved, got.Status)
}

func TestResolveRejectsUnknownResolution(t *testing.T) {
	f := newFixture(t)
	c := f.createCampaign(t)

	err := f.svc.Resolve(context.Background(), c.ID, Resolution("shrug"))
	require.Error(t, err)
	assert.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}
