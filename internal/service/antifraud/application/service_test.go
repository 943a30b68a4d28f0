package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/service/antifraud/domain"
	txdomain "fraudguard/internal/service/transaction/domain"
	"fraudguard/internal/service/transaction/infrastructure"
)

type published struct {
	evt     txdomain.DecisionResultEvent
	applied bool
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) PublishDecision(_ context.Context, evt txdomain.DecisionResultEvent, applied bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{evt: evt, applied: applied})
	return nil
}

func (p *fakePublisher) events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.sent...)
}

// staleRepository 在前 staleReads 次 Get 时返回一份过期快照，模拟读取之后被其他写入者抢先更新。
type staleRepository struct {
	txdomain.Repository
	mu         sync.Mutex
	snapshot   txdomain.Transaction
	staleReads int
	gets       int
}

func (r *staleRepository) Get(ctx context.Context, externalID string) (*txdomain.Transaction, error) {
	r.mu.Lock()
	r.gets++
	if r.staleReads > 0 {
		r.staleReads--
		snap := r.snapshot
		r.mu.Unlock()
		return &snap, nil
	}
	r.mu.Unlock()
	return r.Repository.Get(ctx, externalID)
}

// barrierRepository 让 parties 个并发 Get 都返回之后才继续，保证它们读到同一个版本。
type barrierRepository struct {
	txdomain.Repository
	arrived sync.WaitGroup
}

func (r *barrierRepository) Get(ctx context.Context, externalID string) (*txdomain.Transaction, error) {
	tx, err := r.Repository.Get(ctx, externalID)
	r.arrived.Done()
	r.arrived.Wait()
	return tx, err
}

func newMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func newService(repo txdomain.Repository, pub DecisionPublisher, max int64, policy string, m *metrics.Metrics) *AnalysisService {
	return NewAnalysisService(repo, domain.NewThresholdEngine(), pub, Options{
		MaxAmount:         decimal.NewFromInt(max),
		ConflictPolicy:    policy,
		ConflictRetries:   2,
		ProcessingTimeout: time.Second,
	}, noop.NewTracerProvider().Tracer("test"), m)
}

func seedPending(t *testing.T, repo txdomain.Repository, id string, value int64) {
	t.Helper()
	tx, err := txdomain.NewTransaction(id, decimal.NewFromInt(value))
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), tx))
}

func check(id string) *txdomain.CheckRequestEvent {
	return &txdomain.CheckRequestEvent{TransactionID: id}
}

func TestHandleCheckRequest_Approved(t *testing.T) {
	repo := infrastructure.NewMemoryRepository()
	seedPending(t, repo, "T1", 500)
	pub := &fakePublisher{}
	m := newMetrics()

	outcome, err := newService(repo, pub, 1000, config.ConflictPolicyPublish, m).HandleCheckRequest(context.Background(), check("T1"))
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.True(t, outcome.Published)
	assert.False(t, outcome.Replayed)

	stored, err := repo.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, txdomain.StatusApproved, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	require.Len(t, pub.events(), 1)
	assert.Equal(t, published{
		evt:     txdomain.DecisionResultEvent{TransactionID: "T1", Version: 0, NewStatus: txdomain.StatusApproved},
		applied: true,
	}, pub.events()[0])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CASTotal.WithLabelValues(metrics.CASApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("approved")))
}

func TestHandleCheckRequest_Rejected(t *testing.T) {
	repo := infrastructure.NewMemoryRepository()
	seedPending(t, repo, "T1", 500)
	pub := &fakePublisher{}

	outcome, err := newService(repo, pub, 100, config.ConflictPolicyPublish, newMetrics()).HandleCheckRequest(context.Background(), check("T1"))
	require.NoError(t, err)
	assert.Equal(t, txdomain.StatusRejected, outcome.Decision.NewStatus)

	stored, _ := repo.Get(context.Background(), "T1")
	assert.Equal(t, txdomain.StatusRejected, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	require.Len(t, pub.events(), 1)
	assert.Equal(t, int64(0), pub.events()[0].evt.Version)
}

func TestHandleCheckRequest_NotFound(t *testing.T) {
	pub := &fakePublisher{}

	_, err := newService(infrastructure.NewMemoryRepository(), pub, 1000, config.ConflictPolicyPublish, newMetrics()).
		HandleCheckRequest(context.Background(), check("missing"))
	assert.ErrorIs(t, err, txdomain.ErrNotFound)
	assert.Empty(t, pub.events())
}

func TestHandleCheckRequest_TerminalIsReplayed(t *testing.T) {
	repo := infrastructure.NewMemoryRepository()
	seedPending(t, repo, "T1", 500)
	_, err := repo.ConditionalUpdate(context.Background(), "T1", 0, txdomain.StatusRejected)
	require.NoError(t, err)
	pub := &fakePublisher{}

	// 当前配置会批准，但已落库的拒绝决策不会被改写
	outcome, err := newService(repo, pub, 1000, config.ConflictPolicyPublish, newMetrics()).HandleCheckRequest(context.Background(), check("T1"))
	require.NoError(t, err)
	assert.True(t, outcome.Replayed)

	stored, _ := repo.Get(context.Background(), "T1")
	assert.Equal(t, txdomain.StatusRejected, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	require.Len(t, pub.events(), 1)
	assert.Equal(t, txdomain.DecisionResultEvent{TransactionID: "T1", Version: 0, NewStatus: txdomain.StatusRejected}, pub.events()[0].evt)
}

func TestHandleCheckRequest_PublishFailureThenRedelivery(t *testing.T) {
	repo := infrastructure.NewMemoryRepository()
	seedPending(t, repo, "T1", 500)
	pub := &fakePublisher{err: assert.AnError}
	svc := newService(repo, pub, 1000, config.ConflictPolicyPublish, newMetrics())

	outcome, err := svc.HandleCheckRequest(context.Background(), check("T1"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, outcome.Applied)
	assert.False(t, outcome.Published)

	// 重新投递后发布已落库的决策，版本号与第一次一致
	pub.err = nil
	outcome, err = svc.HandleCheckRequest(context.Background(), check("T1"))
	require.NoError(t, err)
	assert.True(t, outcome.Replayed)
	require.Len(t, pub.events(), 1)
	assert.Equal(t, txdomain.DecisionResultEvent{TransactionID: "T1", Version: 0, NewStatus: txdomain.StatusApproved}, pub.events()[0].evt)
}

func staleSetup(t *testing.T, staleReads int) (*staleRepository, *infrastructure.MemoryRepository) {
	t.Helper()
	mem := infrastructure.NewMemoryRepository()
	seedPending(t, mem, "T1", 500)
	snapshot, err := mem.Get(context.Background(), "T1")
	require.NoError(t, err)

	// 另一个写入者已经把 v0 推进到 v1
	_, err = mem.ConditionalUpdate(context.Background(), "T1", 0, txdomain.StatusRejected)
	require.NoError(t, err)

	return &staleRepository{Repository: mem, snapshot: *snapshot, staleReads: staleReads}, mem
}

func TestHandleCheckRequest_ConflictPublishPolicy(t *testing.T) {
	repo, mem := staleSetup(t, 1)
	pub := &fakePublisher{}
	m := newMetrics()

	outcome, err := newService(repo, pub, 1000, config.ConflictPolicyPublish, m).HandleCheckRequest(context.Background(), check("T1"))
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.True(t, outcome.Published)

	// 过期决策照常发布，但带有 applied=false 标记
	require.Len(t, pub.events(), 1)
	assert.Equal(t, published{
		evt:     txdomain.DecisionResultEvent{TransactionID: "T1", Version: 0, NewStatus: txdomain.StatusApproved},
		applied: false,
	}, pub.events()[0])

	stored, _ := mem.Get(context.Background(), "T1")
	assert.Equal(t, txdomain.StatusRejected, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CASTotal.WithLabelValues(metrics.CASConflict)))
}

func TestHandleCheckRequest_ConflictSuppressPolicy(t *testing.T) {
	repo, _ := staleSetup(t, 1)
	pub := &fakePublisher{}

	outcome, err := newService(repo, pub, 1000, config.ConflictPolicySuppress, newMetrics()).HandleCheckRequest(context.Background(), check("T1"))
	assert.ErrorIs(t, err, txdomain.ErrVersionConflict)
	assert.False(t, outcome.Applied)
	assert.Empty(t, pub.events())
}

func TestHandleCheckRequest_ConflictRetryPolicy(t *testing.T) {
	repo, _ := staleSetup(t, 1)
	pub := &fakePublisher{}

	// 第二次读取发现已是终态，说明另一个写入者赢了，不发布
	outcome, err := newService(repo, pub, 1000, config.ConflictPolicyRetry, newMetrics()).HandleCheckRequest(context.Background(), check("T1"))
	require.NoError(t, err)
	assert.False(t, outcome.Published)
	assert.Empty(t, pub.events())
	assert.Equal(t, 2, repo.gets)
}

func TestHandleCheckRequest_ConflictRetryExhausted(t *testing.T) {
	repo, _ := staleSetup(t, 100)
	pub := &fakePublisher{}

	_, err := newService(repo, pub, 1000, config.ConflictPolicyRetry, newMetrics()).HandleCheckRequest(context.Background(), check("T1"))
	assert.ErrorIs(t, err, txdomain.ErrVersionConflict)
	assert.Empty(t, pub.events())
	assert.Equal(t, 3, repo.gets)
}

func TestHandleCheckRequest_ConcurrentPipelinesPublishStaleDecision(t *testing.T) {
	mem := infrastructure.NewMemoryRepository()
	seedPending(t, mem, "T1", 500)
	repo := &barrierRepository{Repository: mem}
	repo.arrived.Add(2)
	pub := &fakePublisher{}

	// 两条流水线使用不同的上限，因此得出相反的决策
	approve := newService(repo, pub, 1000, config.ConflictPolicyPublish, newMetrics())
	reject := newService(repo, pub, 100, config.ConflictPolicyPublish, newMetrics())

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	for i, svc := range []*AnalysisService{approve, reject} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.HandleCheckRequest(context.Background(), check("T1"))
			assert.NoError(t, err)
			outcomes[i] = out
		}()
	}
	wg.Wait()

	require.NotNil(t, outcomes[0])
	require.NotNil(t, outcomes[1])
	assert.NotEqual(t, outcomes[0].Applied, outcomes[1].Applied, "exactly one CAS must win")

	stored, err := mem.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	events := pub.events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, int64(0), e.evt.Version)
		if e.applied {
			assert.Equal(t, stored.Status, e.evt.NewStatus)
		} else {
			assert.NotEqual(t, stored.Status, e.evt.NewStatus)
		}
	}
}
