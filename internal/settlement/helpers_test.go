package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbon-scribe/settlement-backend/internal/deploy"
	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/internal/notifications"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// testClock drives both the ledger and the resolver, so resolver sleeps
// move record availability forward
type testClock struct {
	mu  sync.Mutex
	now time.Time
	// onSleep runs at the start of every Sleep
	onSleep func()
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if c.onSleep != nil {
		c.onSleep()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notifications.WebSocketMessage
}

func (n *recordingNotifier) Publish(msg notifications.WebSocketMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		out = append(out, m.Event)
	}
	return out
}

// MockRepository is a mock implementation of mirror.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) UpsertProject(ctx context.Context, p *mirror.ProjectView) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) GetProject(ctx context.Context, projectID uint64) (*mirror.ProjectView, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mirror.ProjectView), args.Error(1)
}

func (m *MockRepository) ListProjects(ctx context.Context, filter mirror.ProjectFilter) ([]*mirror.ProjectView, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mirror.ProjectView), args.Error(1)
}

func (m *MockRepository) UpsertCredit(ctx context.Context, c *mirror.CreditView) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockRepository) ListCredits(ctx context.Context, owner string) ([]*mirror.CreditView, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mirror.CreditView), args.Error(1)
}

func (m *MockRepository) UpsertListing(ctx context.Context, l *mirror.ListingView) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockRepository) ListListings(ctx context.Context, filter mirror.ListingFilter) ([]*mirror.ListingView, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mirror.ListingView), args.Error(1)
}

func (m *MockRepository) SaveSubmission(ctx context.Context, s *mirror.PendingSubmission) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockRepository) ListUnconfirmedSubmissions(ctx context.Context, limit int) ([]*mirror.PendingSubmission, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mirror.PendingSubmission), args.Error(1)
}

type envOptions struct {
	repo        mirror.Repository
	maxAttempts int
	recordLag   time.Duration
	market      marketplace.Config
}

type env struct {
	clock    *testClock
	ledger   *ledger.Ledger
	d        *deploy.Deployment
	resolver *finality.Resolver
	svc      *Service
	notifier *recordingNotifier

	operator, verifier, proposer, buyer ledger.AccountID
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := ledger.New(ledger.Options{Now: clock.Now, RecordLag: opts.recordLag})

	e := &env{clock: clock, ledger: l, notifier: &recordingNotifier{}}
	for _, acct := range []*ledger.AccountID{&e.operator, &e.verifier, &e.proposer, &e.buyer} {
		id, err := l.CreateAccount(ledger.Hbar(100))
		require.NoError(t, err)
		*acct = id
	}

	cfg := deploy.Config{Marketplace: opts.market}
	cfg.Escrow.Verifier = e.verifier
	cfg.Escrow.MinimumFee = 1
	d, err := deploy.Bootstrap(context.Background(), l, e.operator, cfg, nil)
	require.NoError(t, err)
	e.d = d

	attempts := opts.maxAttempts
	if attempts == 0 {
		attempts = finality.DefaultMaxAttempts
	}
	e.resolver = finality.NewResolver(l, finality.Config{MaxAttempts: attempts, Delay: finality.DefaultDelay}, nil, finality.WithClock(clock))
	e.svc = NewService(d, e.resolver, opts.repo, e.notifier, nil)
	return e
}

// mintTo runs submit and approve for proposer and returns the serial
func (e *env) mintTo(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	sub, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://QmProject", ledger.Hbar(1))
	require.NoError(t, err)
	res, err := e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{SubmissionTransactionID: sub.TransactionID, Approve: true})
	require.NoError(t, err)
	return res.SerialNumber
}

func (e *env) associate(t *testing.T, accounts ...ledger.AccountID) {
	t.Helper()
	for _, a := range accounts {
		_, err := e.svc.AssociateToken(context.Background(), a)
		require.NoError(t, err)
	}
}
