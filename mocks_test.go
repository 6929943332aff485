package authgate_test

import (
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	authgate "github.com/authgate/go-authgate"
	"github.com/authgate/go-authgate/session"
)

// MockUsers implements authgate.Users. Only the methods the flows touch
// are wired up; the embedded interface covers the rest of the repository
// surface.
type MockUsers struct {
	mock.Mock
	authgate.Users
}

func (m *MockUsers) FindByEmail(ctx context.Context, email string) (*authgate.User, error) {
	args := m.Called(ctx, email)
	return userReturn(args)
}

func (m *MockUsers) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*authgate.User, error) {
	args := m.Called(ctx, tx, email)
	return userReturn(args)
}

func (m *MockUsers) FindByEmailOrUsername(ctx context.Context, email, username string) (*authgate.User, error) {
	args := m.Called(ctx, email, username)
	return userReturn(args)
}

func (m *MockUsers) FindByEmailOrUsernameTx(ctx context.Context, tx bun.IDB, email, username string) (*authgate.User, error) {
	args := m.Called(ctx, tx, email, username)
	return userReturn(args)
}

func (m *MockUsers) FindByUsernameExcluding(ctx context.Context, username string, excludeID uuid.UUID) (*authgate.User, error) {
	args := m.Called(ctx, username, excludeID)
	return userReturn(args)
}

func (m *MockUsers) Register(ctx context.Context, user *authgate.User) (*authgate.User, error) {
	args := m.Called(ctx, user)
	return userReturn(args)
}

func (m *MockUsers) RegisterTx(ctx context.Context, tx bun.IDB, user *authgate.User) (*authgate.User, error) {
	args := m.Called(ctx, tx, user)
	return userReturn(args)
}

func (m *MockUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*authgate.User, error) {
	args := m.Called(ctx, id)
	return userReturn(args)
}

func (m *MockUsers) Update(ctx context.Context, record *authgate.User, criteria ...repository.UpdateCriteria) (*authgate.User, error) {
	args := m.Called(ctx, record)
	return userReturn(args)
}

func (m *MockUsers) UpdateTx(ctx context.Context, tx bun.IDB, record *authgate.User, criteria ...repository.UpdateCriteria) (*authgate.User, error) {
	args := m.Called(ctx, tx, record)
	return userReturn(args)
}

func (m *MockUsers) TrackSuccessfulLogin(ctx context.Context, user *authgate.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *authgate.User) error {
	args := m.Called(ctx, tx, user)
	return args.Error(0)
}

func (m *MockUsers) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error {
	args := m.Called(ctx, id, passwordHash, at)
	return args.Error(0)
}

func (m *MockUsers) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, at time.Time) error {
	args := m.Called(ctx, tx, id, passwordHash, at)
	return args.Error(0)
}

func (m *MockUsers) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	args := m.Called(ctx, id, email)
	return args.Error(0)
}

func (m *MockUsers) UpdateEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID, email string) error {
	args := m.Called(ctx, tx, id, email)
	return args.Error(0)
}

func (m *MockUsers) DeleteByID(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUsers) DeleteByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func userReturn(args mock.Arguments) (*authgate.User, error) {
	if u := args.Get(0); u != nil {
		return u.(*authgate.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPurposeTokens implements authgate.PurposeTokens
type MockPurposeTokens struct {
	mock.Mock
}

func (m *MockPurposeTokens) Issue(ctx context.Context, token *authgate.PurposeToken) (*authgate.PurposeToken, error) {
	args := m.Called(ctx, token)
	return tokenReturn(args)
}

func (m *MockPurposeTokens) IssueTx(ctx context.Context, tx bun.IDB, token *authgate.PurposeToken) (*authgate.PurposeToken, error) {
	args := m.Called(ctx, tx, token)
	return tokenReturn(args)
}

func (m *MockPurposeTokens) Find(ctx context.Context, userID uuid.UUID, purpose authgate.TokenPurpose) (*authgate.PurposeToken, error) {
	args := m.Called(ctx, userID, purpose)
	return tokenReturn(args)
}

func (m *MockPurposeTokens) FindTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, purpose authgate.TokenPurpose) (*authgate.PurposeToken, error) {
	args := m.Called(ctx, tx, userID, purpose)
	return tokenReturn(args)
}

func (m *MockPurposeTokens) Consume(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPurposeTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func (m *MockPurposeTokens) DeleteForUser(ctx context.Context, tx bun.IDB, userID uuid.UUID) error {
	args := m.Called(ctx, tx, userID)
	return args.Error(0)
}

func (m *MockPurposeTokens) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPurposeTokens) StartSweeper(ctx context.Context, interval time.Duration, logger authgate.Logger) {
	m.Called(ctx, interval, logger)
}

func tokenReturn(args mock.Arguments) (*authgate.PurposeToken, error) {
	if t := args.Get(0); t != nil {
		return t.(*authgate.PurposeToken), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRepositoryManager implements authgate.RepositoryManager
type MockRepositoryManager struct {
	mock.Mock
	users  *MockUsers
	tokens *MockPurposeTokens
}

func newMockRepo() *MockRepositoryManager {
	repo := &MockRepositoryManager{
		users:  &MockUsers{},
		tokens: &MockPurposeTokens{},
	}
	return repo
}

func (m *MockRepositoryManager) Users() authgate.Users {
	return m.users
}

func (m *MockRepositoryManager) PurposeTokens() authgate.PurposeTokens {
	return m.tokens
}

func (m *MockRepositoryManager) Validate() error {
	return nil
}

func (m *MockRepositoryManager) MustValidate() {}

// RunInTx invokes the callback with a zero transaction so flows that only
// touch mocked repositories run as written.
func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	var tx bun.Tx
	return f(ctx, tx)
}

func (m *MockRepositoryManager) AssertExpectations(t mock.TestingT) {
	m.users.AssertExpectations(t)
	m.tokens.AssertExpectations(t)
}

// fakeSessionStore is an in-memory authgate.SessionStore.
type fakeSessionStore struct {
	mu      sync.Mutex
	records map[string]*session.Record
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{records: map[string]*session.Record{}}
}

func (s *fakeSessionStore) Get(ctx context.Context, id string) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := *rec
	copied.ID = id
	return &copied, nil
}

func (s *fakeSessionStore) Set(ctx context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.records[rec.ID] = &copied
	return nil
}

func (s *fakeSessionStore) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *fakeSessionStore) DestroyAllForUser(ctx context.Context, userID string, except ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := map[string]bool{}
	for _, id := range except {
		keep[id] = true
	}

	for id, rec := range s.records {
		if rec.UserID == userID && !keep[id] {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *fakeSessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// captureNotifier records outbound mail for assertions.
type captureNotifier struct {
	mu   sync.Mutex
	sent []authgate.Email
}

func (n *captureNotifier) Notify(ctx context.Context, msg authgate.Email) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *captureNotifier) last() authgate.Email {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

// fixedClock is an authgate.Clock pinned at a settable instant.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(at time.Time) *fixedClock {
	return &fixedClock{now: at}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockContext mocks router.Context for handler-level tests.
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryValues(key string) []string {
	args := m.Called(key)
	vals, _ := args.Get(0).([]string)
	return vals
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	merged, _ := args.Get(0).(map[string]any)
	return merged
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	fh, _ := args.Get(0).(*multipart.FileHeader)
	return fh, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	params, _ := args.Get(0).(map[string]string)
	return params
}

func testConfig() authgate.Config {
	return authgate.Config{
		ClientURL:           "https://app.example.com",
		Issuer:              "authgate-test",
		AccessSecret:        "access-secret-for-tests",
		RefreshSecret:       "refresh-secret-for-tests",
		ChangeEmailSecret:   "change-email-secret-for-tests",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     24 * time.Hour,
		ChangeEmailTokenTTL: 15 * time.Minute,
		VerifyTokenTTL:      24 * time.Hour,
		ResetTokenTTL:       30 * time.Minute,
		SessionTTL:          15 * time.Minute,
		SessionCookieName:   "sid",
		BcryptCost:          4,
	}
}
