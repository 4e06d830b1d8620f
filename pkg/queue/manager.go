package queue

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnykmshr/funnelcore/pkg/metrics"
	"github.com/vnykmshr/funnelcore/pkg/redisconn"
)

// BackendKind selects the storage behind a Manager
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendRedis  BackendKind = "redis"
	// BackendHybrid uses Redis when it connects at Initialize and memory otherwise
	BackendHybrid BackendKind = "hybrid"
)

// Valid reports whether k names a known backend
func (k BackendKind) Valid() bool {
	switch k {
	case BackendMemory, BackendRedis, BackendHybrid:
		return true
	}
	return false
}

// RedisOptions locates the Redis server of a Manager
type RedisOptions struct {
	// Client is used as is and never closed by the Manager
	Client redis.UniversalClient

	// URL is dialled at Initialize when Client is nil
	URL string

	// ConnectAttempts bounds the pings made while opening URL
	// Default: 3
	ConnectAttempts int
}

// Config configures a Manager
type Config struct {
	Backend BackendKind

	// MaxSize caps each memory queue
	// Default: 10000
	MaxSize int

	// PopTimeout enables blocking pops on Redis when at least one second
	PopTimeout time.Duration

	// KeyPrefix namespaces the Redis keys
	// Default: "optrixtrades:queue:"
	KeyPrefix string

	Redis *RedisOptions

	// Clock is shared by the backends; tests inject a ManualClock
	Clock Clock

	// Metrics receives enqueue and process operations
	Metrics metrics.Exporter

	Logger *zap.Logger
}

// NewDefaultConfig returns a hybrid configuration without Redis settings
func NewDefaultConfig() *Config {
	return &Config{
		Backend:   BackendHybrid,
		MaxSize:   DefaultMaxSize,
		KeyPrefix: DefaultKeyPrefix,
		Clock:     SystemClock(),
	}
}

// NewMemoryConfig returns a configuration for an in-process queue
func NewMemoryConfig() *Config {
	return NewDefaultConfig().WithBackend(BackendMemory)
}

// WithBackend sets the backend kind
func (c *Config) WithBackend(kind BackendKind) *Config {
	c.Backend = kind
	return c
}

// WithMaxSize sets the memory queue capacity
func (c *Config) WithMaxSize(n int) *Config {
	c.MaxSize = n
	return c
}

// WithPopTimeout sets the Redis blocking pop timeout
func (c *Config) WithPopTimeout(d time.Duration) *Config {
	c.PopTimeout = d
	return c
}

// WithKeyPrefix sets the Redis key prefix
func (c *Config) WithKeyPrefix(prefix string) *Config {
	c.KeyPrefix = prefix
	return c
}

// WithRedisURL configures Redis by URL
func (c *Config) WithRedisURL(url string) *Config {
	c.redis().URL = url
	return c
}

// WithRedisClient configures an existing Redis client
func (c *Config) WithRedisClient(client redis.UniversalClient) *Config {
	c.redis().Client = client
	return c
}

// WithClock sets the clock
func (c *Config) WithClock(clock Clock) *Config {
	c.Clock = clock
	return c
}

// WithMetrics sets the metrics exporter
func (c *Config) WithMetrics(exporter metrics.Exporter) *Config {
	c.Metrics = exporter
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.Logger = logger
	return c
}

func (c *Config) redis() *RedisOptions {
	if c.Redis == nil {
		c.Redis = &RedisOptions{}
	}
	return c.Redis
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if !c.Backend.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("queue: max size must not be negative, got %d", c.MaxSize)
	}
	if c.Backend == BackendRedis && (c.Redis == nil || (c.Redis.Client == nil && c.Redis.URL == "")) {
		return ErrRedisConfigRequired
	}
	return nil
}

// SendOption adjusts a message before it is enqueued
type SendOption func(*Message)

// WithPriority sets the message priority
func WithPriority(p Priority) SendOption {
	return func(m *Message) { m.Priority = p }
}

// WithScheduledAt delays delivery until at
func WithScheduledAt(at time.Time) SendOption {
	return func(m *Message) { m.ScheduledAt = &at }
}

// WithDelay delays delivery by d from the send time
func WithDelay(d time.Duration) SendOption {
	return func(m *Message) {
		at := m.CreatedAt.Add(d)
		m.ScheduledAt = &at
	}
}

// WithMaxAttempts sets how many attempts are made before dead-lettering
func WithMaxAttempts(n int) SendOption {
	return func(m *Message) { m.MaxAttempts = n }
}

// WithTimeout bounds each Handle call
func WithTimeout(d time.Duration) SendOption {
	return func(m *Message) { m.Timeout = d }
}

// WithTags attaches tags to the message
func WithTags(tags ...string) SendOption {
	return func(m *Message) { m.Tags = append(m.Tags, tags...) }
}

// Manager is the application-facing message queue. It owns one Backend,
// chosen at Initialize, and a worker pool per queue with a handler.
type Manager struct {
	config   *Config
	clock    Clock
	logger   *zap.Logger
	handlers *handlers
	exporter metrics.Exporter

	// ctx parents every worker pool; Shutdown cancels it
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	backend     Backend
	active      BackendKind
	client      redis.UniversalClient
	ownsClient  bool
	initialized bool
	closed      bool
	workers     map[string]int
	pools       map[string]*pool
	queues      map[string]struct{}
}

// New creates a Manager. No backend exists until Initialize.
func New(config *Config) (*Manager, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := config.Clock
	if clock == nil {
		clock = SystemClock()
	}

	exporter := config.Metrics
	if exporter == nil {
		exporter = metrics.NewNoOpExporter()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:   config,
		clock:    clock,
		logger:   logger.With(zap.String("component", "queue_manager")),
		handlers: newHandlers(),
		exporter: exporter,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]int),
		pools:    make(map[string]*pool),
		queues:   make(map[string]struct{}),
	}, nil
}

// Initialize selects the backend and starts the workers of handlers
// registered so far. Calling it again is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.initialized {
		return nil
	}

	switch m.config.Backend {
	case BackendMemory:
		m.useMemory()
	case BackendRedis:
		client, owned, err := m.connect(ctx)
		if err != nil {
			m.logger.Warn("redis unavailable, queue running degraded", zap.Error(err))
		}
		m.useRedis(client, owned)
	case BackendHybrid:
		client, owned, err := m.connect(ctx)
		if err != nil {
			m.logger.Warn("redis unavailable, falling back to memory queue", zap.Error(err))
			m.useMemory()
		} else {
			m.useRedis(client, owned)
		}
	}
	m.initialized = true

	for queue := range m.queues {
		if err := m.backend.CreateQueue(ctx, queue); err != nil {
			return err
		}
	}
	for queue, n := range m.workers {
		m.startWorkers(queue, n)
	}

	m.logger.Info("queue manager initialized", zap.String("backend", string(m.active)))
	return nil
}

func (m *Manager) useMemory() {
	m.active = BackendMemory
	m.backend = NewMemoryQueue(NewDefaultMemoryConfig().
		WithMaxSize(m.config.MaxSize).
		WithClock(m.clock).
		WithRetryPolicy(m.handlers).
		WithLogger(m.logger))
}

func (m *Manager) useRedis(client redis.UniversalClient, owned bool) {
	m.active = BackendRedis
	m.client = client
	m.ownsClient = owned

	rc := NewDefaultRedisConfig(nil)
	if client != nil {
		rc.Client = client
	}
	if m.config.KeyPrefix != "" {
		rc.KeyPrefix = m.config.KeyPrefix
	}
	rc.PopTimeout = m.config.PopTimeout
	rc.Clock = m.clock
	rc.Retry = m.handlers
	rc.Logger = m.logger
	m.backend = NewRedisQueue(rc)
}

// connect returns the configured client after a ping, or opens one from the URL
func (m *Manager) connect(ctx context.Context) (redis.UniversalClient, bool, error) {
	rc := m.config.Redis
	if rc == nil || (rc.Client == nil && rc.URL == "") {
		return nil, false, ErrRedisConfigRequired
	}

	if rc.Client != nil {
		if err := redisconn.Healthcheck(rc.Client)(ctx); err != nil {
			return nil, false, err
		}
		return rc.Client, false, nil
	}

	attempts := rc.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	client, err := redisconn.Open(ctx, rc.URL,
		redisconn.WithRetry(attempts, 500*time.Millisecond),
		redisconn.WithLogger(m.logger),
	)
	if err != nil {
		return nil, false, err
	}
	return client, true, nil
}

// Shutdown stops every worker pool and closes a Redis client the manager opened.
// It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pools := m.pools
	m.pools = make(map[string]*pool)
	m.mu.Unlock()

	m.cancel()
	for _, p := range pools {
		p.stop()
	}

	var err error
	if m.ownsClient {
		err = redisconn.Shutdown(m.client)(ctx)
	}

	m.logger.Info("queue manager shut down")
	return err
}

// current returns the active backend, or an error before Initialize and after Shutdown
func (m *Manager) current() (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.closed:
		return nil, ErrManagerClosed
	case !m.initialized:
		return nil, ErrNotInitialized
	}
	return m.backend, nil
}

// ActiveBackend returns the backend in use; it is empty before Initialize
func (m *Manager) ActiveBackend() BackendKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Client returns the Redis client of the redis backend, or nil
func (m *Manager) Client() redis.UniversalClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Queues returns the names of queues used through this manager, sorted
func (m *Manager) Queues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.queues))
}

// SendMessage enqueues payload on queue and returns the new message id
func (m *Manager) SendMessage(ctx context.Context, queue string, payload any, opts ...SendOption) (string, error) {
	start := time.Now()

	if queue == "" {
		return "", ErrEmptyQueueName
	}
	backend, err := m.current()
	if err != nil {
		return "", err
	}

	msg := NewMessage(uuid.NewString(), queue, payload, m.clock.Now())
	for _, opt := range opts {
		opt(msg)
	}
	if !msg.Priority.Valid() {
		return "", fmt.Errorf("%w: %d", ErrInvalidPriority, msg.Priority)
	}

	m.track(queue)

	ok, err := backend.Enqueue(ctx, msg)
	if err != nil || !ok {
		m.record(metrics.OperationEnqueue, metrics.ResultError, queue, time.Since(start))
		if err != nil {
			return "", err
		}
		return "", ErrEnqueueRejected
	}

	m.record(metrics.OperationEnqueue, metrics.ResultOK, queue, time.Since(start))
	m.logger.Debug("message sent",
		zap.String("queue", queue),
		zap.String("id", msg.ID),
		zap.Stringer("priority", msg.Priority))
	return msg.ID, nil
}

func (m *Manager) track(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = struct{}{}
}

// RegisterHandler binds handler to queue and runs it on workers goroutines,
// replacing any previous handler and pool. Before Initialize the pool is
// started by Initialize.
func (m *Manager) RegisterHandler(ctx context.Context, queue string, handler Handler, workers int) error {
	if queue == "" {
		return ErrEmptyQueueName
	}
	if handler == nil {
		return ErrNilHandler
	}
	if workers < 1 {
		workers = 1
	}

	old, err := m.bind(ctx, queue, handler, workers)

	// The previous pool is awaited without mu so its handlers can still call
	// back into the manager while they finish.
	if old != nil {
		old.wg.Wait()
	}
	if err != nil {
		return err
	}

	m.logger.Info("handler registered", zap.String("queue", queue), zap.Int("workers", workers))
	return nil
}

// bind registers handler and starts the new pool under mu. The previous
// pool, if any, is cancelled and returned for the caller to await.
func (m *Manager) bind(ctx context.Context, queue string, handler Handler, workers int) (*pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	old := m.pools[queue]
	if old != nil {
		delete(m.pools, queue)
		old.cancel()
	}
	m.handlers.set(queue, handler)
	m.queues[queue] = struct{}{}
	m.workers[queue] = workers

	if m.initialized {
		if err := m.backend.CreateQueue(ctx, queue); err != nil {
			return old, err
		}
		m.startWorkers(queue, workers)
	}
	return old, nil
}

// startWorkers launches the pool of queue. Callers hold mu.
func (m *Manager) startWorkers(queue string, n int) {
	logger := m.logger.With(zap.String("queue", queue))
	labels := metrics.Labels{metrics.LabelQueue: queue}
	backend := m.backend

	m.pools[queue] = startPool(m.ctx, n, func(id int) *worker {
		return &worker{
			id:       id,
			queue:    queue,
			backend:  backend,
			handlers: m.handlers,
			exporter: m.exporter,
			labels:   labels,
			logger:   logger.With(zap.Int("worker", id)),
		}
	})
}

// StopWorkers cancels the workers of queue and waits for them.
// Messages in flight stay processing. The handler stays registered.
func (m *Manager) StopWorkers(queue string) {
	m.mu.Lock()
	p, ok := m.pools[queue]
	delete(m.pools, queue)
	delete(m.workers, queue)
	m.mu.Unlock()

	if ok {
		p.stop()
		m.logger.Info("workers stopped", zap.String("queue", queue))
	}
}

// DeleteQueue stops the workers of queue, unregisters its handler and drops its data
func (m *Manager) DeleteQueue(ctx context.Context, queue string) error {
	backend, err := m.current()
	if err != nil {
		return err
	}

	m.StopWorkers(queue)
	m.handlers.remove(queue)

	m.mu.Lock()
	delete(m.queues, queue)
	m.mu.Unlock()

	return backend.DeleteQueue(ctx, queue)
}

// QueueStats returns the counters of queue
func (m *Manager) QueueStats(ctx context.Context, queue string) (Stats, error) {
	backend, err := m.current()
	if err != nil {
		return Stats{}, err
	}
	return backend.Stats(ctx, queue)
}

// Size returns the number of waiting messages in queue
func (m *Manager) Size(ctx context.Context, queue string) (int, error) {
	backend, err := m.current()
	if err != nil {
		return 0, err
	}
	return backend.Size(ctx, queue)
}

// Purge drops the waiting messages of queue and returns how many there were
func (m *Manager) Purge(ctx context.Context, queue string) (int, error) {
	backend, err := m.current()
	if err != nil {
		return 0, err
	}
	n, err := backend.Purge(ctx, queue)
	if err == nil && n > 0 {
		m.logger.Info("queue purged", zap.String("queue", queue), zap.Int("messages", n))
	}
	return n, err
}

// DeadLetters returns the dead-lettered messages of queue
func (m *Manager) DeadLetters(ctx context.Context, queue string) ([]*Message, error) {
	backend, err := m.current()
	if err != nil {
		return nil, err
	}
	return backend.DeadLetters(ctx, queue)
}

// RequeueDeadLetter gives a dead-lettered message a fresh set of attempts
func (m *Manager) RequeueDeadLetter(ctx context.Context, queue, id string) (bool, error) {
	backend, err := m.current()
	if err != nil {
		return false, err
	}
	return backend.RequeueDeadLetter(ctx, queue, id)
}

func (m *Manager) record(op metrics.Operation, res metrics.Result, queue string, d time.Duration) {
	_ = m.exporter.RecordOperation(op, res, d, metrics.Labels{metrics.LabelQueue: queue}) //nolint:errcheck // metrics never fail sends
}
