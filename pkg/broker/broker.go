package broker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"dsdeploy/pkg/logging"
	"dsdeploy/pkg/models"
	"dsdeploy/pkg/retry"
)

// Opener dials and validates a database handle for one descriptor.
// The password is resolved from the descriptor's credential reference
// before the opener is called.
type Opener func(ctx context.Context, desc *models.ConnectionDescriptor, password string) (*sql.DB, error)

// Broker owns the lifecycle of a named set of database connections.
// No other component opens or closes connections directly. One broker
// instance serves one run; it is not an ambient singleton.
type Broker struct {
	log *logging.Logger

	mu      sync.Mutex
	descs   map[string]*models.ConnectionDescriptor
	order   []string
	states  map[string]models.ConnState
	dbs     map[string]*sql.DB
	held    map[string]bool
	openers map[models.DriverKind]Opener
	creds   func(ref string) (string, error)
}

// Option configures a Broker
type Option func(*Broker)

// WithLogger sets the broker logger
func WithLogger(log *logging.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithOpener registers or replaces the opener for a driver kind.
// A nil opener unregisters the kind.
func WithOpener(kind models.DriverKind, opener Opener) Option {
	return func(b *Broker) {
		if opener == nil {
			delete(b.openers, kind)
			return
		}
		b.openers[kind] = opener
	}
}

// WithCredentialResolver replaces the credential reference resolver
func WithCredentialResolver(fn func(ref string) (string, error)) Option {
	return func(b *Broker) { b.creds = fn }
}

// New validates the descriptors and returns a broker with all
// connections in the Unconnected state.
func New(descriptors []models.ConnectionDescriptor, opts ...Option) (*Broker, error) {
	b := &Broker{
		log:    logging.NewLogger(logging.INFO, false),
		descs:  make(map[string]*models.ConnectionDescriptor, len(descriptors)),
		states: make(map[string]models.ConnState, len(descriptors)),
		dbs:    make(map[string]*sql.DB),
		held:   make(map[string]bool),
		openers: map[models.DriverKind]Opener{
			models.DriverPostgres: openPostgres,
			models.DriverSQLite:   openSQLite,
			models.DriverTDS:      openTDS,
		},
		creds: ResolveCredential,
	}
	for _, opt := range opts {
		opt(b)
	}

	for i := range descriptors {
		desc := descriptors[i]
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		if _, exists := b.descs[desc.Name]; exists {
			return nil, fmt.Errorf("duplicate connection name %q", desc.Name)
		}
		b.descs[desc.Name] = &desc
		b.states[desc.Name] = models.ConnUnconnected
		b.order = append(b.order, desc.Name)
	}
	return b, nil
}

// Names returns connection names in registration order
func (b *Broker) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.order))
	copy(names, b.order)
	return names
}

// Has reports whether a descriptor is registered under name
func (b *Broker) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.descs[name]
	return ok
}

// State returns the current state of the named connection
func (b *Broker) State(name string) models.ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[name]
}

// Descriptor returns a copy of the named descriptor
func (b *Broker) Descriptor(name string) (models.ConnectionDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	desc, ok := b.descs[name]
	if !ok {
		return models.ConnectionDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return *desc, nil
}

// Resolve dials the named connection with bounded retry and moves it to
// Connected or Failed. Transient errors are retried up to the descriptor's
// budget; authentication failures and other non-transient errors are never
// retried. A Failed connection is only retried through another explicit
// Resolve call.
func (b *Broker) Resolve(ctx context.Context, name string) error {
	b.mu.Lock()
	desc, ok := b.descs[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	if b.states[name] == models.ConnConnected {
		b.mu.Unlock()
		return nil
	}
	if err := models.ValidateConnTransition(b.states[name], models.ConnConnecting); err != nil {
		b.mu.Unlock()
		return err
	}
	b.states[name] = models.ConnConnecting
	opener, hasOpener := b.openers[desc.Driver]
	b.mu.Unlock()

	b.log.Info("resolving connection", map[string]interface{}{
		"connection": name,
		"driver":     string(desc.Driver),
	})

	if !hasOpener {
		err := fmt.Errorf("%w %q", ErrNoOpener, desc.Driver)
		b.setState(name, models.ConnFailed)
		return &ConnectionError{Name: name, Attempts: 0, Err: err}
	}

	password, err := b.creds(desc.CredentialRef)
	if err != nil {
		b.setState(name, models.ConnFailed)
		return &ConnectionError{Name: name, Attempts: 0, Err: err}
	}

	cfg := retry.Config{
		MaxAttempts:    desc.Retry.MaxAttempts,
		InitialBackoff: desc.Retry.InitialBackoff,
		MaxBackoff:     desc.Retry.MaxBackoff,
		Multiplier:     desc.Retry.Multiplier,
	}

	var db *sql.DB
	attempts := 0
	err = retry.Do(ctx, cfg, func() error {
		attempts++
		candidate, openErr := opener(ctx, desc, password)
		if openErr != nil {
			b.log.Warn("connect attempt failed", map[string]interface{}{
				"connection": name,
				"attempt":    attempts,
				"error":      openErr.Error(),
			})
			// Only transient failures consume the retry budget; auth
			// rejections and the likes of a bad database name will not
			// heal on a second dial
			if IsAuthError(openErr) || !retry.IsRetryable(openErr) {
				return retry.Permanent(openErr)
			}
			return openErr
		}
		db = candidate
		return nil
	})
	if err != nil {
		b.setState(name, models.ConnFailed)
		return &ConnectionError{Name: name, Attempts: attempts, Err: err}
	}

	b.mu.Lock()
	b.states[name] = models.ConnConnected
	b.dbs[name] = db
	b.mu.Unlock()

	b.log.Info("connection established", map[string]interface{}{
		"connection": name,
		"attempts":   attempts,
	})
	return nil
}

// ResolveAll resolves every registered connection in registration order,
// stopping at the first failure.
func (b *Broker) ResolveAll(ctx context.Context) error {
	for _, name := range b.Names() {
		if err := b.Resolve(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Acquire checks out the named connection. At most one holder exists at a
// time; callers must Release on every exit path.
func (b *Broker) Acquire(name string) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.descs[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	if b.states[name] != models.ConnConnected {
		return nil, fmt.Errorf("connection %q is %s, not connected", name, b.states[name])
	}
	if b.held[name] {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyAcquired, name)
	}
	b.held[name] = true

	return &Handle{name: name, db: b.dbs[name], broker: b}, nil
}

func (b *Broker) release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held[name] = false
}

func (b *Broker) setState(name string, state models.ConnState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[name] = state
}

// Close closes every open connection. The broker is not usable afterwards.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, db := range b.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing connection %q: %w", name, err)
		}
		delete(b.dbs, name)
		b.states[name] = models.ConnUnconnected
		b.held[name] = false
	}
	return firstErr
}

// Handle is a scoped checkout of one connection. Release is idempotent.
type Handle struct {
	name   string
	db     *sql.DB
	broker *Broker
	once   sync.Once
}

// Name returns the connection name
func (h *Handle) Name() string { return h.name }

// DB returns the underlying database handle. Callers must not retain it
// beyond the handle's scope.
func (h *Handle) DB() *sql.DB { return h.db }

// Release returns the connection to the broker. Calling it more than once
// is a no-op, never an error.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.broker.release(h.name)
	})
}
