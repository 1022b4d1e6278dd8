package renderer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-chain/common"
)

// ContextBinder switches the calling thread between the presentation context and the
// hardware-render context shared with the emulator core.
type ContextBinder interface {
	// MakeCurrent binds the hw-render context when hwRender is true and the presentation
	// context otherwise.
	//
	// Parameters:
	//   - hwRender: which context to bind
	//
	// Returns:
	//   - error: an error if the platform refused the switch
	MakeCurrent(hwRender bool) error
}

type nopBinder struct{}

func (nopBinder) MakeCurrent(bool) error { return nil }

// ContextGuard tracks which graphics context is bound and enforces strict alternation:
// the hw-render context may only be entered from the presentation context, and every
// entry must be matched by exactly one restore.
type ContextGuard struct {
	mu     sync.Mutex
	binder ContextBinder
	inHW   bool
}

// NewContextGuard creates a guard that switches contexts through binder. A nil binder
// makes every switch a no-op.
//
// Parameters:
//   - binder: the platform context binder
//
// Returns:
//   - *ContextGuard: the new guard
func NewContextGuard(binder ContextBinder) *ContextGuard {
	if binder == nil {
		binder = nopBinder{}
	}
	return &ContextGuard{binder: binder}
}

// EnterHW binds the hw-render context. The returned restore func rebinds the presentation
// context and must be called on every exit path, typically with defer. Calling restore
// more than once is a no-op.
//
// Entering while already inside the hw-render context, or failing to bind it, yields
// an error wrapping ErrContextViolation.
//
// Returns:
//   - func() error: restores the presentation context
//   - error: an error if the context could not be entered
func (g *ContextGuard) EnterHW() (func() error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inHW {
		return nil, fmt.Errorf("hw-render context entered twice: %w", ErrContextViolation)
	}
	if err := g.binder.MakeCurrent(true); err != nil {
		return nil, fmt.Errorf("bind hw-render context: %v: %w", err, ErrContextViolation)
	}
	g.inHW = true

	var once sync.Once
	restore := func() error {
		var err error
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.inHW = false
			if bindErr := g.binder.MakeCurrent(false); bindErr != nil {
				err = fmt.Errorf("restore presentation context: %v: %w", bindErr, ErrContextViolation)
			}
		})
		return err
	}
	return restore, nil
}

// InHW reports whether the hw-render context is currently bound.
func (g *ContextGuard) InHW() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inHW
}

// VideoContext is the state shared by every chain component: the backend, the context
// guard, the logger and the set of capability warnings already emitted this session.
// It is passed explicitly by pointer; there is no package-level video state.
type VideoContext struct {
	backend Backend
	guard   *ContextGuard
	logger  *slog.Logger

	warned sync.Map
}

// VideoContextBuilderOption is a functional option applied to a VideoContext during construction.
type VideoContextBuilderOption func(*VideoContext)

// WithContextBinder sets the platform binder used to switch into the hw-render context.
//
// Parameters:
//   - binder: the context binder
//
// Returns:
//   - VideoContextBuilderOption: a function that applies the binder option
func WithContextBinder(binder ContextBinder) VideoContextBuilderOption {
	return func(v *VideoContext) {
		v.guard = NewContextGuard(binder)
	}
}

// WithLogger sets the logger used by the chain components. Defaults to common.Logger().
func WithLogger(logger *slog.Logger) VideoContextBuilderOption {
	return func(v *VideoContext) {
		v.logger = logger
	}
}

// NewVideoContext wraps backend in a VideoContext.
//
// Parameters:
//   - backend: the GPU backend driven by the chain
//   - options: variadic list of VideoContextBuilderOption functions
//
// Returns:
//   - *VideoContext: the new context
func NewVideoContext(backend Backend, options ...VideoContextBuilderOption) *VideoContext {
	v := &VideoContext{
		backend: backend,
	}
	for _, opt := range options {
		opt(v)
	}
	if v.guard == nil {
		v.guard = NewContextGuard(nil)
	}
	if v.logger == nil {
		v.logger = common.Logger()
	}
	v.logger.Info("video context created",
		slog.String("backend", backend.Type().String()),
		slog.Int("max_texture_size", backend.Limits().MaxTextureSize))
	return v
}

// Backend returns the GPU backend.
func (v *VideoContext) Backend() Backend {
	return v.backend
}

// Guard returns the hw-render context guard.
func (v *VideoContext) Guard() *ContextGuard {
	return v.guard
}

// Logger returns the logger shared by the chain components.
func (v *VideoContext) Logger() *slog.Logger {
	return v.logger
}

// Limits is shorthand for Backend().Limits().
func (v *VideoContext) Limits() Limits {
	return v.backend.Limits()
}

// WarnOnce logs msg at Warn level the first time it is called for key in this session.
//
// Parameters:
//   - key: the capability or condition identifier
//   - msg: the log message
//   - args: slog attributes
//
// Returns:
//   - bool: true if the warning was emitted by this call
func (v *VideoContext) WarnOnce(key, msg string, args ...any) bool {
	if _, loaded := v.warned.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	v.logger.Warn(msg, append(args, slog.String("capability", key))...)
	return true
}

// Warned reports whether a warning has been emitted for key.
func (v *VideoContext) Warned(key string) bool {
	_, ok := v.warned.Load(key)
	return ok
}
