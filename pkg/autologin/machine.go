package autologin

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// State is one phase of the auto-login machine.
type State string

const (
	StateIdle            State = "idle"
	StateCheckRate       State = "checkRate"
	StateWaitRate        State = "waitRate"
	StateDetect          State = "detect"
	StateFillCreds       State = "fillCreds"
	StateAwaitTransition State = "awaitTransition"
	StateFill2FA         State = "fill2FA"
	StateSuccess         State = "success"
	StateRetryCreds      State = "retryCreds"
	StateRetryTOTP       State = "retryTOTP"
	StateAbort           State = "abort"
)

const (
	defaultMaxAttempts = 5
	// defaultStepDelay is the soft pause between DOM steps.
	defaultStepDelay = 1500 * time.Millisecond
)

// Config assembles one auto-login run for a tenant-bound window.
type Config struct {
	Tenant      model.Tenant
	Window      adapter.Window
	Credentials adapter.CredentialStore
	Rate        *RateGate
	TOTP        *TOTPSource

	// MaxAttempts bounds credential and TOTP retries; 0 means the
	// default of 5.
	MaxAttempts int
	// StepDelay is the pause between DOM steps; 0 means 1.5 s.
	StepDelay time.Duration
	// OnState, when set, observes every state transition.
	OnState func(state State, detail string)

	// Sleep overrides waiting in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// FrameOpts override the in-frame script limits in tests.
	FrameOpts *adapter.FrameExecOptions
}

// Machine drives one login flow: detect the page, fill credentials,
// handle TOTP, and report the outcome. Window destruction at any
// suspension point aborts the run with model.ErrWindowDestroyed, which
// is cancellation, not failure: rate counters are not touched and no
// error state is surfaced.
type Machine struct {
	cfg   Config
	state State
}

// New creates a machine. The rate gate and TOTP source may be shared
// across tenants and runs.
func New(cfg Config) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = defaultStepDelay
	}
	if cfg.Rate == nil {
		cfg.Rate = NewRateGate()
	}
	if cfg.TOTP == nil {
		cfg.TOTP = NewTOTPSource()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Machine{cfg: cfg, state: StateIdle}
}

// State returns the machine's current state.
func (m *Machine) State() State {
	return m.state
}

// Run executes one login flow. Returns nil on success; a typed error
// otherwise. model.ErrRateLimited carries the remaining cooldown as a
// "wait" value.
func (m *Machine) Run(ctx context.Context) error {
	logger := logging.From(ctx).With("tenant", m.cfg.Tenant, "window", m.cfg.Window.ID())

	if !m.cfg.Rate.TryBegin(m.cfg.Tenant) {
		return goerr.Wrap(model.ErrRateLimited, "login already in progress",
			goerr.V("tenant", m.cfg.Tenant))
	}
	defer m.cfg.Rate.End(m.cfg.Tenant)

	err := m.run(ctx, logger)
	switch {
	case err == nil:
		m.cfg.Rate.RecordSuccess(m.cfg.Tenant)
		m.setState(StateSuccess, "")
	case errors.Is(err, model.ErrWindowDestroyed):
		// Cooperative cancellation: no counter, no error surface.
		logger.Info("login cancelled, window destroyed")
	case errors.Is(err, model.ErrRateLimited):
		// The rejection itself is not a failed attempt.
	default:
		m.cfg.Rate.RecordFailure(m.cfg.Tenant)
		m.setState(StateAbort, err.Error())
		logger.Warn("auto-login failed", "error", err)
	}
	return err
}

func (m *Machine) run(ctx context.Context, logger *slog.Logger) error {
	m.setState(StateCheckRate, "")
	if wait, ok := m.cfg.Rate.Check(m.cfg.Tenant); !ok {
		m.setState(StateWaitRate, wait.Truncate(time.Second).String())
		return goerr.Wrap(model.ErrRateLimited, "cooling down",
			goerr.V("tenant", m.cfg.Tenant), goerr.V("wait", wait))
	}

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		m.setState(StateDetect, "")
		p, err := m.probe(ctx)
		if err != nil {
			return err
		}
		logger.Debug("auth page detected", "page", string(p), "attempt", attempt)

		switch p {
		case pageGone:
			return nil

		case pageLogin:
			if err := m.fillCreds(ctx); err != nil {
				if errors.Is(err, errRetryStep) {
					m.setState(StateRetryCreds, "")
					continue
				}
				return err
			}
			m.setState(StateAwaitTransition, "")
			if err := m.pause(ctx, m.cfg.StepDelay); err != nil {
				return err
			}
			// Re-detect: the submit leads to TOTP, success, or back to
			// the form on bad credentials.
			continue

		case pageTOTP:
			done, err := m.fillTOTP(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			m.setState(StateRetryTOTP, "")
			continue

		default: // pageNone
			return goerr.Wrap(model.ErrNoForm, "auth frame has no known form",
				goerr.V("tenant", m.cfg.Tenant))
		}
	}

	return goerr.Wrap(model.ErrMaxAttemptsExhausted, "giving up",
		goerr.V("tenant", m.cfg.Tenant), goerr.V("attempts", m.cfg.MaxAttempts))
}

// errRetryStep signals a bounded retry of the outer attempt loop.
var errRetryStep = goerr.New("retry step")

func (m *Machine) probe(ctx context.Context) (page, error) {
	result, err := adapter.FrameExec(ctx, m.cfg.Window, authFrame, probePageScript, m.cfg.FrameOpts)
	if err != nil {
		return pageNone, err
	}
	switch p := page(strings.TrimSpace(result)); p {
	case pageLogin, pageTOTP, pageGone:
		return p, nil
	default:
		return pageNone, nil
	}
}

func (m *Machine) fillCreds(ctx context.Context) error {
	m.setState(StateFillCreds, "")

	creds, err := m.cfg.Credentials.Credentials(ctx)
	if err != nil || creds == nil {
		return goerr.Wrap(model.ErrNoCredentials, "credential store is empty",
			goerr.V("tenant", m.cfg.Tenant))
	}

	result, err := adapter.FrameExec(ctx, m.cfg.Window, authFrame,
		fillCredsScript(creds.Email, creds.Password), m.cfg.FrameOpts)
	if err != nil {
		return err
	}
	if strings.TrimSpace(result) != fillOK {
		// The post-fill verification failed; the form may have been
		// mid-render. Retry the attempt.
		return errRetryStep
	}
	return nil
}

// fillTOTP generates a window-safe code, fills and submits it. Returns
// true when the code was accepted.
func (m *Machine) fillTOTP(ctx context.Context) (bool, error) {
	m.setState(StateFill2FA, "")

	secret, err := m.cfg.Credentials.TOTPSecret(ctx)
	if err != nil || secret == "" {
		return false, goerr.Wrap(model.ErrNoTOTPSecret, "cannot answer 2FA",
			goerr.V("tenant", m.cfg.Tenant))
	}

	if m.cfg.Window.IsDestroyed() {
		return false, goerr.Wrap(model.ErrWindowDestroyed, "window destroyed before TOTP fill")
	}
	code, err := m.cfg.TOTP.FreshCode(ctx, secret)
	if err != nil {
		return false, err
	}

	result, err := adapter.FrameExec(ctx, m.cfg.Window, authFrame,
		fillTOTPScript(code), m.cfg.FrameOpts)
	if err != nil {
		return false, err
	}

	switch strings.TrimSpace(result) {
	case totpAccepted:
		return true, nil
	case totpRateLimited:
		return false, goerr.Wrap(model.ErrRateLimited, "server rejected login rate",
			goerr.V("tenant", m.cfg.Tenant))
	default:
		// Invalid code: always wait out the window so the retry
		// submits a different code.
		if err := m.cfg.TOTP.WaitNextWindow(ctx); err != nil {
			return false, err
		}
		if m.cfg.Window.IsDestroyed() {
			return false, goerr.Wrap(model.ErrWindowDestroyed, "window destroyed during TOTP wait")
		}
		return false, nil
	}
}

// pause sleeps with destruction checks on both sides.
func (m *Machine) pause(ctx context.Context, d time.Duration) error {
	if m.cfg.Window.IsDestroyed() {
		return goerr.Wrap(model.ErrWindowDestroyed, "window destroyed before pause")
	}
	if err := m.cfg.Sleep(ctx, d); err != nil {
		return err
	}
	if m.cfg.Window.IsDestroyed() {
		return goerr.Wrap(model.ErrWindowDestroyed, "window destroyed during pause")
	}
	return nil
}

func (m *Machine) setState(s State, detail string) {
	m.state = s
	if m.cfg.OnState != nil {
		m.cfg.OnState(s, detail)
	}
}
