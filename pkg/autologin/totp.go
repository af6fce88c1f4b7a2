package autologin

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30 * time.Second
	// totpDangerZone: with fewer seconds than this left in the current
	// window, a code filled now can expire before the form submits.
	totpDangerZone = 5 * time.Second
	// totpFreshFloor: after waiting, the new window must still have at
	// least this much left.
	totpFreshFloor = 25 * time.Second
)

// TOTPSource generates time-step codes with window-edge protection.
// The zero clock and sleeper use real time.
type TOTPSource struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type TOTPOption func(*TOTPSource)

// WithClock overrides the source's clock.
func WithClock(now func() time.Time) TOTPOption {
	return func(s *TOTPSource) {
		s.now = now
	}
}

// WithSleeper overrides how the source waits for window rollovers.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) TOTPOption {
	return func(s *TOTPSource) {
		s.sleep = sleep
	}
}

// NewTOTPSource creates a source over the real clock.
func NewTOTPSource(opts ...TOTPOption) *TOTPSource {
	s := &TOTPSource{now: time.Now, sleep: sleepCtx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// remaining returns how much of the current 30 s window is left.
func (s *TOTPSource) remaining() time.Duration {
	elapsed := time.Duration(s.now().Unix()%int64(totpPeriod/time.Second)) * time.Second
	return totpPeriod - elapsed
}

// FreshCode generates a code guaranteed to stay valid through fill and
// submit. If fewer than 5 s remain in the current window it blocks
// until the next window opens with at least 25 s left.
func (s *TOTPSource) FreshCode(ctx context.Context, secret string) (string, error) {
	if secret == "" {
		return "", goerr.New("empty TOTP secret")
	}

	if s.remaining() < totpDangerZone {
		for s.remaining() <= totpFreshFloor {
			if err := s.sleep(ctx, time.Second); err != nil {
				return "", err
			}
		}
	}

	code, err := totp.GenerateCode(secret, s.now())
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate TOTP code")
	}
	return code, nil
}

// WaitNextWindow blocks until the current time-step rolls over. Used
// after an "invalid code" response: retrying inside the same window
// would submit the same rejected code.
func (s *TOTPSource) WaitNextWindow(ctx context.Context) error {
	target := s.remaining()
	waited := time.Duration(0)
	for waited < target {
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
		waited += time.Second
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
