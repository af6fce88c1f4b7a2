package model

import "github.com/m-mizutani/goerr/v2"

// Broker errors.
var (
	ErrInvalidDomain   = goerr.New("hostname is not a suite domain")
	ErrUnknownTenant   = goerr.New("unknown tenant tag")
	ErrNoValidToken    = goerr.New("no valid token record")
	ErrInjectionFailed = goerr.New("cookie injection failed")
)

// Auto-login errors. ErrWindowDestroyed is cooperative cancellation,
// never a failure.
var (
	ErrWindowDestroyed      = goerr.New("window destroyed")
	ErrRateLimited          = goerr.New("login attempts rate limited")
	ErrNoForm               = goerr.New("no login form detected")
	ErrNoCredentials        = goerr.New("no stored credentials")
	ErrNoTOTPSecret         = goerr.New("no TOTP secret configured")
	ErrInvalidTOTP          = goerr.New("TOTP code rejected")
	ErrMaxAttemptsExhausted = goerr.New("login attempts exhausted")
)

// Exchange errors.
var (
	ErrNoBidder      = goerr.New("no agent bid above threshold")
	ErrBidTimeout    = goerr.New("bidding deadline exceeded")
	ErrAgentRejected = goerr.New("agent descriptor rejected")
	ErrTaskNotFound  = goerr.New("task not found")
)
