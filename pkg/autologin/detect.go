package autologin

import "encoding/json"

// authFrame is the frame the suite renders its auth UI into.
const authFrame = "auth"

// page is the classification of the auth frame's current content.
type page string

const (
	pageLogin page = "login"
	pageTOTP  page = "totp"
	pageNone  page = "none"
	// pageGone means the auth frame has disappeared: the app accepted
	// the session and navigated on.
	pageGone page = "gone"
)

// Fill outcomes reported by the fill scripts.
const (
	fillOK          = "ok"
	fillMismatch    = "mismatch"
	totpAccepted    = "accepted"
	totpInvalid     = "invalid"
	totpRateLimited = "rate_limited"
)

// The scripts below are opaque payloads evaluated by the window host
// inside the auth frame. The machine only depends on their result
// protocol: probePageScript reports the page classification, the fill
// scripts fill, submit and report the post-submit outcome.

const probePageScript = `(() => {
  const frame = document.querySelector('[data-or-auth-frame]');
  if (!frame) return 'gone';
  if (frame.querySelector('input[type=password]')) return 'login';
  if (frame.querySelector('input[autocomplete=one-time-code]')) return 'totp';
  return 'none';
})()`

// fillCredsScript fills email and password, verifies the fields took
// the values, then submits. Returns "ok" or "mismatch".
func fillCredsScript(email, password string) string {
	e, _ := json.Marshal(email)
	p, _ := json.Marshal(password)
	return `(() => {
  const email = document.querySelector('input[type=email]');
  const pass = document.querySelector('input[type=password]');
  if (!email || !pass) return 'mismatch';
  email.value = ` + string(e) + `;
  pass.value = ` + string(p) + `;
  email.dispatchEvent(new Event('input', {bubbles: true}));
  pass.dispatchEvent(new Event('input', {bubbles: true}));
  if (email.value !== ` + string(e) + ` || pass.value !== ` + string(p) + `) return 'mismatch';
  pass.form.requestSubmit();
  return 'ok';
})()`
}

// fillTOTPScript fills the one-time code, submits, and reports the
// server's verdict. Returns "accepted", "invalid" or "rate_limited".
func fillTOTPScript(code string) string {
	c, _ := json.Marshal(code)
	return `(async () => {
  const input = document.querySelector('input[autocomplete=one-time-code]');
  if (!input) return 'invalid';
  input.value = ` + string(c) + `;
  input.dispatchEvent(new Event('input', {bubbles: true}));
  input.form.requestSubmit();
  const verdict = await window.__orAuthVerdict;
  return verdict;
})()`
}
