package dispatch

import "errors"

// ErrMailerNotConfigured aborts a whole tick before any queue row is
// touched: a configuration failure must never burn an attempt against a
// real recipient.
var ErrMailerNotConfigured = errors.New("mailer transport not configured")
