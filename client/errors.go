package client

import "errors"

// ErrInvalidConfig is returned by Connect when neither opts.URL nor
// stack.URL is set, or the stack itself is the zero value.
var ErrInvalidConfig = errors.New("client: invalid config")

// ErrUnknownView is returned by State/List when entity/viewName is not
// declared in the connected stack.
var ErrUnknownView = errors.New("client: unknown view")

// ErrViewModeMismatch is returned by State/List when the declared view's
// mode does not match the accessor used to look it up.
var ErrViewModeMismatch = errors.New("client: view mode mismatch")
