package policy

import "errors"

var (
	errNotInitialized = errors.New("policy used before Initialize")
	errNoAllowButton  = errors.New("permission dialog without allow button")
)
