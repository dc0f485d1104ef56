package srs

import (
	"errors"
	"fmt"
)

// ErrValidation is the class shared by every input validation failure in
// this package. Check it with errors.Is to reject bad input as a group,
// or match one of the specific sentinels below.
var ErrValidation = errors.New("srs: invalid input")

var (
	ErrInvalidQuality      = fmt.Errorf("%w: quality outside 0..5", ErrValidation)
	ErrInvalidResponseTime = fmt.Errorf("%w: negative response time", ErrValidation)
	ErrInvalidItem         = fmt.Errorf("%w: item key has no verb", ErrValidation)
	ErrInvalidUser         = fmt.Errorf("%w: zero user id", ErrValidation)
)
