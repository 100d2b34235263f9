package domain

import (
	"github.com/pkg/errors"
)

const ServiceIsNotAvailableErrorMessage = "Service is not available now, please try later"

var (
	ErrEmptyIdentity   = errors.New("identity is required")
	ErrUnknownToolType = errors.New("unknown tool type")

	ErrTierCacheMiss = errors.New("tier cache miss")
)
