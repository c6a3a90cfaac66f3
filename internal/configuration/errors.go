package configuration

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid configuration")

	ErrConfigNotFound = errors.New("configuration file not found")
)
