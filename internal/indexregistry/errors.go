package indexregistry

import "errors"

var (
	ErrUnknownInstance = errors.New("indexregistry: unknown instance")
	ErrUnknownShard    = errors.New("indexregistry: unknown shard")
)
