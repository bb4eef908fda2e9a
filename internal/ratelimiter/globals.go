package ratelimiter

import "time"

const (
	defaultActionInterval  = 500 * time.Millisecond
	defaultTargetInterval  = time.Second
	defaultAccountInterval = time.Second
)
