package ratelimit

import (
	"time"

	"github.com/Proton-105/lesson-notifier/pkg/config"
)

// Rule is a limit per sliding window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules exposes the configured limits.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// ManualTrigger returns the rule for operator-initiated triggers and rollovers.
func (r *Rules) ManualTrigger() Rule {
	return Rule{Limit: r.config.ManualTrigger.Limit, Window: r.config.ManualTrigger.Window}
}
