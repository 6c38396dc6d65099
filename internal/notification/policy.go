// Package notification implements the claim, dispatch and tag-back cycle that delivers
// lesson reminders.
package notification

import (
	"sync/atomic"
	"time"

	"github.com/Proton-105/lesson-notifier/internal/state"
	"github.com/Proton-105/lesson-notifier/pkg/config"
)

// Rule names the reason a candidate is eligible on a tick.
type Rule string

const (
	RuleNone                      Rule = ""
	RuleFresh                     Rule = "fresh"
	RuleRetryAfterFailureCooldown Rule = "retry_after_failure_cooldown"
	RuleStaleSuccess              Rule = "stale_success"
	RuleStalePending              Rule = "stale_pending"
	RuleImmediateRetry            Rule = "immediate_retry"
)

// Policy holds the batch size and the cooldown windows of the eligibility rules.
type Policy struct {
	BatchSize      int
	FastRetry      time.Duration
	PendingTimeout time.Duration
	Cooldown       time.Duration
	SendTimeout    time.Duration
}

// DefaultPolicy returns the production windows: batches of 20, a 5 minute fast retry and
// pending timeout, and a 20 minute cooldown.
func DefaultPolicy() Policy {
	return Policy{
		BatchSize:      20,
		FastRetry:      5 * time.Minute,
		PendingTimeout: 5 * time.Minute,
		Cooldown:       20 * time.Minute,
		SendTimeout:    15 * time.Second,
	}
}

// PolicyFromConfig maps the notifier configuration section.
func PolicyFromConfig(cfg config.NotifierConfig) Policy {
	return Policy{
		BatchSize:      cfg.BatchSize,
		FastRetry:      cfg.FastRetry,
		PendingTimeout: cfg.PendingTimeout,
		Cooldown:       cfg.Cooldown,
		SendTimeout:    cfg.SendTimeout,
	}
}

// Classify reports which rule, if any, makes st eligible at now. All windows are strict:
// a status exactly at a boundary is not eligible.
func (p Policy) Classify(st state.Status, now time.Time) Rule {
	if st.IsNew() {
		return RuleFresh
	}

	age := st.Age(now)
	switch st.State {
	case state.StateFailed:
		if age < p.FastRetry {
			return RuleImmediateRetry
		}
		if age > p.Cooldown {
			return RuleRetryAfterFailureCooldown
		}
	case state.StateSucceeded:
		if age > p.Cooldown {
			return RuleStaleSuccess
		}
	case state.StatePending:
		if age > p.PendingTimeout {
			return RuleStalePending
		}
	}

	return RuleNone
}

// PolicyHolder shares a Policy that can be swapped while ticks are running.
type PolicyHolder struct {
	current atomic.Pointer[Policy]
}

func NewPolicyHolder(p Policy) *PolicyHolder {
	h := &PolicyHolder{}
	h.Store(p)
	return h
}

func (h *PolicyHolder) Load() Policy {
	return *h.current.Load()
}

func (h *PolicyHolder) Store(p Policy) {
	h.current.Store(&p)
}
