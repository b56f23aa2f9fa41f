package attempts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Step imposes Lockout once an identifier has accumulated Failures consecutive failures
type Step struct {
	Failures int
	Lockout  time.Duration
}

// Policy is the lockout table. Steps must be strictly increasing in both
// failures and lockout; DeactivateAfter must lie beyond the last step.
type Policy struct {
	Steps           []Step
	DeactivateAfter int
}

// DefaultPolicy returns the table used when none is configured.
// The thresholds are an assumption pending confirmation against the
// registrar's business rules.
func DefaultPolicy() Policy {
	return Policy{
		Steps: []Step{
			{Failures: 3, Lockout: 30 * time.Second},
			{Failures: 5, Lockout: 5 * time.Minute},
			{Failures: 7, Lockout: 30 * time.Minute},
		},
		DeactivateAfter: 10,
	}
}

// Validate checks the table is usable
func (p Policy) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("lockout policy needs at least one step")
	}
	for i, step := range p.Steps {
		if step.Failures <= 0 {
			return fmt.Errorf("lockout step %d: failures must be positive", i)
		}
		if step.Lockout <= 0 {
			return fmt.Errorf("lockout step %d: lockout must be positive", i)
		}
		if i > 0 {
			prev := p.Steps[i-1]
			if step.Failures <= prev.Failures {
				return fmt.Errorf("lockout step %d: failures must increase (%d after %d)", i, step.Failures, prev.Failures)
			}
			if step.Lockout <= prev.Lockout {
				return fmt.Errorf("lockout step %d: lockout must increase (%s after %s)", i, step.Lockout, prev.Lockout)
			}
		}
	}
	last := p.Steps[len(p.Steps)-1]
	if p.DeactivateAfter <= last.Failures {
		return fmt.Errorf("deactivation threshold %d must exceed the last lockout step (%d)", p.DeactivateAfter, last.Failures)
	}
	return nil
}

// LockoutFor returns the lockout of the highest step reached by failures, or zero
func (p Policy) LockoutFor(failures int) time.Duration {
	var lockout time.Duration
	for _, step := range p.Steps {
		if failures < step.Failures {
			break
		}
		lockout = step.Lockout
	}
	return lockout
}

// ShouldDeactivate reports whether failures crosses the deactivation threshold
func (p Policy) ShouldDeactivate(failures int) bool {
	return p.DeactivateAfter > 0 && failures >= p.DeactivateAfter
}

// ParsePolicy reads a table written as "3:30s,5:5m,7:30m"
func ParsePolicy(steps string, deactivateAfter int) (Policy, error) {
	policy := Policy{DeactivateAfter: deactivateAfter}

	for _, part := range strings.Split(steps, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		failuresStr, lockoutStr, ok := strings.Cut(part, ":")
		if !ok {
			return Policy{}, fmt.Errorf("invalid lockout step %q: expected failures:duration", part)
		}

		failures, err := strconv.Atoi(strings.TrimSpace(failuresStr))
		if err != nil {
			return Policy{}, fmt.Errorf("invalid lockout step %q: %w", part, err)
		}

		lockout, err := time.ParseDuration(strings.TrimSpace(lockoutStr))
		if err != nil {
			return Policy{}, fmt.Errorf("invalid lockout step %q: %w", part, err)
		}

		policy.Steps = append(policy.Steps, Step{Failures: failures, Lockout: lockout})
	}

	sort.SliceStable(policy.Steps, func(i, j int) bool {
		return policy.Steps[i].Failures < policy.Steps[j].Failures
	})

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}
