package resilience

import "time"

// Policy bounds calls to one collaborator.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Breaker is nil for collaborators that should never trip open.
	Breaker *BreakerPolicy

	// RatePerSecond caps calls per operation; zero disables limiting.
	RatePerSecond float64
	RateBurst     int
}

type BreakerPolicy struct {
	MinRequests  uint32
	FailureRatio float64
	OpenFor      time.Duration
}

// PaperlessPolicy suits the document store: cheap calls, short outages.
func PaperlessPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    4 * time.Second,
		Breaker: &BreakerPolicy{
			MinRequests:  10,
			FailureRatio: 0.5,
			OpenFor:      30 * time.Second,
		},
	}
}

// OllamaPolicy suits vision extraction: slow calls that are expensive to repeat.
func OllamaPolicy(ratePerSecond float64) Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Breaker: &BreakerPolicy{
			MinRequests:  5,
			FailureRatio: 0.6,
			OpenFor:      time.Minute,
		},
		RatePerSecond: ratePerSecond,
		RateBurst:     1,
	}
}

// NATSPolicy suits event publishing, which is best effort.
func NATSPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Breaker: &BreakerPolicy{
			MinRequests:  20,
			FailureRatio: 0.5,
			OpenFor:      10 * time.Second,
		},
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Breaker != nil {
		b := *p.Breaker
		if b.MinRequests == 0 {
			b.MinRequests = 10
		}
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			b.FailureRatio = 0.5
		}
		if b.OpenFor <= 0 {
			b.OpenFor = 30 * time.Second
		}
		p.Breaker = &b
	}
	if p.RatePerSecond < 0 {
		p.RatePerSecond = 0
	}
	if p.RatePerSecond > 0 && p.RateBurst <= 0 {
		p.RateBurst = 1
	}
	return p
}

// delay doubles BaseDelay per failed attempt up to MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	return min(d, p.MaxDelay)
}
