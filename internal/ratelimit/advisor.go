package ratelimit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallbiznis/greenledger/internal/config"
)

const keyAdvisorCompany = "advisor:company:%s"

// AdvisorLimiter caps advisor calls per company. It is disabled without
// redis or when ADVISOR_RATE_LIMIT is zero.
type AdvisorLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewAdvisorLimiter(cfg config.Config, bucket *TokenBucket) *AdvisorLimiter {
	if bucket == nil || cfg.Advisor.RateLimit <= 0 {
		return nil
	}
	burst := cfg.Advisor.RateBurst
	if burst <= 0 {
		burst = cfg.Advisor.RateLimit
	}
	return &AdvisorLimiter{
		bucket: bucket,
		rate:   float64(cfg.Advisor.RateLimit) / 60,
		burst:  burst,
	}
}

func (l *AdvisorLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *AdvisorLimiter) Allow(ctx context.Context, companyID uuid.UUID) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAdvisorCompany, companyID), l.rate, l.burst)
}
