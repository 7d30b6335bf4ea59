package transfer

import (
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
)

// IntegrityPolicy decides what happens when a binary or manifest check
// fails. A strict policy turns every violation into an error; a lenient one
// logs it and lets the caller skip the affected item.
type IntegrityPolicy struct {
	Strict bool
	log    *logger.Logger
}

func NewIntegrityPolicy(strict bool, log *logger.Logger) *IntegrityPolicy {
	return &IntegrityPolicy{Strict: strict, log: log}
}

// Violation returns a CodeIntegrity error under a strict policy and nil
// otherwise. Callers must treat a nil return as "skip this item".
func (p *IntegrityPolicy) Violation(op string, err error, keysAndValues ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := err
	if CodeOf(err) == "" {
		wrapped = Wrap(CodeIntegrity, op, err)
	}
	if p == nil || p.Strict {
		return wrapped
	}
	if p.log != nil {
		kv := append([]interface{}{"op", op, "error", err}, keysAndValues...)
		p.log.Warn("integrity violation skipped (lenient)", kv...)
	}
	return nil
}

func (p *IntegrityPolicy) Mode() string {
	if p == nil || p.Strict {
		return "strict"
	}
	return "lenient"
}
