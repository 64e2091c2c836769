package verify

import (
	"viewexchange-engine/pkg/config"

	"go.uber.org/fx"
)

// ReasonVerificationFailed marks a settlement attempt whose reported watch
// time did not satisfy the job's contract. Recoverable: the job stays
// assigned and the viewer may retry.
const ReasonVerificationFailed = "verification_failed"

var Module = fx.Module("verify.policy",
	fx.Provide(NewPolicy),
)

// SessionMeta is the pre-validated summary the player/session layer attaches
// to a completion report. The engine trusts reported seconds to already be
// wall-clock visible time; meta is kept on the receipt for audit.
type SessionMeta struct {
	PlayerVersion string   `json:"player_version,omitempty"`
	VisibleRatio  *float64 `json:"visible_ratio,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
}

// Policy decides whether a completion report satisfies a job's watch
// contract. Pure; no store access.
type Policy struct {
	MinVisibleRatio float64
}

func NewPolicy(cfg *config.Config) Policy {
	return Policy{MinVisibleRatio: cfg.Engine.MinVisibleRatio}
}

// Verify accepts iff the reported seconds meet the requirement and, when the
// session carries a visibility ratio, the content was sufficiently visible.
// Over-reporting is allowed here; the award is clamped at settlement.
func (p Policy) Verify(requiredSeconds, reportedSeconds int64, meta SessionMeta) bool {
	if reportedSeconds < requiredSeconds {
		return false
	}
	if meta.VisibleRatio != nil && *meta.VisibleRatio < p.MinVisibleRatio {
		return false
	}
	return true
}
