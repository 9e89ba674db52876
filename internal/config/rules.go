package config

import (
	"log/slog"

	"github.com/stagegate/stagegate/internal/rules"
)

// RuleConfig converts the declarative rules section into the evaluator's
// config. Unparseable window times disable auto-approval with a warning
// rather than failing startup.
func (c *Config) RuleConfig(logger *slog.Logger) rules.Config {
	if logger == nil {
		logger = slog.Default()
	}

	out := rules.Config{
		AutoApproveEnabled: c.Rules.AutoApprove.Enabled,
		ExpirationEnabled:  c.Rules.Expiration.Enabled,
		ExpirationDuration: c.Rules.Expiration.Duration,
	}

	start, err := rules.ParseClock(c.Rules.AutoApprove.Start)
	if err != nil {
		logger.Warn("invalid auto-approve window start, disabling auto-approval",
			"start", c.Rules.AutoApprove.Start,
			"error", err)
		out.AutoApproveEnabled = false
		return out
	}
	end, err := rules.ParseClock(c.Rules.AutoApprove.End)
	if err != nil {
		logger.Warn("invalid auto-approve window end, disabling auto-approval",
			"end", c.Rules.AutoApprove.End,
			"error", err)
		out.AutoApproveEnabled = false
		return out
	}

	out.AutoApproveWindow = rules.Window{Start: start, End: end}
	return out
}
