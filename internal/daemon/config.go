package daemon

import (
	"fmt"

	"github.com/hochfrequenz/repo-rlm/internal/config"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a five field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate checks the daemon section and fills in defaults for unset limits
func Validate(c *config.DaemonConfig) error {
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.StepsPerTick <= 0 {
		c.StepsPerTick = 50
	}
	if c.MaxParallelRuns <= 0 {
		c.MaxParallelRuns = 1
	}
	return nil
}
