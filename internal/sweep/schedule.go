package sweep

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// DailySchedule returns a schedule that fires once a day at the start of
// hour, UTC. It satisfies river.PeriodicSchedule.
func DailySchedule(hour int) (cron.Schedule, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("schedule hour must be between 0 and 23, got %d", hour)
	}
	schedule, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=UTC 0 %d * * *", hour))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sweep schedule: %w", err)
	}
	return schedule, nil
}
