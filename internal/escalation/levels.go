package escalation

import (
	"fmt"
	"time"

	"plantcare-engine/pkg/types"
)

// LevelFor maps hours overdue to an escalation level:
// gentle [0,6), standard [6,24), urgent [24,72), critical from 72
func LevelFor(hoursOverdue float64) types.EscalationLevel {
	switch {
	case hoursOverdue >= 72:
		return types.EscalationCritical
	case hoursOverdue >= 24:
		return types.EscalationUrgent
	case hoursOverdue >= 6:
		return types.EscalationStandard
	default:
		return types.EscalationGentle
	}
}

// NextCheckInterval is the wait before a level is re-notified
func NextCheckInterval(level types.EscalationLevel) time.Duration {
	switch level {
	case types.EscalationGentle:
		return 2 * time.Hour
	case types.EscalationStandard:
		return 6 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// Glyph is the urgency marker shown in the notification title
func Glyph(level types.EscalationLevel) string {
	switch level {
	case types.EscalationStandard:
		return "⏰"
	case types.EscalationUrgent:
		return "⚠️"
	case types.EscalationCritical:
		return "🚨"
	default:
		return "🌱"
	}
}

func levelPriority(level types.EscalationLevel) types.Priority {
	switch level {
	case types.EscalationStandard:
		return types.PriorityMedium
	case types.EscalationUrgent:
		return types.PriorityHigh
	case types.EscalationCritical:
		return types.PriorityCritical
	default:
		return types.PriorityLow
	}
}

func formatOverdue(hours float64) string {
	switch {
	case hours < 1:
		return "less than an hour"
	case hours < 2:
		return "1 hour"
	case hours < 48:
		return fmt.Sprintf("%d hours", int(hours))
	default:
		return fmt.Sprintf("%d days", int(hours/24))
	}
}
