package chat

import (
	"time"

	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/session"
)

const FallbackText = "I can't reach the analytics service right now. The figures below are sample data so you can keep exploring; they are not from your operations."

// fallbackMessage builds the offline answer shown when the backend cannot
// be reached. Its data is placeholder and marked Synthetic.
func fallbackMessage(ts time.Time) session.Message {
	return session.Message{
		Role:      session.RoleAssistant,
		Content:   FallbackText,
		Timestamp: ts,
		Type:      "offline",
		Synthetic: true,
		Visualizations: &session.Visualizations{
			KPIs: map[string]any{
				"total_incidents":    12,
				"critical_alerts":    3,
				"avg_efficiency":     87.5,
				"monthly_production": 45000,
			},
			Charts: map[string][]*chart.Record{
				"equipment_status": {
					chart.NewRecord("status", "Operational", "count", 45),
					chart.NewRecord("status", "Maintenance", "count", 8),
					chart.NewRecord("status", "Critical", "count", 3),
				},
				"production_trend": {
					chart.NewRecord("month", "Jan", "production", 12000),
					chart.NewRecord("month", "Feb", "production", 13500),
					chart.NewRecord("month", "Mar", "production", 12800),
					chart.NewRecord("month", "Apr", "production", 14200),
				},
			},
		},
		Recommendations: []string{
			"Check the backend service and retry your question",
			"Review critical equipment alerts once the connection is restored",
		},
	}
}
