// ABOUTME: Canned b360 business intelligence responses
// ABOUTME: Covers auth, reports, data sync, dashboards, permissions and tickets

package actions

var b360Handlers = map[string]handler{
	"auth": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"userId":              param(p, "userId", "USR-B360-001"),
			"authStatus":          "FAILED",
			"reason":              "Password expired - last changed 95 days ago",
			"failedAttempts":      3,
			"lockoutStatus":       "NOT_LOCKED",
			"ssoEnabled":          true,
			"lastSuccessfulLogin": "2025-02-01T14:30:00Z",
		}
	},
	"report": func(m *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"reportId":  param(p, "reportId", "RPT-"+m.newID(6)),
			"status":    "FAILED",
			"error":     "Data source 'sales_db' connection timeout after 30s",
			"rowCount":  0,
			"startTime": "2025-02-23T09:00:00Z",
			"duration":  "30s",
			"retryable": true,
		}
	},
	"sync": func(_ *Mock, _ map[string]string) map[string]any {
		return map[string]any{
			"lastSyncTime":        "2025-02-23T04:00:00Z",
			"syncStatus":          "PARTIAL_FAILURE",
			"failedSources":       []string{"inventory_db", "crm_api"},
			"successfulSources":   []string{"hr_system", "finance_db"},
			"nextScheduledSync":   "2025-02-23T08:00:00Z",
			"manualSyncAvailable": true,
		}
	},
	"dashboard": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"dashboardId":      param(p, "dashboardId", "DASH-001"),
			"status":           "SLOW_LOADING",
			"widgetCount":      25,
			"recommendedMax":   20,
			"slowestWidget":    "sales-trend-chart",
			"avgLoadTime":      "8.5s",
			"performanceScore": 45,
		}
	},
	"permissions": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"userId":            param(p, "userId", "USR-B360-001"),
			"currentRoles":      []string{"VIEWER"},
			"requestedResource": "executive-dashboard",
			"requiredRole":      "ANALYST",
			"accessDenied":      true,
			"adminContact":      "b360-admin@company.com",
		}
	},
	"ticketcreate": func(m *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"ticketId":  "B360-TKT-" + m.newID(6),
			"title":     param(p, "title", "B360 Support Request"),
			"priority":  param(p, "priority", "MEDIUM"),
			"status":    "OPEN",
			"queue":     "b360-support-queue",
			"createdAt": m.timestamp(),
		}
	},
}
