// ABOUTME: Canned artemis user management responses
// ABOUTME: Covers user lookup, business roles, tickets, reactivation and crash reports

package actions

var artemisHandlers = map[string]handler{
	"user": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"userId":       param(p, "userId", "USR-00123"),
			"displayName":  "Jane Smith",
			"email":        "jane.smith@example.com",
			"status":       "INACTIVE",
			"lastLogin":    "2024-11-10T08:34:00Z",
			"roles":        []string{"VIEWER"},
			"accountNotes": "Auto-deactivated after 90 days of inactivity.",
		}
	},
	"business": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"userId":             param(p, "userId", "USR-00123"),
			"assignedBusinesses": []string{},
			"missingRole":        "BUSINESS_VIEWER",
			"message":            "User has no BUSINESS_VIEWER or BUSINESS_ADMIN role assigned.",
		}
	},
	"ticketcreate": func(m *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"ticketId":   "TKT-" + m.newID(8),
			"title":      param(p, "title", "Support Request"),
			"priority":   param(p, "priority", "MEDIUM"),
			"status":     "OPEN",
			"assignedTo": "on-call-queue",
			"createdAt":  m.timestamp(),
		}
	},
	"viewticket": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"ticketId":   param(p, "ticketId", "TKT-UNKNOWN"),
			"title":      "Unable to Access Artemis",
			"status":     "IN_PROGRESS",
			"priority":   "HIGH",
			"assignedTo": "L2-Support",
			"createdAt":  "2025-02-15T10:00:00Z",
			"comments": []string{
				"L1: Escalated to L2, account status issue.",
				"L2: Investigating LDAP sync problem.",
			},
		}
	},
	"updateuser": func(m *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"userId":           param(p, "userId", "USR-00123"),
			"previousStatus":   "INACTIVE",
			"newStatus":        param(p, "status", "ACTIVE"),
			"updatedAt":        m.timestamp(),
			"notificationSent": true,
		}
	},
	"appcrash": func(_ *Mock, _ map[string]string) map[string]any {
		return map[string]any{
			"recentCrashes": []map[string]any{
				{
					"crashId":       "CRS-0091",
					"module":        "AuthModule",
					"timestamp":     "2025-02-19T23:45:00Z",
					"summary":       "NullPointerException in TokenRefreshHandler",
					"affectedUsers": 14,
				},
				{
					"crashId":       "CRS-0090",
					"module":        "ReportingModule",
					"timestamp":     "2025-02-19T18:12:00Z",
					"summary":       "Connection timeout to reporting-db",
					"affectedUsers": 3,
				},
			},
			"totalCrashesLast24h": 2,
			"escalationChannel":   "#artemis-platform",
		}
	},
}
