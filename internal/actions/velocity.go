// ABOUTME: Canned velocity CI/CD responses
// ABOUTME: Covers builds, deployments, pipelines, environments, agents and tickets

package actions

var velocityHandlers = map[string]handler{
	"build": func(m *Mock, p map[string]string) map[string]any {
		id := param(p, "buildId", "BUILD-"+m.newID(6))
		return map[string]any{
			"buildId":       id,
			"status":        "FAILED",
			"failureReason": "Test suite 'integration-tests' failed: 3 tests failed",
			"stage":         "test",
			"duration":      "4m 32s",
			"artifacts":     []string{},
			"logs":          "https://velocity.internal/builds/" + id + "/logs",
		}
	},
	"deployment": func(m *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"deploymentId":      param(p, "deploymentId", "DEPLOY-"+m.newID(6)),
			"status":            "STUCK",
			"currentStage":      "approval-gate",
			"waitingFor":        "production-approvers",
			"waitingTime":       "2h 15m",
			"targetEnvironment": "production",
			"canForce":          false,
		}
	},
	"pipeline": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"pipelineId":        param(p, "pipelineId", "PIPE-001"),
			"status":            "ERROR",
			"errorType":         "YAML_PARSE_ERROR",
			"errorMessage":      "Line 45: Invalid stage reference 'deploy-prod' - stage not defined",
			"configFile":        "velocity.yml",
			"lastSuccessfulRun": "2025-02-20T16:00:00Z",
		}
	},
	"environment": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"environment":      param(p, "environment", "staging"),
			"status":           "MISCONFIGURED",
			"missingVariables": []string{"DATABASE_URL", "API_SECRET"},
			"expiredSecrets":   []string{"AWS_ACCESS_KEY"},
			"lastUpdated":      "2025-02-10T12:00:00Z",
			"updatedBy":        "devops-bot",
		}
	},
	"agent": func(_ *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"agentId":           param(p, "agentId", "AGENT-001"),
			"status":            "OFFLINE",
			"lastHeartbeat":     "2025-02-23T06:45:00Z",
			"offlineDuration":   "3h 15m",
			"agentType":         "self-hosted",
			"os":                "Ubuntu 22.04",
			"recommendedAction": "Regenerate agent token and restart agent service",
		}
	},
	"ticketcreate": func(m *Mock, p map[string]string) map[string]any {
		return map[string]any{
			"ticketId":  "VEL-TKT-" + m.newID(6),
			"title":     param(p, "title", "Velocity Support Request"),
			"priority":  param(p, "priority", "MEDIUM"),
			"status":    "OPEN",
			"queue":     "velocity-devops-queue",
			"createdAt": m.timestamp(),
		}
	},
}
