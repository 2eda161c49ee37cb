// ABOUTME: Fixed user-facing replies for terminal pipeline states
// ABOUTME: Slack-flavored markdown, also rendered by the matrix adapter

package pipeline

import "fmt"

const (
	RouteNotFoundText = ":warning: This channel is not configured for any product. " +
		"Please contact your administrator to set up the channel-to-product mapping."

	GenericErrorText = ":warning: I encountered an issue processing your request. " +
		"Please try rephrasing, or contact your Artemis administrator."
)

// IntentNotFoundText is the reply when no action serves the detected intent.
func IntentNotFoundText(product string) string {
	return fmt.Sprintf(":thinking_face: I couldn't match your request to a known action for %s. "+
		"Could you provide more detail?", product)
}
