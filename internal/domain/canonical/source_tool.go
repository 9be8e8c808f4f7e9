package canonical

// SourceTool identifies the third-party platform a canonical record originated from.
// Together with ExternalID it forms the natural key that makes sync and webhook
// writes idempotent within a tenant.
type SourceTool string

const (
	// SourceToolStripe represents the Stripe payment processor
	SourceToolStripe SourceTool = "stripe"
	// SourceToolJira represents Atlassian Jira
	SourceToolJira SourceTool = "jira"
	// SourceToolAsana represents Asana
	SourceToolAsana SourceTool = "asana"
	// SourceToolSlack represents Slack
	SourceToolSlack SourceTool = "slack"
	// SourceToolGitHub represents GitHub
	SourceToolGitHub SourceTool = "github"
	// SourceToolPlausible represents the Plausible analytics collector
	SourceToolPlausible SourceTool = "plausible"
	// SourceToolCanny represents the Canny feedback board
	SourceToolCanny SourceTool = "canny"
)

// IsValid returns true if the source tool is one of the supported providers
func (s SourceTool) IsValid() bool {
	switch s {
	case SourceToolStripe, SourceToolJira, SourceToolAsana, SourceToolSlack,
		SourceToolGitHub, SourceToolPlausible, SourceToolCanny:
		return true
	default:
		return false
	}
}

// String returns the string representation of SourceTool
func (s SourceTool) String() string {
	return string(s)
}

// AllSourceTools returns the closed set of supported providers
func AllSourceTools() []SourceTool {
	return []SourceTool{
		SourceToolStripe, SourceToolJira, SourceToolAsana, SourceToolSlack,
		SourceToolGitHub, SourceToolPlausible, SourceToolCanny,
	}
}
