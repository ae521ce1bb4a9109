package llm

import (
	"strings"

	"github.com/joseph-ayodele/connect-cards/constants"
)

// BuildSystemPrompt composes the instructions for reading a connect card.
// Vocabulary values are hints only; unknown phrasing is still returned as written.
func BuildSystemPrompt() string {
	parts := []string{
		"You read handwritten or printed church connect cards from photos. Return ONLY JSON that matches the provided JSON Schema.",
		"Copy names, email, phone and address exactly as written; do not guess missing characters.",
		"For 'visit_status' prefer one of: " + strings.Join(constants.VisitStatuses.Values(), ", ") + ".",
		"For 'interests' list every checked or written interest; common values: " + strings.Join(constants.Interests.Values(), ", ") + ".",
		"For 'keywords' list campaign or event words printed or written on the card; common values: " + strings.Join(constants.CampaignKeywords.Values(), ", ") + ".",
		"Put prayer requests and free-form comments in 'notes'.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt describes which images are attached.
func BuildUserPrompt(sides []string) string {
	var b strings.Builder
	b.WriteString("Attached images: ")
	b.WriteString(strings.Join(sides, ", "))
	b.WriteString(".\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}
