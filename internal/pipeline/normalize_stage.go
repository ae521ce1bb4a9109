package pipeline

import (
	"strings"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
)

// NormalizeStage canonicalizes categorical free text against the controlled
// vocabularies. Values outside a vocabulary are kept as written.
type NormalizeStage struct{}

func NewNormalizeStage() *NormalizeStage { return &NormalizeStage{} }

func (NormalizeStage) Run(f entity.CardFields) entity.CardFields {
	out := f
	out.FirstName = strings.TrimSpace(f.FirstName)
	out.LastName = strings.TrimSpace(f.LastName)
	out.Email = strings.ToLower(strings.TrimSpace(f.Email))
	out.Phone = strings.TrimSpace(f.Phone)
	out.VisitStatus, _ = constants.VisitStatuses.Canonicalize(f.VisitStatus)
	out.Interests = nilIfEmpty(constants.Interests.CanonicalizeAll(f.Interests))
	out.Keywords = nilIfEmpty(constants.CampaignKeywords.CanonicalizeAll(f.Keywords))
	return out
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
