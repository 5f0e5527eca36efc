package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrNoICPScore is returned by ICPScorer for leads without a score hint.
var ErrNoICPScore = eris.New("provider: lead has no icp score")

// ICPScorer qualifies leads from the ICP score they were submitted with.
// It is the qualification provider when no LLM credentials are configured.
type ICPScorer struct{}

// Execute returns the lead's ICP score hint.
func (ICPScorer) Execute(_ context.Context, lead model.LeadInput) (QualificationOutput, error) {
	if lead.ICPScore == nil {
		return QualificationOutput{}, ErrNoICPScore
	}
	return QualificationOutput{
		Score:   *lead.ICPScore,
		Reasons: []string{"icp score hint"},
		Model:   "icp",
	}, nil
}
