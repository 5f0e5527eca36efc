package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
)

// assertInvariants checks the properties every finished result must hold.
func assertInvariants(t *testing.T, r *model.PipelineResult) {
	t.Helper()
	require.True(t, r.Finished())

	var sum int64
	ran := 0
	for i, s := range r.Stages {
		if s.Status.Ran() {
			sum += s.LatencyMs
			ran++
		}
		if s.Status == model.StageStatusBlockingFailure {
			assert.Equal(t, len(r.Stages)-1, i, "blocking failure must be the last stage")
		}
	}
	assert.Equal(t, sum, r.TotalLatencyMs)
	assert.Len(t, r.Timeline, ran)

	var prevEnd int64
	for _, seg := range r.Timeline {
		assert.GreaterOrEqual(t, seg.StartMs, prevEnd)
		assert.GreaterOrEqual(t, seg.EndMs, seg.StartMs)
		prevEnd = seg.EndMs
	}

	if r.FinalStatus == model.FinalStatusDuplicateHalted {
		crm, ok := r.Stage(model.StageCRM)
		assert.False(t, ok && crm.Status == model.StageStatusSuccess)
	}
}

func stageNames(r *model.PipelineResult) []model.StageName {
	out := make([]model.StageName, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s.Stage)
	}
	return out
}

func TestRun_Completed(t *testing.T) {
	fp := newFakeProviders()
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, fp, rec)

	res, err := o.Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	assert.Equal(t, model.Stages, stageNames(res))
	for _, s := range res.Stages {
		assert.Equal(t, model.StageStatusSuccess, s.Status, s.Stage)
	}
	assert.Equal(t, int64(40), res.TotalLatencyMs)
	assert.InDelta(t, 0.007, res.TotalCostUSD, 1e-9)

	crm, _ := res.Stage(model.StageCRM)
	assert.Equal(t, "00Q000000000001", crm.Output["lead_id"])
	assert.Equal(t, 1, rec.count())
	assert.Same(t, res, rec.results[0])
}

// Scenario 1: ICP-implied score below the minimum rejects the lead.
func TestRun_RejectedByScore(t *testing.T) {
	fp := newFakeProviders()
	fp.qualify = provider.ICPScorer{}.Execute
	o := newTestOrchestrator(t, fp, &fakeRecorder{})

	lead := newLead()
	lead.ICPScore = score(45)
	res, err := o.Run(context.Background(), lead, allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusRejected, res.FinalStatus)
	require.Len(t, res.Stages, 1)
	q := res.Stages[0]
	assert.Equal(t, model.StageStatusSuccess, q.Status)
	assert.Equal(t, true, q.Output["rejected"])
	assert.Equal(t, 45.0, q.Output["score"])
	assert.Nil(t, q.Error)

	assert.Zero(t, fp.enrichCalls.Load())
	assert.Zero(t, fp.crmCalls.Load())
}

func TestRun_QualificationFailureUsesFallback(t *testing.T) {
	fp := newFakeProviders()
	fp.qualify = func(_ context.Context, _ model.LeadInput) (provider.QualificationOutput, error) {
		return provider.QualificationOutput{CostUSD: 0.001}, errors.New("529 overloaded")
	}

	t.Run("fallback below minimum rejects", func(t *testing.T) {
		res, err := newTestOrchestrator(t, fp, nil).Run(context.Background(), newLead(), allOptions())
		require.NoError(t, err)
		assertInvariants(t, res)

		assert.Equal(t, model.FinalStatusRejected, res.FinalStatus)
		q := res.Stages[0]
		assert.Equal(t, model.StageStatusNonBlockingFailure, q.Status)
		assert.Equal(t, 50.0, q.Output["score"])
		assert.Equal(t, true, q.Output["rejected"])
		assert.InDelta(t, 0.001, res.TotalCostUSD, 1e-9)
	})

	t.Run("fallback above minimum continues", func(t *testing.T) {
		o := newTestOrchestrator(t, fp, nil)
		o.cfg.MinQualificationScore = 40

		res, err := o.Run(context.Background(), newLead(), allOptions())
		require.NoError(t, err)
		assertInvariants(t, res)
		assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
		assert.Equal(t, model.StageStatusNonBlockingFailure, res.Stages[0].Status)
		assert.NotContains(t, res.Stages[0].Output, "rejected")
	})
}

// Scenario 2: exact email match with stop_on_duplicate halts the run.
func TestRun_DuplicateHalted(t *testing.T) {
	fp := newFakeProviders()
	o := newTestOrchestrator(t, fp, &fakeRecorder{})

	lead := model.LeadInput{Name: "Jane Smith", Email: "Jane@Acme.com", Company: "Acme Widgets"}
	res, err := o.Run(context.Background(), lead, allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusDuplicateHalted, res.FinalStatus)
	dd, ok := res.Stage(model.StageDeduplication)
	require.True(t, ok)
	assert.Equal(t, model.StageStatusBlockingFailure, dd.Status)
	assert.GreaterOrEqual(t, dd.Output["confidence"].(float64), 50.0)
	assert.Equal(t, "003EXISTING", dd.Output["matched_record_id"])
	require.NotNil(t, dd.Error)
	assert.Equal(t, model.ErrorClassBlocking, dd.Error.Class)
	assert.Equal(t, model.HintReviewDuplicate, dd.Error.Hint)

	_, hasCRM := res.Stage(model.StageCRM)
	assert.False(t, hasCRM)
	assert.Zero(t, fp.crmCalls.Load())
}

func TestRun_DuplicateWithoutStopContinues(t *testing.T) {
	fp := newFakeProviders()
	var got provider.CRMRequest
	fp.create = func(_ context.Context, req provider.CRMRequest) (provider.CRMOutput, error) {
		got = req
		return provider.CRMOutput{RecordID: "00Q2"}, nil
	}
	o := newTestOrchestrator(t, fp, nil)

	opts := allOptions()
	opts.StopOnDuplicate = false
	res, err := o.Run(context.Background(), model.LeadInput{Name: "Jane", Email: "jane@acme.com"}, opts)
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	dd, _ := res.Stage(model.StageDeduplication)
	assert.Equal(t, model.StageStatusSuccess, dd.Status)
	assert.Equal(t, true, dd.Output["is_duplicate"])
	assert.Equal(t, "003EXISTING", got.Match.MatchedRecordID)
}

func TestRun_DedupOverrunHaltsWhenStopping(t *testing.T) {
	fp := newFakeProviders()
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, fp, rec)
	o.cfg.Timeouts.Deduplication = time.Nanosecond

	res, err := o.Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusDuplicateHalted, res.FinalStatus)
	dd, ok := res.Stage(model.StageDeduplication)
	require.True(t, ok)
	assert.Equal(t, model.StageStatusBlockingFailure, dd.Status)
	require.NotNil(t, dd.Error)
	assert.Equal(t, model.HintRetry, dd.Error.Hint)

	_, hasCRM := res.Stage(model.StageCRM)
	assert.False(t, hasCRM)
	assert.Zero(t, fp.crmCalls.Load())
	assert.Equal(t, 1, rec.count())
}

func TestRun_DedupBudgetIgnoredWithoutStop(t *testing.T) {
	fp := newFakeProviders()
	o := newTestOrchestrator(t, fp, nil)
	o.cfg.Timeouts.Deduplication = time.Nanosecond

	opts := allOptions()
	opts.StopOnDuplicate = false
	res, err := o.Run(context.Background(), newLead(), opts)
	require.NoError(t, err)
	assertInvariants(t, res)

	dd, _ := res.Stage(model.StageDeduplication)
	assert.Equal(t, model.StageStatusSuccess, dd.Status)
	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	assert.Equal(t, int32(1), fp.crmCalls.Load())
}

// Scenario 3: enrichment failure is non-blocking and dedup uses known fields.
func TestRun_EnrichmentFailureContinues(t *testing.T) {
	fp := newFakeProviders()
	fp.enrich = func(_ context.Context, _ model.LeadInput) (provider.EnrichmentOutput, error) {
		return provider.EnrichmentOutput{CostUSD: 0.005}, errors.New("perplexity: unexpected status 502")
	}
	var got provider.CRMRequest
	fp.create = func(_ context.Context, req provider.CRMRequest) (provider.CRMOutput, error) {
		got = req
		return provider.CRMOutput{RecordID: "00Q3"}, nil
	}
	o := newTestOrchestrator(t, fp, nil)

	lead := model.LeadInput{Name: "Sam Park", Phone: "555-222-3333", Company: "Initech"}
	res, err := o.Run(context.Background(), lead, allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	en, _ := res.Stage(model.StageEnrichment)
	assert.Equal(t, model.StageStatusNonBlockingFailure, en.Status)
	assert.Equal(t, model.ErrorClassNonBlocking, en.Error.Class)
	assert.Equal(t, true, en.Output["used_known_fields"])

	dd, ok := res.Stage(model.StageDeduplication)
	require.True(t, ok)
	assert.Equal(t, model.StageStatusSuccess, dd.Status)

	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	assert.Equal(t, lead, got.Lead, "only submitted fields reach the CRM")
	assert.InDelta(t, 0.002+0.005, res.TotalCostUSD, 1e-9, "failed enrichment cost is kept")
	assert.Nil(t, ToResponse(res).Error, "non-blocking failures are not user-facing errors")
}

func TestRun_EnrichmentMergesIntoCopy(t *testing.T) {
	fp := newFakeProviders()
	fp.enrich = func(_ context.Context, _ model.LeadInput) (provider.EnrichmentOutput, error) {
		return provider.EnrichmentOutput{Fields: map[string]string{
			"email":   "other@initech.com",
			"phone":   "555-999-0000",
			"website": "initech.com",
		}}, nil
	}
	var got provider.CRMRequest
	fp.create = func(_ context.Context, req provider.CRMRequest) (provider.CRMOutput, error) {
		got = req
		return provider.CRMOutput{RecordID: "00Q4"}, nil
	}
	o := newTestOrchestrator(t, fp, nil)

	lead := newLead()
	res, err := o.Run(context.Background(), lead, allOptions())
	require.NoError(t, err)

	assert.Equal(t, "maria@initech.com", got.Lead.Email, "known fields are never overwritten")
	assert.Equal(t, "555-999-0000", got.Lead.Phone)
	assert.Equal(t, "initech.com", got.Lead.Website)
	assert.Equal(t, lead, res.Lead, "the submitted lead is not modified")

	en, _ := res.Stage(model.StageEnrichment)
	assert.Equal(t, []string{"phone", "website"}, en.Output["merged"])
}

func TestRun_SkipEnrichment(t *testing.T) {
	fp := newFakeProviders()
	o := newTestOrchestrator(t, fp, nil)

	opts := allOptions()
	opts.SkipEnrichment = true
	res, err := o.Run(context.Background(), newLead(), opts)
	require.NoError(t, err)
	assertInvariants(t, res)

	en, ok := res.Stage(model.StageEnrichment)
	require.True(t, ok)
	assert.Equal(t, model.StageStatusSkipped, en.Status)
	assert.Zero(t, en.LatencyMs)
	assert.Zero(t, fp.enrichCalls.Load())
	assert.Len(t, res.Timeline, 3)
	assert.Equal(t, int64(30), res.TotalLatencyMs)
}

// Scenario 4: dry run skips the CRM write.
func TestRun_DryRunSkipsCRM(t *testing.T) {
	fp := newFakeProviders()
	o := newTestOrchestrator(t, fp, nil)

	opts := allOptions()
	opts.DryRun = true
	res, err := o.Run(context.Background(), newLead(), opts)
	require.NoError(t, err)
	assertInvariants(t, res)

	crm, ok := res.Stage(model.StageCRM)
	require.True(t, ok)
	assert.Equal(t, model.StageStatusSkipped, crm.Status)
	assert.Equal(t, "dry_run", crm.Output["reason"])
	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	assert.Zero(t, fp.crmCalls.Load())
}

func TestRun_CreateInCRMDisabled(t *testing.T) {
	fp := newFakeProviders()
	res, err := newTestOrchestrator(t, fp, nil).Run(context.Background(), newLead(), model.PipelineOptions{})
	require.NoError(t, err)

	crm, _ := res.Stage(model.StageCRM)
	assert.Equal(t, model.StageStatusSkipped, crm.Status)
	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	assert.Zero(t, fp.crmCalls.Load())
}

// Scenario 5: a CRM error fails the run with stage-level detail.
func TestRun_CRMFailure(t *testing.T) {
	fp := newFakeProviders()
	fp.create = func(_ context.Context, _ provider.CRMRequest) (provider.CRMOutput, error) {
		return provider.CRMOutput{}, errors.New("INVALID_SESSION_ID: Session expired or invalid")
	}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, fp, rec)

	res, err := o.Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusCRMFailed, res.FinalStatus)
	crm, _ := res.Stage(model.StageCRM)
	assert.Equal(t, model.StageStatusBlockingFailure, crm.Status)

	resp := ToResponse(res)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, model.StageCRM, resp.Error.Stage)
	assert.Equal(t, model.ErrorClassBlocking, resp.Error.Class)
	assert.Equal(t, model.HintCheckCredential, resp.Error.Hint)
	assert.Contains(t, resp.Error.Message, "INVALID_SESSION_ID")
	assert.Equal(t, 1, rec.count())
}

func TestRun_CRMPanicIsContained(t *testing.T) {
	fp := newFakeProviders()
	fp.create = func(_ context.Context, _ provider.CRMRequest) (provider.CRMOutput, error) {
		panic("nil map write")
	}
	res, err := newTestOrchestrator(t, fp, nil).Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusCRMFailed, res.FinalStatus)
}

func TestRun_StageTimeout(t *testing.T) {
	fp := newFakeProviders()
	fp.qualify = func(ctx context.Context, _ model.LeadInput) (provider.QualificationOutput, error) {
		<-ctx.Done()
		return provider.QualificationOutput{}, ctx.Err()
	}
	o := newTestOrchestrator(t, fp, nil)
	o.cfg.Timeouts.Qualification = 20 * time.Millisecond
	o.cfg.MinQualificationScore = 50

	res, err := o.Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	q := res.Stages[0]
	assert.Equal(t, model.StageStatusNonBlockingFailure, q.Status)
	assert.Contains(t, q.Error.Message, "deadline exceeded")
	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus, "fallback score meets the lowered minimum")
}

func TestRun_CRMTimeoutFails(t *testing.T) {
	fp := newFakeProviders()
	fp.create = func(ctx context.Context, _ provider.CRMRequest) (provider.CRMOutput, error) {
		<-ctx.Done()
		return provider.CRMOutput{}, ctx.Err()
	}
	o := newTestOrchestrator(t, fp, nil)
	o.cfg.Timeouts.CRM = 20 * time.Millisecond

	res, err := o.Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusCRMFailed, res.FinalStatus)
	assert.Equal(t, model.HintRetry, ToResponse(res).Error.Hint)
}

func TestRun_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fp := newFakeProviders()
	fp.enrich = func(ctx context.Context, _ model.LeadInput) (provider.EnrichmentOutput, error) {
		cancel()
		<-ctx.Done()
		return provider.EnrichmentOutput{}, ctx.Err()
	}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, fp, rec)

	res, err := o.Run(ctx, newLead(), allOptions())
	require.NoError(t, err)
	assertInvariants(t, res)

	assert.Equal(t, model.FinalStatusCancelled, res.FinalStatus)
	assert.Equal(t, []model.StageName{model.StageQualification, model.StageEnrichment}, stageNames(res))
	assert.Equal(t, 1, rec.count(), "cancelled runs are still recorded")
	assert.Zero(t, fp.crmCalls.Load())

	resp := ToResponse(res)
	require.NotNil(t, resp.Error)
	assert.Equal(t, model.StageEnrichment, resp.Error.Stage)
	assert.Equal(t, model.HintRetry, resp.Error.Hint)
}

func TestRun_CancelledDuringCRM(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fp := newFakeProviders()
	fp.create = func(ctx context.Context, _ provider.CRMRequest) (provider.CRMOutput, error) {
		cancel()
		<-ctx.Done()
		return provider.CRMOutput{}, ctx.Err()
	}
	res, err := newTestOrchestrator(t, fp, nil).Run(ctx, newLead(), allOptions())
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusCancelled, res.FinalStatus)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fp := newFakeProviders()
	rec := &fakeRecorder{}
	res, err := newTestOrchestrator(t, fp, rec).Run(ctx, newLead(), allOptions())
	require.NoError(t, err)

	assert.Equal(t, model.FinalStatusCancelled, res.FinalStatus)
	assert.Empty(t, res.Stages)
	assert.Zero(t, fp.qualCalls.Load())
	assert.Equal(t, 1, rec.count())
}

func TestRun_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("disk full")}
	res, err := newTestOrchestrator(t, newFakeProviders(), rec).Run(context.Background(), newLead(), allOptions())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)
	assert.Equal(t, 1, rec.count())
}

func TestRun_ValidationFailure(t *testing.T) {
	tests := []struct {
		name  string
		lead  model.LeadInput
		field string
	}{
		{"missing name", model.LeadInput{Email: "a@b.com"}, "name"},
		{"no identity", model.LeadInput{Name: "Ann"}, "email"},
		{"bad email", model.LeadInput{Name: "Ann", Email: "not-an-email"}, "email"},
		{"icp out of range", model.LeadInput{Name: "Ann", Company: "Acme", ICPScore: score(140)}, "icp_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProviders()
			rec := &fakeRecorder{}
			res, err := newTestOrchestrator(t, fp, rec).Run(context.Background(), tt.lead, allOptions())

			require.Error(t, err)
			assert.Nil(t, res)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.True(t, hasField(verr.Fields, tt.field), "fields: %+v", verr.Fields)
			assert.Equal(t, model.ErrorClassValidation, verr.Class())

			assert.Zero(t, fp.qualCalls.Load(), "no stage runs")
			assert.Zero(t, rec.count(), "nothing is recorded")
		})
	}
}

func TestRun_InvariantsAcrossOptions(t *testing.T) {
	failing := errors.New("boom")
	for _, qualFails := range []bool{false, true} {
		for _, enrichFails := range []bool{false, true} {
			for _, crmFails := range []bool{false, true} {
				for _, opts := range []model.PipelineOptions{
					{},
					{StopOnDuplicate: true, CreateInCRM: true},
					{SkipEnrichment: true, CreateInCRM: true},
					{CreateInCRM: true, DryRun: true},
				} {
					fp := newFakeProviders()
					if qualFails {
						fp.qualify = func(context.Context, model.LeadInput) (provider.QualificationOutput, error) {
							return provider.QualificationOutput{}, failing
						}
					}
					if enrichFails {
						fp.enrich = func(context.Context, model.LeadInput) (provider.EnrichmentOutput, error) {
							return provider.EnrichmentOutput{}, failing
						}
					}
					if crmFails {
						fp.create = func(context.Context, provider.CRMRequest) (provider.CRMOutput, error) {
							return provider.CRMOutput{}, failing
						}
					}
					o := newTestOrchestrator(t, fp, nil)
					o.cfg.MinQualificationScore = 50

					for _, lead := range []model.LeadInput{newLead(), {Name: "Jane", Email: "jane@acme.com"}} {
						res, err := o.Run(context.Background(), lead, opts)
						require.NoError(t, err)
						assertInvariants(t, res)
					}
				}
			}
		}
	}
}
