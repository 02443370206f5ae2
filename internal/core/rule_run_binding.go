package core

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
)

// RunBindingRule keeps an analysis run tied to the experiment it was created
// for and its bookkeeping consistent with its status.
func RunBindingRule() domain.Rule {
	return runBindingRule{}
}

type runBindingRule struct{}

func (runBindingRule) Name() string { return "run_binding" }

func (runBindingRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityAnalysisRun || change.Action == domain.ActionDelete {
			continue
		}
		run, ok := domain.DecodePayload[domain.AnalysisRun](change.After)
		if !ok {
			continue
		}
		if before, ok := domain.DecodePayload[domain.AnalysisRun](change.Before); ok {
			if before.ExperimentID != run.ExperimentID {
				res.Violations = append(res.Violations, runViolation(run.ID,
					fmt.Sprintf("analysis run %s cannot move from experiment %s to %s", run.ID, before.ExperimentID, run.ExperimentID)))
			}
			if before.TaxonID != run.TaxonID {
				res.Violations = append(res.Violations, runViolation(run.ID,
					fmt.Sprintf("analysis run %s cannot change taxon from %d to %d", run.ID, before.TaxonID, run.TaxonID)))
			}
		}
		exp, ok := view.FindExperiment(run.ExperimentID)
		if !ok {
			res.Violations = append(res.Violations, runViolation(run.ID,
				fmt.Sprintf("analysis run %s references missing experiment %s", run.ID, run.ExperimentID)))
		} else if exp.TaxonID != run.TaxonID {
			res.Violations = append(res.Violations, runViolation(run.ID,
				fmt.Sprintf("analysis run %s taxon %d differs from experiment taxon %d", run.ID, run.TaxonID, exp.TaxonID)))
		}
		if run.NumberOfElementsAnalyzed < 0 {
			res.Violations = append(res.Violations, runViolation(run.ID,
				fmt.Sprintf("analysis run %s has negative element count %d", run.ID, run.NumberOfElementsAnalyzed)))
		}
		if !run.Active() && len(run.Contributions) > 0 {
			res.Violations = append(res.Violations, runViolation(run.ID,
				fmt.Sprintf("analysis run %s is %s but still owns %d contributions", run.ID, run.Status, len(run.Contributions))))
		}
	}
	return res, nil
}

func runViolation(runID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "run_binding",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityAnalysisRun,
		EntityID: runID,
	}
}
