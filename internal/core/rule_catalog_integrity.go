package core

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
)

// CatalogIntegrityRule checks taxon consistency between experiments, evidence
// and the runs and genes they reference.
func CatalogIntegrityRule() domain.Rule {
	return catalogIntegrityRule{}
}

type catalogIntegrityRule struct{}

func (catalogIntegrityRule) Name() string { return "catalog_integrity" }

func (catalogIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action == domain.ActionDelete {
			continue
		}
		switch change.Entity {
		case domain.EntityExperiment:
			if exp, ok := domain.DecodePayload[domain.Experiment](change.After); ok {
				evaluateExperiment(&res, exp, view)
				if before, ok := domain.DecodePayload[domain.Experiment](change.Before); ok && change.Action == domain.ActionUpdate && before.TaxonID != exp.TaxonID {
					evaluateTaxonMove(&res, exp, view)
				}
			}
		case domain.EntityEvidence:
			if ev, ok := domain.DecodePayload[domain.Evidence](change.After); ok {
				evaluateEvidence(&res, ev, view)
			}
		}
	}
	return res, nil
}

func evaluateExperiment(res *domain.Result, exp domain.Experiment, view domain.RuleView) {
	if _, ok := view.FindTaxon(exp.TaxonID); !ok {
		res.Violations = append(res.Violations, catalogViolation(domain.EntityExperiment, exp.ID,
			fmt.Sprintf("experiment %s references unknown taxon %d", exp.ID, exp.TaxonID)))
	}
	if exp.SubsetOf == nil {
		return
	}
	if *exp.SubsetOf == exp.ID {
		res.Violations = append(res.Violations, catalogViolation(domain.EntityExperiment, exp.ID,
			fmt.Sprintf("experiment %s cannot be a subset of itself", exp.ID)))
		return
	}
	parent, ok := view.FindExperiment(*exp.SubsetOf)
	switch {
	case !ok:
		res.Violations = append(res.Violations, catalogViolation(domain.EntityExperiment, exp.ID,
			fmt.Sprintf("experiment %s is a subset of missing experiment %s", exp.ID, *exp.SubsetOf)))
	case parent.TaxonID != exp.TaxonID:
		res.Violations = append(res.Violations, catalogViolation(domain.EntityExperiment, exp.ID,
			fmt.Sprintf("experiment %s taxon %d differs from parent %s taxon %d", exp.ID, exp.TaxonID, parent.ID, parent.TaxonID)))
	}
}

// evaluateTaxonMove blocks a taxon change while runs or subsets are bound to
// the experiment's previous taxon.
func evaluateTaxonMove(res *domain.Result, exp domain.Experiment, view domain.RuleView) {
	lister, ok := view.(domain.TransactionView)
	if !ok {
		return
	}
	for _, run := range lister.ListAnalysisRuns() {
		if run.ExperimentID == exp.ID {
			res.Violations = append(res.Violations, catalogViolation(domain.EntityExperiment, exp.ID,
				fmt.Sprintf("experiment %s cannot move to taxon %d while analysis run %s is bound to taxon %d", exp.ID, exp.TaxonID, run.ID, run.TaxonID)))
			break
		}
	}
	for _, child := range lister.ListExperiments() {
		if child.SubsetOf != nil && *child.SubsetOf == exp.ID && child.TaxonID != exp.TaxonID {
			res.Violations = append(res.Violations, catalogViolation(domain.EntityExperiment, exp.ID,
				fmt.Sprintf("experiment %s taxon %d differs from subset %s taxon %d", exp.ID, exp.TaxonID, child.ID, child.TaxonID)))
		}
	}
}

func evaluateEvidence(res *domain.Result, ev domain.Evidence, view domain.RuleView) {
	if ev.AnalysisRunID != "" {
		run, ok := view.FindAnalysisRun(ev.AnalysisRunID)
		switch {
		case !ok:
			res.Violations = append(res.Violations, catalogViolation(domain.EntityEvidence, ev.ID,
				fmt.Sprintf("evidence %s references missing analysis run %s", ev.ID, ev.AnalysisRunID)))
		case run.TaxonID != ev.TaxonID:
			res.Violations = append(res.Violations, catalogViolation(domain.EntityEvidence, ev.ID,
				fmt.Sprintf("evidence %s taxon %d differs from run %s taxon %d", ev.ID, ev.TaxonID, run.ID, run.TaxonID)))
		}
	}
	gene, ok := view.FindGene(ev.GeneID)
	switch {
	case !ok:
		res.Violations = append(res.Violations, catalogViolation(domain.EntityEvidence, ev.ID,
			fmt.Sprintf("evidence %s references unknown gene %s", ev.ID, ev.GeneID)))
	case gene.TaxonID != ev.TaxonID:
		res.Violations = append(res.Violations, catalogViolation(domain.EntityEvidence, ev.ID,
			fmt.Sprintf("evidence %s gene %s belongs to taxon %d, not %d", ev.ID, gene.ID, gene.TaxonID, ev.TaxonID)))
	}
}

func catalogViolation(entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "catalog_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
