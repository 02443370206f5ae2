package core

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
)

// LifecycleTransitionRule blocks illegal status changes on analysis runs.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

type lifecycleMachine struct {
	entity    domain.EntityType
	label     string
	valid     map[string]struct{}
	next      map[string]map[string]struct{}
	extractor func(payload domain.ChangePayload) (id string, state string, ok bool)
}

var lifecycleMachines = map[domain.EntityType]lifecycleMachine{
	domain.EntityAnalysisRun: {
		entity: domain.EntityAnalysisRun,
		label:  "analysis run",
		valid: toSet(
			string(domain.RunStatusCreated),
			string(domain.RunStatusActive),
			string(domain.RunStatusRetracted),
		),
		next: map[string]map[string]struct{}{
			string(domain.RunStatusCreated):   toSet(string(domain.RunStatusActive), string(domain.RunStatusRetracted)),
			string(domain.RunStatusActive):    toSet(string(domain.RunStatusRetracted)),
			string(domain.RunStatusRetracted): toSet(),
		},
		extractor: func(payload domain.ChangePayload) (string, string, bool) {
			run, ok := domain.DecodePayload[domain.AnalysisRun](payload)
			if !ok {
				return "", "", false
			}
			return run.ID, string(run.Status), true
		},
	},
}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}

		afterID, afterState, ok := machine.extractor(change.After)
		if !ok {
			continue
		}
		if _, valid := machine.valid[afterState]; !valid {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lifecycle_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %s is set to invalid state %s", machine.label, afterID, afterState),
				Entity:   machine.entity,
				EntityID: afterID,
			})
			continue
		}

		_, beforeState, ok := machine.extractor(change.Before)
		if !ok || beforeState == afterState {
			continue
		}
		if _, allowed := machine.next[beforeState][afterState]; !allowed {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "lifecycle_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cannot move %s %s from %s to %s", machine.label, afterID, beforeState, afterState),
				Entity:   machine.entity,
				EntityID: afterID,
			})
		}
	}
	return res, nil
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
