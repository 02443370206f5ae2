package curation

import "coexcore/pkg/domain"

type transition struct {
	from  domain.CurationStatus
	to    domain.CurationStatus
	event domain.AuditEventType
}

// transitions is the full set of allowed status changes. Anything else,
// including a same-state move, is rejected.
var transitions = []transition{
	{domain.CurationUncurated, domain.CurationNeedsAttention, domain.EventNeedsAttention},
	{domain.CurationNeedsAttention, domain.CurationCurated, domain.EventDoesNotNeedAttention},
	{domain.CurationCurated, domain.CurationNeedsAttention, domain.EventNeedsAttention},
	{domain.CurationUncurated, domain.CurationTroubled, domain.EventTroubled},
	{domain.CurationNeedsAttention, domain.CurationTroubled, domain.EventTroubled},
	{domain.CurationCurated, domain.CurationTroubled, domain.EventTroubled},
	{domain.CurationTroubled, domain.CurationNeedsAttention, domain.EventNotTroubled},
}

func lookupTransition(from, to domain.CurationStatus) (transition, bool) {
	for _, t := range transitions {
		if t.from == from && t.to == to {
			return t, true
		}
	}
	return transition{}, false
}

// Allowed reports whether a status change from one state to another is legal.
func Allowed(from, to domain.CurationStatus) bool {
	_, ok := lookupTransition(from, to)
	return ok
}
