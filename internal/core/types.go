package core

import "coexcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	EntityRef          = domain.EntityRef
	Severity           = domain.Severity
	Base               = domain.Base
	TaxonID            = domain.TaxonID
	Taxon              = domain.Taxon
	GeneID             = domain.GeneID
	Gene               = domain.Gene
	Experiment         = domain.Experiment
	AnalysisRun        = domain.AnalysisRun
	Evidence           = domain.Evidence
	CoexpressionLink   = domain.CoexpressionLink
	CurationStatus     = domain.CurationStatus
	CurationDetails    = domain.CurationDetails
	AuditEvent         = domain.AuditEvent
	AuditEventType     = domain.AuditEventType
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityTaxon       = domain.EntityTaxon
	EntityGene        = domain.EntityGene
	EntityExperiment  = domain.EntityExperiment
	EntityAnalysisRun = domain.EntityAnalysisRun
	EntityEvidence    = domain.EntityEvidence
	EntityLink        = domain.EntityLink
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
