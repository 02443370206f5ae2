// Package evidence gates which phenotype evidence a caller may see.
package evidence

import (
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"slices"
	"strings"
)

// Filter is an immutable set of conjunctive constraints. The zero value
// admits everything.
type Filter struct {
	taxon            domain.TaxonID
	showOnlyEditable bool
	databases        []int64
	restricted       bool
}

// NewFilter returns a filter on taxon (0 for any) that optionally keeps only
// evidence the caller can edit. External databases start unrestricted.
func NewFilter(taxon domain.TaxonID, showOnlyEditable bool) Filter {
	return Filter{taxon: taxon, showOnlyEditable: showOnlyEditable}
}

// RestrictToDatabases returns a copy limited to the given external database
// ids. With no ids the result admits nothing.
func (f Filter) RestrictToDatabases(ids ...int64) Filter {
	out := f
	out.databases = slices.Clone(ids)
	slices.Sort(out.databases)
	out.databases = slices.Compact(out.databases)
	out.restricted = true
	return out
}

// Unrestricted returns a copy that admits every external database.
func (f Filter) Unrestricted() Filter {
	out := f
	out.databases = nil
	out.restricted = false
	return out
}

// Taxon returns the taxon constraint, 0 when unrestricted.
func (f Filter) Taxon() domain.TaxonID { return f.taxon }

// ShowOnlyEditable reports whether non-editable evidence is hidden.
func (f Filter) ShowOnlyEditable() bool { return f.showOnlyEditable }

// Databases returns the allow-list and whether one is in force.
func (f Filter) Databases() ([]int64, bool) {
	return slices.Clone(f.databases), f.restricted
}

func (f Filter) admitsDatabase(id int64) bool {
	if !f.restricted {
		return true
	}
	_, found := slices.BinarySearch(f.databases, id)
	return found
}

func (f Filter) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "taxon=%d editable=%t", f.taxon, f.showOnlyEditable)
	if f.restricted {
		fmt.Fprintf(&b, " databases=%v", f.databases)
	}
	return b.String()
}

// AccessControl decides whether actor may edit an evidence record.
type AccessControl interface {
	CanEdit(ctx context.Context, actor string, ev domain.Evidence) bool
}

// OwnerAccess lets owners edit their own evidence and admins edit anything.
type OwnerAccess struct {
	Admins []string
}

// CanEdit implements AccessControl.
func (o OwnerAccess) CanEdit(_ context.Context, actor string, ev domain.Evidence) bool {
	if actor == "" {
		return false
	}
	return ev.Owner == actor || slices.Contains(o.Admins, actor)
}

// Gate applies filters using an access policy.
type Gate struct {
	acl AccessControl
}

// NewGate returns a gate consulting acl for editable-only filters. A nil acl
// denies every edit.
func NewGate(acl AccessControl) *Gate {
	return &Gate{acl: acl}
}

// Apply keeps candidates that satisfy every constraint of f, preserving input
// order. The result is always a subset of candidates.
func (g *Gate) Apply(ctx context.Context, f Filter, actor string, candidates []domain.Evidence) ([]domain.Evidence, error) {
	out := make([]domain.Evidence, 0, len(candidates))
	for _, ev := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.taxon != 0 && ev.TaxonID != f.taxon {
			continue
		}
		if !f.admitsDatabase(ev.ExternalDatabaseID) {
			continue
		}
		if f.showOnlyEditable && (g.acl == nil || !g.acl.CanEdit(ctx, actor, ev)) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Apply is shorthand for NewGate(acl).Apply.
func Apply(ctx context.Context, acl AccessControl, f Filter, actor string, candidates []domain.Evidence) ([]domain.Evidence, error) {
	return NewGate(acl).Apply(ctx, f, actor, candidates)
}
