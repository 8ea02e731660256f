// Package authz defines the thin authorization collaborator the
// ingestion coordinator (C5) calls before touching any store row. The
// HTTP edge is the only caller that constructs a real Subject (from a
// validated JWT via internal/auth); everything deeper in the call graph
// only ever sees this interface.
package authz

import (
	"context"

	"github.com/openrating/core/internal/apperr"
)

// Subject is the authenticated caller's scopes and tenant/region grants,
// extracted from a validated token by internal/auth.
type Subject struct {
	SubjectID string
	Scopes    map[string]bool
	// Grants maps an organization_id to the set of region_ids that subject
	// may act within for that organization. A grant of "*" permits every
	// region.
	Grants map[string]map[string]bool
}

// HasScope reports whether the subject's token carries the given scope.
func (s Subject) HasScope(scope string) bool {
	return s.Scopes[scope]
}

// HasGrant reports whether the subject may act on the given organization
// and region.
func (s Subject) HasGrant(organizationID, regionID string) bool {
	regions, ok := s.Grants[organizationID]
	if !ok {
		return false
	}
	return regions["*"] || regions[regionID]
}

// Authorizer is the authorization capability C5 depends on. The HTTP edge
// wires a real implementation backed by Subject grants; tests use
// AllowAll.
type Authorizer interface {
	// Authorize rejects with apperr.KindInsufficientScope or
	// KindInsufficientGrants when the subject may not submit matches for
	// this (organization, sport, region).
	Authorize(ctx context.Context, subject Subject, requiredScope, organizationID, sport, regionID string) error
}

// GrantAuthorizer checks the subject's scope and organization/region grant.
type GrantAuthorizer struct{}

func (GrantAuthorizer) Authorize(_ context.Context, subject Subject, requiredScope, organizationID, sport, regionID string) error {
	if !subject.HasScope(requiredScope) {
		return apperr.Newf(apperr.KindInsufficientScope, "token missing required scope %q", requiredScope)
	}
	if !subject.HasGrant(organizationID, regionID) {
		return apperr.Newf(apperr.KindInsufficientGrants, "subject has no grant for organization %q region %q", organizationID, regionID)
	}
	return nil
}

// AllowAll never rejects; useful for tests and for AUTH_DISABLE=1 local dev.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, Subject, string, string, string, string) error { return nil }
