package sdk

// OrgBinding is the outcome of comparing an identity's organization claim
// against the organization this SDK instance was configured for.
type OrgBinding struct {
	Bound bool
	Kind  ErrorKind // "" when Bound or when the identity simply has no claim
}

// BindOrganization classifies the relationship between the authenticated
// identity's tenant claim and the configured organization id. Pure function,
// no side effects.
//
// Rules:
//   - no configured organization: trivially bound
//   - identity has no tenant claim: not bound, no error
//   - claims differ: not bound, NotOrgMember
func BindOrganization(tenantClaim, configuredOrgID string) OrgBinding {
	if configuredOrgID == "" {
		return OrgBinding{Bound: true}
	}
	if tenantClaim == "" {
		return OrgBinding{Bound: false}
	}
	if tenantClaim != configuredOrgID {
		return OrgBinding{Bound: false, Kind: KindNotOrgMember}
	}
	return OrgBinding{Bound: true}
}
