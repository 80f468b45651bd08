package rbac

// Token is a single permission a role can grant. The vocabulary is closed;
// strings outside it survive storage round-trips but grant nothing.
type Token string

const (
	// TokenPortalAccess gates everything. Without it a membership
	// projects to no permissions at all, whatever else the role says.
	TokenPortalAccess Token = "portal.access"

	TokenLicensesManage     Token = "licenses.manage"
	TokenLicensesOrder      Token = "licenses.order"
	TokenStaffManage        Token = "staff.manage"
	TokenAssetsManage       Token = "assets.manage"
	TokenInvoicesManage     Token = "invoices.manage"
	TokenOfficeGroupsManage Token = "office_groups.manage"
	TokenIssuesManage       Token = "issues.manage"
	TokenShopAccess         Token = "shop.access"
	TokenCartAccess         Token = "cart.access"
	TokenOrdersAccess       Token = "orders.access"
	TokenFormsAccess        Token = "forms.access"
	TokenComplianceAccess   Token = "compliance.access"
	TokenContinuityAccess   Token = "continuity.access"
	TokenCompanyAdmin       Token = "company.admin"

	// TokenHelpdeskTechnician is a named permission checked directly by
	// the helpdesk integration. It has no projected boolean.
	TokenHelpdeskTechnician Token = "helpdesk.technician"

	// Staff-view tokens are graded; when a role holds several, the
	// widest one wins.
	TokenStaffViewOwn        Token = "staff.view.own"
	TokenStaffViewUnassigned Token = "staff.view.unassigned"
	TokenStaffViewAll        Token = "staff.view.all"
)

var knownTokens = map[Token]struct{}{
	TokenPortalAccess:        {},
	TokenLicensesManage:      {},
	TokenLicensesOrder:       {},
	TokenStaffManage:         {},
	TokenAssetsManage:        {},
	TokenInvoicesManage:      {},
	TokenOfficeGroupsManage:  {},
	TokenIssuesManage:        {},
	TokenShopAccess:          {},
	TokenCartAccess:          {},
	TokenOrdersAccess:        {},
	TokenFormsAccess:         {},
	TokenComplianceAccess:    {},
	TokenContinuityAccess:    {},
	TokenCompanyAdmin:        {},
	TokenHelpdeskTechnician:  {},
	TokenStaffViewOwn:        {},
	TokenStaffViewUnassigned: {},
	TokenStaffViewAll:        {},
}

// Known reports whether t is part of the current vocabulary.
func (t Token) Known() bool {
	_, ok := knownTokens[t]
	return ok
}

// AllTokens returns the full vocabulary, for role editors and validation.
func AllTokens() []Token {
	out := make([]Token, 0, len(knownTokens))
	for t := range knownTokens {
		out = append(out, t)
	}
	return out
}
