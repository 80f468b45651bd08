package rbac

import "github.com/myportal/portal/pkg/orgs"

// Project computes the capability booleans for a membership in the given
// status holding the given tokens. It is total: any status and any token
// slice produce a defined result, and the same inputs always produce the
// same output.
//
// A suspended membership projects to nothing. So does any token set
// lacking portal.access, which acts as the master switch. Unknown tokens
// are skipped so that roles written by a newer build still project
// cleanly here.
func Project(status orgs.MembershipStatus, tokens []Token) orgs.Capabilities {
	var caps orgs.Capabilities
	if status == orgs.MembershipSuspended {
		return caps
	}

	hasAccess := false
	for _, t := range tokens {
		if t == TokenPortalAccess {
			hasAccess = true
			break
		}
	}
	if !hasAccess {
		return caps
	}

	for _, t := range tokens {
		switch t {
		case TokenLicensesManage:
			caps.CanManageLicenses = true
		case TokenLicensesOrder:
			caps.CanOrderLicenses = true
		case TokenStaffManage:
			caps.CanManageStaff = true
		case TokenAssetsManage:
			caps.CanManageAssets = true
		case TokenInvoicesManage:
			caps.CanManageInvoices = true
		case TokenOfficeGroupsManage:
			caps.CanManageOfficeGroups = true
		case TokenIssuesManage:
			caps.CanManageIssues = true
		case TokenShopAccess:
			caps.CanAccessShop = true
		case TokenCartAccess:
			caps.CanAccessCart = true
		case TokenOrdersAccess:
			caps.CanAccessOrders = true
		case TokenFormsAccess:
			caps.CanAccessForms = true
		case TokenComplianceAccess:
			caps.CanViewCompliance = true
		case TokenContinuityAccess:
			caps.CanViewBCP = true
		case TokenCompanyAdmin:
			caps.IsAdmin = true
		case TokenStaffViewOwn:
			caps.StaffPermission = maxStaff(caps.StaffPermission, orgs.StaffViewOwnDepartment)
		case TokenStaffViewUnassigned:
			caps.StaffPermission = maxStaff(caps.StaffPermission, orgs.StaffViewUnassigned)
		case TokenStaffViewAll:
			caps.StaffPermission = maxStaff(caps.StaffPermission, orgs.StaffViewAll)
		}
		// tokens outside the vocabulary, and the named-permission tokens
		// with no boolean counterpart, fall through on purpose
	}
	return caps
}

func maxStaff(a, b int) int {
	if a > b {
		return a
	}
	return b
}
