package orgs

import "time"

// User is a portal account. Users are soft-lifetime: never hard-deleted
// while referenced by the audit log.
type User struct {
	ID                  int64     `json:"id"`
	Email               string    `json:"email"` // unique, compared lower-case
	DisplayName         string    `json:"display_name,omitempty"`
	PasswordHash        string    `json:"-"` // opaque to the core
	IsSuperAdmin        bool      `json:"is_super_admin"`
	ForcePasswordChange bool      `json:"force_password_change"`
	Disabled            bool      `json:"disabled"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Company is a tenant: the isolation boundary permissions are scoped to.
type Company struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	SyncroID     *string   `json:"syncro_id,omitempty"`
	XeroID       *string   `json:"xero_id,omitempty"`
	VIP          bool      `json:"vip"` // affects shop pricing
	EmailDomains []string  `json:"email_domains,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MembershipStatus is the lifecycle state of a (user, company) pair.
type MembershipStatus string

const (
	MembershipInvited   MembershipStatus = "invited"
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
)

// Staff-view permission levels carried by StaffPermission.
const (
	StaffViewNone          = 0 // no staff visibility
	StaffViewOwnDepartment = 1
	StaffViewUnassigned    = 2 // own department plus unassigned
	StaffViewAll           = 3
)

// Capabilities is the legacy boolean capability set on a membership row.
// Every field is overwritten by the role projection on each fetch; a
// tightened role definition therefore takes effect immediately, and any
// boolean edits made directly in storage are deliberately ineffective.
type Capabilities struct {
	CanManageLicenses     bool `json:"can_manage_licenses"`
	CanOrderLicenses      bool `json:"can_order_licenses"`
	CanManageStaff        bool `json:"can_manage_staff"`
	StaffPermission       int  `json:"staff_permission"` // 0..3
	CanManageAssets       bool `json:"can_manage_assets"`
	CanManageInvoices     bool `json:"can_manage_invoices"`
	CanManageOfficeGroups bool `json:"can_manage_office_groups"`
	CanManageIssues       bool `json:"can_manage_issues"`
	CanAccessShop         bool `json:"can_access_shop"`
	CanAccessCart         bool `json:"can_access_cart"`
	CanAccessOrders       bool `json:"can_access_orders"`
	CanAccessForms        bool `json:"can_access_forms"`
	CanViewCompliance     bool `json:"can_view_compliance"`
	CanViewBCP            bool `json:"can_view_bcp"`
	IsAdmin               bool `json:"is_admin"`
}

// Capability names a single boolean capability for section gating.
type Capability string

const (
	CapManageLicenses     Capability = "can_manage_licenses"
	CapOrderLicenses      Capability = "can_order_licenses"
	CapManageStaff        Capability = "can_manage_staff"
	CapManageAssets       Capability = "can_manage_assets"
	CapManageInvoices     Capability = "can_manage_invoices"
	CapManageOfficeGroups Capability = "can_manage_office_groups"
	CapManageIssues       Capability = "can_manage_issues"
	CapAccessShop         Capability = "can_access_shop"
	CapAccessCart         Capability = "can_access_cart"
	CapAccessOrders       Capability = "can_access_orders"
	CapAccessForms        Capability = "can_access_forms"
	CapViewCompliance     Capability = "can_view_compliance"
	CapViewBCP            Capability = "can_view_bcp"
	CapCompanyAdmin       Capability = "is_admin"
)

// Has reports whether the named capability is set.
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapManageLicenses:
		return c.CanManageLicenses
	case CapOrderLicenses:
		return c.CanOrderLicenses
	case CapManageStaff:
		return c.CanManageStaff
	case CapManageAssets:
		return c.CanManageAssets
	case CapManageInvoices:
		return c.CanManageInvoices
	case CapManageOfficeGroups:
		return c.CanManageOfficeGroups
	case CapManageIssues:
		return c.CanManageIssues
	case CapAccessShop:
		return c.CanAccessShop
	case CapAccessCart:
		return c.CanAccessCart
	case CapAccessOrders:
		return c.CanAccessOrders
	case CapAccessForms:
		return c.CanAccessForms
	case CapViewCompliance:
		return c.CanViewCompliance
	case CapViewBCP:
		return c.CanViewBCP
	case CapCompanyAdmin:
		return c.IsAdmin
	default:
		return false
	}
}

// AllCapabilities returns the capability set a super-admin is synthesised
// with: every boolean true, staff visibility at the highest level.
func AllCapabilities() Capabilities {
	return Capabilities{
		CanManageLicenses:     true,
		CanOrderLicenses:      true,
		CanManageStaff:        true,
		StaffPermission:       StaffViewAll,
		CanManageAssets:       true,
		CanManageInvoices:     true,
		CanManageOfficeGroups: true,
		CanManageIssues:       true,
		CanAccessShop:         true,
		CanAccessCart:         true,
		CanAccessOrders:       true,
		CanAccessForms:        true,
		CanViewCompliance:     true,
		CanViewBCP:            true,
		IsAdmin:               true,
	}
}

// Membership ties a user to a company with a role. Uniqueness of
// (user, company) is enforced by the store: at most one row per pair.
// A suspended membership contributes no permissions.
type Membership struct {
	ID         int64            `json:"id"`
	UserID     int64            `json:"user_id"`
	CompanyID  int64            `json:"company_id"`
	RoleID     int64            `json:"role_id"`
	RoleName   string           `json:"role_name,omitempty"` // joined for display
	Status     MembershipStatus `json:"status"`
	InvitedBy  *int64           `json:"invited_by,omitempty"`
	InvitedAt  time.Time        `json:"invited_at"`
	JoinedAt   *time.Time       `json:"joined_at,omitempty"`
	LastSeenAt *time.Time       `json:"last_seen_at,omitempty"`

	Capabilities
}
