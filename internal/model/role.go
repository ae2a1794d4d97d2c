package model

// Role is the closed set of caller roles carried in the access token.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleInfluencer Role = "influencer"
	RoleAdmin      Role = "admin"
	// RoleService is used by internal callers such as the order service.
	RoleService Role = "service"
)

// Capability is a single permission checked by the HTTP layer.
type Capability string

const (
	CapGiftCardIssue     Capability = "giftcard:issue"
	CapGiftCardRedeem    Capability = "giftcard:redeem"
	CapGiftCardRefund    Capability = "giftcard:refund"
	CapGiftCardManage    Capability = "giftcard:manage"
	CapGiftCardReadAny   Capability = "giftcard:read-any"
	CapCommissionAccrue  Capability = "commission:accrue"
	CapCommissionManage  Capability = "commission:manage"
	CapCommissionViewOwn Capability = "commission:view-own"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleCustomer: {
		CapGiftCardIssue:  {},
		CapGiftCardRedeem: {},
	},
	RoleInfluencer: {
		CapGiftCardIssue:     {},
		CapGiftCardRedeem:    {},
		CapCommissionViewOwn: {},
	},
	RoleAdmin: {
		CapGiftCardIssue:    {},
		CapGiftCardRedeem:   {},
		CapGiftCardRefund:   {},
		CapGiftCardManage:   {},
		CapGiftCardReadAny:  {},
		CapCommissionAccrue: {},
		CapCommissionManage: {},
	},
	RoleService: {
		CapGiftCardRedeem:   {},
		CapGiftCardRefund:   {},
		CapCommissionAccrue: {},
	},
}

// ParseRole maps a token claim onto a Role. Unknown values are rejected.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleCapabilities[r]
	return r, ok
}

// Can reports whether the role grants capability c.
func (r Role) Can(c Capability) bool {
	caps, ok := roleCapabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[c]
	return ok
}
