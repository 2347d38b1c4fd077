package domain

// Action is a role-gated capability.
type Action string

const (
	ActionViewListings     Action = "view_listings"
	ActionCreateListing    Action = "create_listing"
	ActionEditListing      Action = "edit_listing"
	ActionModerateListing  Action = "moderate_listing"
	ActionManageUsers      Action = "manage_users"
	ActionModerateMessages Action = "moderate_messages"
	ActionSendMessage      Action = "send_message"
	ActionInitiatePayment  Action = "initiate_payment"
)

var capabilities = map[Action]map[Role]bool{
	ActionViewListings:     {RoleTenant: true, RoleLandlord: true, RoleAdmin: true},
	ActionCreateListing:    {RoleLandlord: true},
	ActionEditListing:      {RoleLandlord: true, RoleAdmin: true},
	ActionModerateListing:  {RoleAdmin: true},
	ActionManageUsers:      {RoleAdmin: true},
	ActionModerateMessages: {RoleAdmin: true},
	ActionSendMessage:      {RoleTenant: true, RoleLandlord: true},
	ActionInitiatePayment:  {RoleTenant: true, RoleLandlord: true, RoleAdmin: true},
}

// Can reports whether the role holds the capability.
func Can(role Role, a Action) bool {
	return capabilities[a][role]
}

// Authorize checks the capability table and, for owner-scoped actions,
// ownership. Admins pass ownership checks. A nil ownerID means the action
// is not owner-scoped.
func Authorize(u *User, a Action, ownerID *int64) error {
	if u == nil {
		return ErrUnauthorized
	}
	if u.IsBanned {
		return ErrBanned
	}
	if !Can(u.Role, a) {
		return ErrForbidden
	}
	if ownerID != nil && u.Role != RoleAdmin && *ownerID != u.ID {
		return ErrForbidden
	}
	return nil
}
