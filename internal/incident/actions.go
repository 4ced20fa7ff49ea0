package incident

import "idsoc/pkg/models"

// ActionInfo is the human-readable description of a simulated response
// action.
type ActionInfo struct {
	Name        string
	Description string
}

var actionCatalog = map[models.ActionType]ActionInfo{
	models.ActionDisableUser: {
		Name:        "Disable User Account",
		Description: "In production, this would disable the user account in the identity provider, preventing all future sign-ins. The user would need admin intervention to re-enable the account.",
	},
	models.ActionRevokeSessions: {
		Name:        "Revoke All Active Sessions",
		Description: "In production, this would invalidate all active tokens and sessions for the user, forcing them to re-authenticate. This would immediately log them out of all devices and applications.",
	},
	models.ActionPasswordReset: {
		Name:        "Require Password Reset",
		Description: "In production, this would force the user to reset their password on next sign-in. This helps ensure the account hasn't been compromised and the password is changed.",
	},
	models.ActionIsolateEndpoint: {
		Name:        "Isolate Endpoint",
		Description: "In production, this would isolate the device from the network, preventing it from accessing corporate resources while allowing investigation.",
	},
	models.ActionBlockOAuth: {
		Name:        "Block OAuth Application",
		Description: "In production, this would revoke consent and block the OAuth application, preventing it from accessing user data. This would also revoke all existing tokens issued to the application.",
	},
}

// Actions returns the catalog of supported response action types.
func Actions() map[models.ActionType]ActionInfo {
	out := make(map[models.ActionType]ActionInfo, len(actionCatalog))
	for k, v := range actionCatalog {
		out[k] = v
	}
	return out
}
