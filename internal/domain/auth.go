package domain

import "strings"

const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Principal is the caller identity forwarded by the gateway.
type Principal struct {
	Subject string
	Roles   []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Actor is the identity recorded against a transition or a generated document.
type Actor struct {
	Type string
	ID   string
}

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem, ID: "grantdesk"}
}

func (p Principal) Actor() Actor {
	return Actor{Type: ActorTypeUser, ID: p.Subject}
}

type Action string

const (
	ActionOpen        Action = "open"
	ActionRead        Action = "read"
	ActionSave        Action = "save"
	ActionSubmit      Action = "submit"
	ActionStartReview Action = "start_review"
	ActionApprove     Action = "approve"
	ActionReturn      Action = "return"
	ActionReopen      Action = "reopen"
	ActionCancel      Action = "cancel"
	ActionDownload    Action = "download"
	ActionVerify      Action = "verify"
	ActionRegenerate  Action = "regenerate"
)
