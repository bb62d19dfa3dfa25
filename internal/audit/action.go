package audit

import "strings"

// Action is the closed set of privileged operations that get recorded.
type Action string

const (
	ActionUserCreated          Action = "user_created"
	ActionUserUpdated          Action = "user_updated"
	ActionUserDeleted          Action = "user_deleted"
	ActionUserRoleChanged      Action = "user_role_changed"
	ActionUserBanned           Action = "user_banned"
	ActionUserUnbanned         Action = "user_unbanned"
	ActionDesignApproved       Action = "design_approved"
	ActionDesignRejected       Action = "design_rejected"
	ActionDesignDeleted        Action = "design_deleted"
	ActionEnquiryAssigned      Action = "enquiry_assigned"
	ActionEnquiryStatusChanged Action = "enquiry_status_changed"
	ActionEnquiryUpdated       Action = "enquiry_updated"
	ActionEnquiryDeleted       Action = "enquiry_deleted"
	ActionGalleryImageUploaded Action = "gallery_image_uploaded"
	ActionGalleryImageApproved Action = "gallery_image_approved"
	ActionGalleryImageRejected Action = "gallery_image_rejected"
	ActionGalleryImageDeleted  Action = "gallery_image_deleted"
	ActionSystemConfigChanged  Action = "system_config_changed"
	ActionBackupCreated        Action = "backup_created"
	ActionLoginAttempt         Action = "login_attempt"
	ActionSecurityAlert        Action = "security_alert"
)

// Actions lists every declared Action in declaration order.
var Actions = []Action{
	ActionUserCreated, ActionUserUpdated, ActionUserDeleted, ActionUserRoleChanged,
	ActionUserBanned, ActionUserUnbanned,
	ActionDesignApproved, ActionDesignRejected, ActionDesignDeleted,
	ActionEnquiryAssigned, ActionEnquiryStatusChanged, ActionEnquiryUpdated, ActionEnquiryDeleted,
	ActionGalleryImageUploaded, ActionGalleryImageApproved, ActionGalleryImageRejected, ActionGalleryImageDeleted,
	ActionSystemConfigChanged, ActionBackupCreated, ActionLoginAttempt, ActionSecurityAlert,
}

// Valid reports whether a is declared above.
func (a Action) Valid() bool {
	_, ok := descriptions[a]
	return ok
}

// ParseAction accepts any casing. Unknown names are returned with ok=false.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	return a, a.Valid()
}

const maxActionLen = 64

// WellFormed reports whether a looks like an action name: a lowercase letter
// followed by lowercase letters, digits or underscores. Undeclared actions
// can be well formed; Record stores them at medium risk.
func (a Action) WellFormed() bool {
	if len(a) == 0 || len(a) > maxActionLen || a[0] < 'a' || a[0] > 'z' {
		return false
	}
	for i := 1; i < len(a); i++ {
		c := a[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// RiskLevel is derived from the action, never supplied by callers.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is one of the four levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// ParseRiskLevel normalizes s; ok is false for anything else.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// IsHigh is true for high and critical.
func (r RiskLevel) IsHigh() bool { return r == RiskHigh || r == RiskCritical }

// RiskFor maps every action to its severity. Each declared action appears in
// a case, including the ones that land on medium; anything else is medium.
func RiskFor(a Action) RiskLevel {
	switch a {
	case ActionGalleryImageUploaded, ActionLoginAttempt:
		return RiskLow
	case ActionUserUpdated, ActionEnquiryStatusChanged, ActionGalleryImageApproved:
		return RiskMedium
	case ActionUserDeleted, ActionUserBanned, ActionDesignDeleted, ActionEnquiryDeleted:
		return RiskHigh
	case ActionUserRoleChanged, ActionSystemConfigChanged, ActionSecurityAlert:
		return RiskCritical
	case ActionUserCreated, ActionUserUnbanned,
		ActionDesignApproved, ActionDesignRejected,
		ActionEnquiryAssigned, ActionEnquiryUpdated,
		ActionGalleryImageRejected, ActionGalleryImageDeleted,
		ActionBackupCreated:
		return RiskMedium
	default:
		return RiskMedium
	}
}

var descriptions = map[Action]string{
	ActionUserCreated:          "Created user account",
	ActionUserUpdated:          "Updated user information",
	ActionUserDeleted:          "Deleted user account",
	ActionUserRoleChanged:      "Changed user role",
	ActionUserBanned:           "Banned user account",
	ActionUserUnbanned:         "Unbanned user account",
	ActionDesignApproved:       "Approved design",
	ActionDesignRejected:       "Rejected design",
	ActionDesignDeleted:        "Deleted design",
	ActionEnquiryAssigned:      "Assigned enquiry",
	ActionEnquiryStatusChanged: "Changed enquiry status",
	ActionEnquiryUpdated:       "Updated enquiry",
	ActionEnquiryDeleted:       "Deleted enquiry",
	ActionGalleryImageUploaded: "Uploaded gallery image",
	ActionGalleryImageApproved: "Approved gallery image",
	ActionGalleryImageRejected: "Rejected gallery image",
	ActionGalleryImageDeleted:  "Deleted gallery image",
	ActionSystemConfigChanged:  "Changed system configuration",
	ActionBackupCreated:        "Created system backup",
	ActionLoginAttempt:         "Login attempt",
	ActionSecurityAlert:        "Security alert triggered",
}

// Description is the human label shown on dashboards.
func (a Action) Description() string {
	if d, ok := descriptions[a]; ok {
		return d
	}
	return "Performed " + strings.ReplaceAll(string(a), "_", " ")
}
