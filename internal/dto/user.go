package dto

// ReplaceRolesRequest is the body of PUT /admin/users/roles.
type ReplaceRolesRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,dive,required"`
	Role    string   `json:"role" validate:"required,oneof=STUDENT INSTRUCTOR ADMIN"`
}

// SweepResponse reports one archival pass.
type SweepResponse struct {
	Cutoff       string `json:"cutoff"`
	StaleReports int    `json:"stale_reports"`
	MarksCreated int64  `json:"marks_created"`
}
