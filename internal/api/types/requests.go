package types

type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

// ProjectRequest is used for both create and update. Interval is in seconds.
type ProjectRequest struct {
	Name         string `json:"name" validate:"required"`
	SystemPrompt string `json:"systemPrompt" validate:"required"`
	UserPrompt   string `json:"userPrompt" validate:"required"`
	SiteCount    int    `json:"siteCount" validate:"required,gte=1"`
	Interval     int    `json:"interval" validate:"required,gte=1"`
}
