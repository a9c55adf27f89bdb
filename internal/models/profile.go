package models

// Profile is the minimal user identity used to enrich conversation summaries.
// Full profile management lives outside this service.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
