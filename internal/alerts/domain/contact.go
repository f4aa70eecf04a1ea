package alerts

// Recipient is someone who should hear about a new alert for a house.
// Channel fields are optional; a channel without its field is skipped.
type Recipient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	PushToken string `json:"push_token,omitempty"`
}
