package profileapi

import "time"

type ListProfilesRequest struct{}

type ListProfilesResponse struct {
	Entries []ProfileEntry `json:"entries"`
}

type GetProfileRequest struct {
	SourceIP string `json:"source_ip"`
}

type ProfileEntry struct {
	SourceIP  string    `json:"source_ip"`
	Profile   string    `json:"profile"`
	CPU       float64   `json:"cpu"`
	RAM       float64   `json:"ram"`
	Traffic   string    `json:"traffic"`
	Peer      string    `json:"peer"`
	UpdatedAt time.Time `json:"updated_at"`
}
