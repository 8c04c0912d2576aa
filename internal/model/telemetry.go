package model

// Telemetry is the metrics payload an edge node reports once per cycle.
// Field order follows the sorted key order of the canonical encoding.
type Telemetry struct {
	CPU            float64 `json:"cpu"`
	CurrentProfile Profile `json:"current_profile"`
	RAM            float64 `json:"ram"`
	SourceIP       string  `json:"source_ip"`
	SourcePort     int     `json:"source_port"`
	Traffic        string  `json:"traffic"`
}
