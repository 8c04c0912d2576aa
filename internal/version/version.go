package version

import (
	"runtime"
	"time"
)

// Version is overridden at build time with -ldflags "-X edgepolicy/internal/version.Version=...".
var Version = "V0.1"

type Info struct {
	Component     string `json:"component"`
	NodeID        string `json:"node_id,omitempty"`
	Version       string `json:"version"`
	GoVersion     string `json:"go_version"`
	CheckedAtUnix int64  `json:"checked_at_unix"`
}

func Get(component, nodeID string) Info {
	return Info{
		Component:     component,
		NodeID:        nodeID,
		Version:       Version,
		GoVersion:     runtime.Version(),
		CheckedAtUnix: time.Now().UTC().Unix(),
	}
}
