package model

import (
	"errors"
	"fmt"
)

// Profile is the policy class assigned to an edge node for one cycle.
type Profile string

const (
	ProfileIdle         Profile = "Idle"
	ProfileLowActivity  Profile = "Low Activity"
	ProfileHighActivity Profile = "High Activity"
	ProfileCriticalTask Profile = "Critical Task"
)

var ErrUnknownProfile = errors.New("unknown profile")

var profileTokens = map[Profile]string{
	ProfileIdle:         "idle",
	ProfileLowActivity:  "low",
	ProfileHighActivity: "high",
	ProfileCriticalTask: "critical",
}

func AllProfiles() []Profile {
	return []Profile{ProfileIdle, ProfileLowActivity, ProfileHighActivity, ProfileCriticalTask}
}

func ParseProfile(raw string) (Profile, error) {
	p := Profile(raw)
	if _, ok := profileTokens[p]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownProfile, raw)
	}
	return p, nil
}

func (p Profile) Valid() bool {
	_, ok := profileTokens[p]
	return ok
}

// Token is the lowercase argument passed to the firewall script.
func (p Profile) Token() string {
	return profileTokens[p]
}

func (p Profile) String() string {
	return string(p)
}
