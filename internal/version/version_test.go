package version

import "testing"

func TestGet(t *testing.T) {
	info := Get("edge", "rp4-a")
	if info.Component != "edge" || info.NodeID != "rp4-a" || info.Version != Version {
		t.Fatalf("info = %+v", info)
	}
	if info.GoVersion == "" || info.CheckedAtUnix == 0 {
		t.Fatalf("runtime fields not filled: %+v", info)
	}
}
