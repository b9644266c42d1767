package version

import (
	"strings"
	"testing"
)

func TestGetVersionPrefersLdflags(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	if got := GetVersion(); got != "v1.2.3" {
		t.Errorf("GetVersion() = %q, want v1.2.3", got)
	}
	if got := GetFullVersion(); !strings.HasPrefix(got, "v1.2.3 (commit: ") {
		t.Errorf("GetFullVersion() = %q", got)
	}
}

func TestGetVersionDev(t *testing.T) {
	if got := GetVersion(); got == "" {
		t.Error("GetVersion() returned an empty version")
	}
}
