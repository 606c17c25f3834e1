package browsertest

import (
	"os"
	"os/exec"
	"testing"
)

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// Chrome returns a Chrome binary for tests that drive a real browser, or
// skips the test. ANSWERBOT_CHROME takes precedence over PATH lookup.
func Chrome(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("real browser tests are skipped in short mode")
	}
	if path := os.Getenv("ANSWERBOT_CHROME"); path != "" {
		return path
	}
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary found")
	return ""
}
