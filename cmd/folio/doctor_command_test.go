package main

import (
	"os"
	"testing"

	"folio/internal/testsupport"
)

func TestDoctorPassesWithWritableDirectories(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithPageStore())

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "State directory")
	requireContains(t, out, "Page store")
	requireContains(t, out, "ok")
}

func TestDoctorFailsOnUnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chmod(env.cfg.Paths.StateDir, 0o500); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(env.cfg.Paths.StateDir, 0o755) })

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err == nil {
		t.Fatalf("expected doctor to fail, output:\n%s", out)
	}
	requireContains(t, out, "FAIL")
}
