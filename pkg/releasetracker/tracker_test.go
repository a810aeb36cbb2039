package releasetracker

import (
	"testing"

	"github.com/devpush/updater/pkg/cmdsite"
)

func TestResolve_ExplicitWins(t *testing.T) {
	tracker, err := New("/srv/devpush", Commander(cmdsite.NewTester(nil)))
	if err != nil {
		t.Fatal(err)
	}

	ref, err := tracker.Resolve("v0.4.5-rc.1")
	if err != nil {
		t.Fatal(err)
	}
	if ref != "v0.4.5-rc.1" {
		t.Errorf("expected explicit ref, got %q", ref)
	}
}

func TestResolve_HighestStableLocalTag(t *testing.T) {
	expectations := map[cmdsite.CommandInput]cmdsite.CommandOutput{
		cmdsite.NewInput("git", []string{"-C", "/srv/devpush", "tag", "--list"}): {
			Stdout: "v0.4.3\nv0.4.5\nv0.5.0-rc.1\nv0.4.4\nnightly\n",
		},
	}

	tracker, err := New("/srv/devpush", Commander(cmdsite.NewTester(expectations)))
	if err != nil {
		t.Fatal(err)
	}

	ref, err := tracker.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if ref != "v0.4.5" {
		t.Errorf("expected v0.4.5 (highest stable), got %q", ref)
	}
}

func TestResolve_FallsBackToRollingBranch(t *testing.T) {
	expectations := map[cmdsite.CommandInput]cmdsite.CommandOutput{
		cmdsite.NewInput("git", []string{"-C", "/srv/devpush", "tag", "--list"}): {
			Stdout: "\n",
		},
	}

	// Repo left empty so the GitHub fallback is skipped.
	tracker, err := New("/srv/devpush", Commander(cmdsite.NewTester(expectations)))
	if err != nil {
		t.Fatal(err)
	}

	ref, err := tracker.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if ref != DefaultBranch {
		t.Errorf("expected %q, got %q", DefaultBranch, ref)
	}
}

func TestCommit(t *testing.T) {
	expectations := map[cmdsite.CommandInput]cmdsite.CommandOutput{
		cmdsite.NewInput("git", []string{"-C", "/srv/devpush", "rev-parse", "v0.4.5"}): {
			Stdout: "cafef00d\n",
		},
	}

	tracker, err := New("/srv/devpush", Commander(cmdsite.NewTester(expectations)))
	if err != nil {
		t.Fatal(err)
	}

	commit, err := tracker.Commit("v0.4.5")
	if err != nil {
		t.Fatal(err)
	}
	if commit != "cafef00d" {
		t.Errorf("expected trimmed commit id, got %q", commit)
	}
}
