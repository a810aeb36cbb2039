package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/twpayne/go-vfs/vfst"
)

func TestWriteVersion_PreservesUnknownFields(t *testing.T) {
	files := map[string]interface{}{
		"/var/lib/devpush/version.json": `{
  "install_id": "abc123",
  "git_ref": "v0.4.3",
  "git_commit": "deadbeef",
  "arch": "amd64",
  "distro": "ubuntu",
  "distro_version": "24.04"
}`,
	}
	fs, clean, err := vfst.NewTestFS(files)
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	store, err := New("/var/lib/devpush", FS(fs))
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if err := store.WriteVersion(InstalledVersion{
		GitRef:    "v0.4.5",
		GitCommit: "cafef00d",
		UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	v, err := store.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v.GitRef != "v0.4.5" || v.GitCommit != "cafef00d" {
		t.Errorf("unexpected record: %+v", v)
	}
	if v.InstallID != "abc123" {
		t.Errorf("install id must never change: got %q", v.InstallID)
	}
	if !v.UpdatedAt.Equal(now) {
		t.Errorf("unexpected updated_at: %v", v.UpdatedAt)
	}

	raw, err := fs.ReadFile("/var/lib/devpush/version.json")
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m["arch"] != "amd64" || m["distro"] != "ubuntu" || m["distro_version"] != "24.04" {
		t.Errorf("unrelated fields not preserved: %v", m)
	}
}

func TestWriteVersion_GeneratesInstallIDOnce(t *testing.T) {
	fs, clean, err := vfst.NewTestFS(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	store, err := New("/var/lib/devpush", FS(fs))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.WriteVersion(InstalledVersion{GitRef: "v0.1.0"}); err != nil {
		t.Fatal(err)
	}
	first, err := store.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if first.InstallID == "" {
		t.Fatal("expected a generated install id")
	}

	if err := store.WriteVersion(InstalledVersion{GitRef: "v0.2.0"}); err != nil {
		t.Fatal(err)
	}
	second, err := store.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if second.InstallID != first.InstallID {
		t.Errorf("install id changed across writes: %q -> %q", first.InstallID, second.InstallID)
	}
}

func TestReadVersion_MissingIsNotAnError(t *testing.T) {
	fs, clean, err := vfst.NewTestFS(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	store, err := New("/var/lib/devpush", FS(fs))
	if err != nil {
		t.Fatal(err)
	}

	v, err := store.ReadVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("expected nil record, got %+v", v)
	}
}

func TestWriteConfig_Merges(t *testing.T) {
	files := map[string]interface{}{
		"/var/lib/devpush/config.json": `{"setup_complete": true, "ssl_provider": "cloudflare", "public_ip": "203.0.113.9"}`,
	}
	fs, clean, err := vfst.NewTestFS(files)
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	store, err := New("/var/lib/devpush", FS(fs))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.WriteConfig(map[string]interface{}{"service_user": "devpush", "service_uid": 998, "service_gid": 998}); err != nil {
		t.Fatal(err)
	}

	c, err := store.ReadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !c.SetupComplete || c.SSLProvider != "cloudflare" || c.PublicIP != "203.0.113.9" {
		t.Errorf("prior fields lost: %+v", c)
	}
	if c.ServiceUser != "devpush" || c.ServiceUID != 998 || c.ServiceGID != 998 {
		t.Errorf("patch not applied: %+v", c)
	}
}
