package envresolver

import (
	"errors"
	"os/user"
	"testing"

	"github.com/twpayne/go-vfs/vfst"

	"github.com/devpush/updater/pkg/state"
)

func newStore(t *testing.T, files map[string]interface{}) (*state.Store, func()) {
	t.Helper()
	fs, clean, err := vfst.NewTestFS(files)
	if err != nil {
		t.Fatal(err)
	}
	store, err := state.New("/var/lib/devpush", state.FS(fs))
	if err != nil {
		clean()
		t.Fatal(err)
	}
	return store, clean
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestResolve_DevelopmentOverride(t *testing.T) {
	store, clean := newStore(t, map[string]interface{}{})
	defer clean()

	fs, cleanFS, err := vfst.NewTestFS(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanFS()

	r, err := New(FS(fs), Getenv(env(map[string]string{"DEVPUSH_ENV": "development"})))
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.Resolve(store)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Dev {
		t.Error("expected dev mode")
	}
	if got.Mode != ModeSetup {
		t.Errorf("expected setup mode before setup_complete, got %s", got.Mode)
	}
	if got.AppDir != DefaultAppDir || got.DataDir != DefaultDataDir {
		t.Errorf("unexpected roots: %+v", got)
	}
	if got.CertProvider != "default" {
		t.Errorf("expected default cert provider, got %q", got.CertProvider)
	}
}

func TestResolve_ProductionFromMarkerAndConfigIdentity(t *testing.T) {
	store, clean := newStore(t, map[string]interface{}{
		"/var/lib/devpush/config.json": `{"setup_complete": true, "ssl_provider": "route53", "service_user": "devpush", "service_uid": 998, "service_gid": 997}`,
	})
	defer clean()

	fs, cleanFS, err := vfst.NewTestFS(map[string]interface{}{
		ServiceUnitPath: "[Unit]\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanFS()

	r, err := New(FS(fs), Getenv(env(nil)))
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.Resolve(store)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dev {
		t.Error("expected production mode")
	}
	if got.Mode != ModeRun {
		t.Errorf("expected run mode, got %s", got.Mode)
	}
	if got.CertProvider != "route53" {
		t.Errorf("expected cert provider from config, got %q", got.CertProvider)
	}
	if got.ServiceUser != "devpush" || got.UID != 998 || got.GID != 997 {
		t.Errorf("unexpected identity: %+v", got)
	}
}

func TestResolve_ProductionWithoutIdentityFails(t *testing.T) {
	store, clean := newStore(t, map[string]interface{}{
		"/var/lib/devpush/config.json": `{"setup_complete": true}`,
	})
	defer clean()

	fs, cleanFS, err := vfst.NewTestFS(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanFS()

	r, err := New(
		FS(fs),
		Getenv(env(map[string]string{"DEVPUSH_ENV": "production"})),
		LookupUser(func(string) (*user.User, error) {
			return nil, errors.New("unknown user")
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Resolve(store)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestResolve_SSLProviderEnvOverridesConfig(t *testing.T) {
	store, clean := newStore(t, map[string]interface{}{
		"/var/lib/devpush/config.json": `{"setup_complete": true, "ssl_provider": "route53"}`,
	})
	defer clean()

	fs, cleanFS, err := vfst.NewTestFS(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	defer cleanFS()

	r, err := New(FS(fs), Getenv(env(map[string]string{
		"DEVPUSH_ENV":          "development",
		"DEVPUSH_SSL_PROVIDER": "cloudflare",
		"DEVPUSH_APP_DIR":      "/home/me/devpush",
	})))
	if err != nil {
		t.Fatal(err)
	}

	got, err := r.Resolve(store)
	if err != nil {
		t.Fatal(err)
	}
	if got.CertProvider != "cloudflare" {
		t.Errorf("expected env override to win, got %q", got.CertProvider)
	}
	if got.AppDir != "/home/me/devpush" {
		t.Errorf("expected app dir override, got %q", got.AppDir)
	}
}
