package compose

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/twpayne/go-vfs/vfst"

	"github.com/devpush/updater/pkg/envresolver"
)

const baseFragment = `services:
  app:
    image: devpush/app
  worker:
    image: devpush/app
  worker-monitor:
    image: devpush/app
  traefik:
    image: traefik:v3
  loki:
    image: grafana/loki
  redis:
    image: redis:7
  postgres:
    image: postgres:16
  docker-proxy:
    image: tecnativa/docker-socket-proxy
`

const prodFragment = `services:
  app:
    restart: always
`

const sslFragmentYAML = `services:
  traefik:
    environment:
      - CF_DNS_API_TOKEN
`

func testFS(t *testing.T) (*vfst.TestFS, func()) {
	t.Helper()
	fs, clean, err := vfst.NewTestFS(map[string]interface{}{
		"/srv/devpush/compose/app.yaml":            baseFragment,
		"/srv/devpush/compose/app.dev.yaml":        prodFragment,
		"/srv/devpush/compose/app.prod.yaml":       prodFragment,
		"/srv/devpush/compose/ssl/cloudflare.yaml": sslFragmentYAML,
		"/srv/devpush/compose/setup.yaml":          "services:\n  app:\n    image: devpush/app\n",
		"/srv/devpush/compose/setup.dev.yaml":      "services:\n  app:\n    ports: []\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	return fs, clean
}

func TestCompose_RunProd(t *testing.T) {
	fs, clean := testFS(t)
	defer clean()

	man, err := Compose(fs, &envresolver.Environment{
		Mode:         envresolver.ModeRun,
		AppDir:       "/srv/devpush",
		CertProvider: "cloudflare",
	})
	if err != nil {
		t.Fatal(err)
	}

	expectedFiles := []string{
		"/srv/devpush/compose/app.yaml",
		"/srv/devpush/compose/app.prod.yaml",
		"/srv/devpush/compose/ssl/cloudflare.yaml",
	}
	if diff := cmp.Diff(expectedFiles, man.Files); diff != "" {
		t.Errorf("unexpected fragments:\n%s", diff)
	}

	expectedComponents := []string{"app", "worker", "worker-monitor", "traefik", "loki", "redis", "postgres", "docker-proxy"}
	if diff := cmp.Diff(expectedComponents, man.Components); diff != "" {
		t.Errorf("unexpected components:\n%s", diff)
	}
}

func TestCompose_RunDev(t *testing.T) {
	fs, clean := testFS(t)
	defer clean()

	man, err := Compose(fs, &envresolver.Environment{
		Mode:         envresolver.ModeRun,
		Dev:          true,
		AppDir:       "/srv/devpush",
		CertProvider: "default",
	})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{
		"/srv/devpush/compose/app.yaml",
		"/srv/devpush/compose/app.dev.yaml",
	}
	if diff := cmp.Diff(expected, man.Files); diff != "" {
		t.Errorf("unexpected fragments:\n%s", diff)
	}
}

func TestCompose_Setup(t *testing.T) {
	fs, clean := testFS(t)
	defer clean()

	man, err := Compose(fs, &envresolver.Environment{
		Mode:         envresolver.ModeSetup,
		Dev:          true,
		AppDir:       "/srv/devpush",
		CertProvider: "default",
	})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{
		"/srv/devpush/compose/setup.yaml",
		"/srv/devpush/compose/setup.dev.yaml",
	}
	if diff := cmp.Diff(expected, man.Files); diff != "" {
		t.Errorf("unexpected fragments:\n%s", diff)
	}
}

func TestCompose_UnknownProviderRejectedBeforeFileAccess(t *testing.T) {
	// No fragment files at all: the provider must be rejected first.
	fs, clean, err := vfst.NewTestFS(map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	defer clean()

	_, err = Compose(fs, &envresolver.Environment{
		Mode:         envresolver.ModeRun,
		AppDir:       "/srv/devpush",
		CertProvider: "letsencrypt-dyndns",
	})

	var unknownErr *UnknownCertProviderError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownCertProviderError, got %v", err)
	}
	if unknownErr.Provider != "letsencrypt-dyndns" {
		t.Errorf("unexpected provider in error: %q", unknownErr.Provider)
	}
}
