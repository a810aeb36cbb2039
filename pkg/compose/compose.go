package compose

import (
	"fmt"
	"path/filepath"

	"github.com/twpayne/go-vfs"
	"gopkg.in/yaml.v3"

	"github.com/devpush/updater/pkg/envresolver"
)

// Fragment file names under <appDir>/compose.
const (
	setupBase   = "setup.yaml"
	setupDev    = "setup.dev.yaml"
	runBase     = "app.yaml"
	runDev      = "app.dev.yaml"
	runProd     = "app.prod.yaml"
	sslFragment = "ssl" // ssl/<provider>.yaml
)

// Providers is the fixed set of supported certificate-challenge backends.
// "default" is the plain HTTP challenge; the rest are DNS challenges.
var Providers = []string{"default", "cloudflare", "route53", "gcloud", "digitalocean", "azure"}

type UnknownCertProviderError struct {
	Provider string
}

func (e *UnknownCertProviderError) Error() string {
	return fmt.Sprintf("unknown certificate provider %q (supported: %v)", e.Provider, Providers)
}

// Manifests is the ordered fragment list for the resolved environment plus
// the component names those fragments define, in order of first appearance.
type Manifests struct {
	Files      []string
	Components []string
}

func (m *Manifests) HasComponent(name string) bool {
	for _, c := range m.Components {
		if c == name {
			return true
		}
	}
	return false
}

// Compose is a pure function of the resolved environment: it decides the
// fragment order, then reads only those files to learn the component set.
// No runtime or network calls.
func Compose(fsys vfs.FS, env *envresolver.Environment) (*Manifests, error) {
	if !validProvider(env.CertProvider) {
		return nil, &UnknownCertProviderError{Provider: env.CertProvider}
	}

	dir := filepath.Join(env.AppDir, "compose")

	var files []string
	switch env.Mode {
	case envresolver.ModeSetup:
		files = append(files, filepath.Join(dir, setupBase))
		if env.Dev {
			files = append(files, filepath.Join(dir, setupDev))
		}
	default:
		files = append(files, filepath.Join(dir, runBase))
		if env.Dev {
			files = append(files, filepath.Join(dir, runDev))
		} else {
			files = append(files, filepath.Join(dir, runProd))
			files = append(files, filepath.Join(dir, sslFragment, env.CertProvider+".yaml"))
		}
	}

	man := &Manifests{Files: files}

	seen := map[string]bool{}
	for _, f := range files {
		bytes, err := fsys.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading manifest fragment: %w", err)
		}

		names, err := serviceNames(bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f, err)
		}

		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				man.Components = append(man.Components, n)
			}
		}
	}

	return man, nil
}

func validProvider(p string) bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// serviceNames walks the yaml document nodes so that the services keep the
// order they are written in, which a map decode would lose.
func serviceNames(bytes []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(bytes, &doc); err != nil {
		return nil, err
	}

	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "services" {
			continue
		}
		services := root.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil, nil
		}
		var names []string
		for j := 0; j+1 < len(services.Content); j += 2 {
			names = append(names, services.Content[j].Value)
		}
		return names, nil
	}

	return nil, nil
}
