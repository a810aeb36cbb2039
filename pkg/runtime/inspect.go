package runtime

import (
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"
)

// LiveInstances returns the ids of the running containers backing a
// component, discovered by the compose service label the way the platform's
// own monitor does. Always queried live; never cached.
func (b *Bridge) LiveInstances(component string) ([]string, error) {
	stdout, stderr, err := b.cmdSite.CaptureStrings("docker", []string{
		"ps",
		"--filter", "label=com.docker.compose.service=" + component,
		"--format", "{{.ID}}",
	})
	if err != nil {
		return nil, fmt.Errorf("docker ps: %v: %s", err, strings.TrimSpace(stderr))
	}

	var ids []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}

	return ids, nil
}

// Healthy reports whether the instance is ready to take over. Instances with
// a declared health probe must report "healthy"; instances without one count
// as healthy once their runtime status is "running".
func (b *Bridge) Healthy(id string) (bool, error) {
	stdout, stderr, err := b.cmdSite.CaptureStrings("docker", []string{"inspect", id})
	if err != nil {
		return false, fmt.Errorf("docker inspect %s: %v: %s", id, err, strings.TrimSpace(stderr))
	}

	// docker inspect emits JSON; yaml.v3 decodes it into the
	// map[string]interface{} shape jsonpath wants.
	var parsed interface{}
	if err := yaml.Unmarshal([]byte(stdout), &parsed); err != nil {
		return false, fmt.Errorf("docker inspect %s: %w", id, err)
	}

	if health, err := jsonpath.Get("$[0].State.Health.Status", parsed); err == nil {
		s, ok := health.(string)
		if !ok {
			return false, fmt.Errorf("docker inspect %s: unexpected health status %v", id, health)
		}
		return s == "healthy", nil
	}

	status, err := jsonpath.Get("$[0].State.Status", parsed)
	if err != nil {
		return false, fmt.Errorf("docker inspect %s: no state status: %v", id, err)
	}
	s, ok := status.(string)
	if !ok {
		return false, fmt.Errorf("docker inspect %s: unexpected status %v", id, status)
	}

	return s == "running", nil
}

// StopAndRemove retires one instance. Callers treat failures as best-effort:
// one stuck container must not block the rest of a retirement pass.
func (b *Bridge) StopAndRemove(id string) error {
	if _, stderr, err := b.cmdSite.CaptureStrings("docker", []string{"stop", id}); err != nil {
		return fmt.Errorf("docker stop %s: %v: %s", id, err, strings.TrimSpace(stderr))
	}

	if _, stderr, err := b.cmdSite.CaptureStrings("docker", []string{"rm", id}); err != nil {
		return fmt.Errorf("docker rm %s: %v: %s", id, err, strings.TrimSpace(stderr))
	}

	return nil
}
