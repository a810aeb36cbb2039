package cmdsite

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"k8s.io/klog"
)

type RunCommand func(name string, args []string, stdout, stderr io.Writer, env map[string]string) error

// CommandSite is the single execution primitive of the engine. Every call to
// git, docker and upgrade-action scripts goes through it, so tests can swap
// RunCmd for a fake. Callers decide whether a failure is fatal or merely
// logged; there is no separate best-effort wrapper.
type CommandSite struct {
	RunCmd RunCommand

	Env map[string]string
}

func New() *CommandSite {
	return &CommandSite{
		RunCmd: nil,
		Env:    map[string]string{},
	}
}

func DefaultRunCommand(name string, args []string, stdout, stderr io.Writer, env map[string]string) error {
	cmd := exec.Command(name, args...)
	vars := os.Environ()
	for n, v := range env {
		vars = append(vars, fmt.Sprintf("%s=%s", n, v))
	}
	cmd.Env = vars
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	return cmd.Run()
}

func (s *CommandSite) RunCommand(cmd string, args []string, stdout, stderr io.Writer) error {
	return s.RunCmd(cmd, args, stdout, stderr, s.Env)
}

// Stream runs the command inheriting the process stdio. Used for
// upgrade-action scripts whose output the operator should see as it happens.
func (s *CommandSite) Stream(binary string, args []string) error {
	klog.V(1).Infof("streaming %s %s", binary, strings.Join(args, " "))
	return s.RunCommand(binary, args, os.Stdout, os.Stderr)
}

func (r *CommandSite) CaptureStrings(binary string, args []string) (string, string, error) {
	stdout, stderr, err := r.CaptureBytes(binary, args)

	var so, se string

	if stdout != nil {
		so = string(stdout)
	}

	if stderr != nil {
		se = string(stderr)
	}

	return so, se, err
}

func (r *CommandSite) CaptureBytes(binary string, args []string) ([]byte, []byte, error) {
	klog.V(1).Infof("running %s %s", binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	err := r.RunCommand(binary, args, &stdout, &stderr)
	if err != nil {
		klog.V(1).Info(stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
