package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/cmdsite"
)

type Subcommand int

const (
	Build Subcommand = iota
	Up
	Down
	Stop
	Scale
	Exec
)

// Invocation is the typed form of one compose call. It is rendered to a
// structured argv; no shell string interpolation anywhere.
type Invocation struct {
	Sub Subcommand

	Services []string

	// ScaleCounts sets --scale service=count pairs on Up.
	ScaleCounts map[string]int

	ForceRecreate bool
	RemoveOrphans bool
	NoRecreate    bool
	NoDeps        bool

	// ExecService/ExecArgs apply to Exec only.
	ExecService string
	ExecArgs    []string
}

// Bridge executes typed invocations against the container runtime for a
// fixed ordered manifest fragment list.
type Bridge struct {
	Files []string

	Logger logr.Logger

	cmdSite *cmdsite.CommandSite
}

type Option interface {
	SetOption(b *Bridge) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(b *Bridge) error {
	b.Logger = o.l
	return nil
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return &cmdrOption{cmdr: cmdr}
}

type cmdrOption struct {
	cmdr cmdsite.RunCommand
}

func (o *cmdrOption) SetOption(b *Bridge) error {
	b.cmdSite.RunCmd = o.cmdr
	return nil
}

func NewBridge(files []string, opts ...Option) (*Bridge, error) {
	b := &Bridge{
		Files:   files,
		cmdSite: cmdsite.New(),
	}

	for _, o := range opts {
		if err := o.SetOption(b); err != nil {
			return nil, err
		}
	}

	if b.cmdSite.RunCmd == nil {
		b.cmdSite.RunCmd = cmdsite.DefaultRunCommand
	}

	if b.Logger == nil {
		b.Logger = klogr.New()
	}

	return b, nil
}

// Run executes the invocation and returns captured stdout. The error carries
// captured stderr; the caller decides whether it is fatal.
func (b *Bridge) Run(inv Invocation) (string, error) {
	args := b.args(inv)

	b.Logger.V(1).Info("runtime.run", "args", strings.Join(args, " "))

	stdout, stderr, err := b.cmdSite.CaptureStrings("docker", args)
	if err != nil {
		return stdout, fmt.Errorf("docker %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr))
	}

	return stdout, nil
}

func (b *Bridge) args(inv Invocation) []string {
	args := []string{"compose"}
	for _, f := range b.Files {
		args = append(args, "-f", f)
	}

	switch inv.Sub {
	case Build:
		args = append(args, "build")
		args = append(args, inv.Services...)
	case Up:
		args = append(args, "up", "-d")
		if inv.ForceRecreate {
			args = append(args, "--force-recreate")
		}
		if inv.NoRecreate {
			args = append(args, "--no-recreate")
		}
		if inv.NoDeps {
			args = append(args, "--no-deps")
		}
		if inv.RemoveOrphans {
			args = append(args, "--remove-orphans")
		}
		for _, svc := range sortedKeys(inv.ScaleCounts) {
			args = append(args, "--scale", fmt.Sprintf("%s=%d", svc, inv.ScaleCounts[svc]))
		}
		args = append(args, inv.Services...)
	case Down:
		args = append(args, "down")
		if inv.RemoveOrphans {
			args = append(args, "--remove-orphans")
		}
	case Stop:
		args = append(args, "stop")
		args = append(args, inv.Services...)
	case Scale:
		// Scaling never recreates the instances that are already serving.
		args = append(args, "up", "-d", "--no-recreate", "--no-deps")
		for _, svc := range sortedKeys(inv.ScaleCounts) {
			args = append(args, "--scale", fmt.Sprintf("%s=%d", svc, inv.ScaleCounts[svc]))
		}
		args = append(args, inv.Services...)
	case Exec:
		args = append(args, "exec", "-T", inv.ExecService)
		args = append(args, inv.ExecArgs...)
	}

	return args
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
