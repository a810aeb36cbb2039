package updater

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/cmdsite"
	"github.com/devpush/updater/pkg/compose"
	"github.com/devpush/updater/pkg/envresolver"
	"github.com/devpush/updater/pkg/planner"
	"github.com/devpush/updater/pkg/releasetracker"
	"github.com/devpush/updater/pkg/rollout"
	"github.com/devpush/updater/pkg/runtime"
	"github.com/devpush/updater/pkg/semver"
	"github.com/devpush/updater/pkg/state"
	"github.com/devpush/updater/pkg/telemetry"
)

// DefaultRepo is the upstream used for the GitHub releases fallback when the
// local checkout carries no stable tag.
const DefaultRepo = "devpush-sh/devpush"

// actionsSubdir holds the version-tagged upgrade action and metadata files,
// relative to the app root.
const actionsSubdir = "scripts/updates"

// UpdateRequest carries the operator's explicit choices for one invocation.
type UpdateRequest struct {
	Ref string

	// Scope is "", "all", or "components=<csv>"; Full and Components are the
	// flag shorthands. Full is mutually exclusive with the others.
	Scope      string
	Components []string
	Full       bool

	SkipMigrations bool
	SkipTelemetry  bool
	AssumeYes      bool
	NonInteractive bool
}

// Manager wires the engine together: resolve environment, plan, confirm,
// roll out, migrate, record.
type Manager struct {
	Logger logr.Logger

	fs   vfs.FS
	cmdr cmdsite.RunCommand

	stdin  io.Reader
	stdout io.Writer

	getter            telemetry.Getter
	telemetryEndpoint string

	repo string

	pollInterval        time.Duration
	detectTimeout       time.Duration
	healthTimeout       time.Duration
	workerHealthTimeout time.Duration
}

func New(opts ...Option) (*Manager, error) {
	m := &Manager{}

	for _, o := range opts {
		if err := o.SetOption(m); err != nil {
			return nil, err
		}
	}

	if m.Logger == nil {
		m.Logger = klogr.New()
	}

	if m.fs == nil {
		m.fs = vfs.HostOSFS
	}

	if m.cmdr == nil {
		m.cmdr = cmdsite.DefaultRunCommand
	}

	if m.stdin == nil {
		m.stdin = os.Stdin
	}

	if m.stdout == nil {
		m.stdout = os.Stdout
	}

	if m.repo == "" {
		m.repo = DefaultRepo
	}

	if m.pollInterval == 0 {
		m.pollInterval = rollout.DefaultPollInterval
	}
	if m.detectTimeout == 0 {
		m.detectTimeout = rollout.DefaultDetectTimeout
	}
	if m.healthTimeout == 0 {
		m.healthTimeout = rollout.DefaultHealthTimeout
	}
	if m.workerHealthTimeout == 0 {
		m.workerHealthTimeout = rollout.DefaultWorkerHealthTimeout
	}

	return m, nil
}

// Update performs one transition from the recorded current state to the
// target. All input validation happens before anything touches the runtime.
func (m *Manager) Update(req UpdateRequest) (*rollout.Outcome, error) {
	explicitComponents, explicitFull, err := parseScope(req)
	if err != nil {
		return nil, err
	}

	resolver, err := envresolver.New(envresolver.Logger(m.Logger), envresolver.FS(m.fs))
	if err != nil {
		return nil, err
	}

	store, err := state.New(dataDirFromEnv(), state.Logger(m.Logger), state.FS(m.fs))
	if err != nil {
		return nil, err
	}

	env, err := resolver.Resolve(store)
	if err != nil {
		return nil, err
	}
	store.DataDir = env.DataDir

	man, err := compose.Compose(m.fs, env)
	if err != nil {
		return nil, err
	}

	for _, c := range explicitComponents {
		if !man.HasComponent(c) {
			return nil, &InvalidComponentError{Name: c}
		}
	}

	installed, err := store.ReadVersion()
	if err != nil {
		return nil, err
	}

	tracker, err := releasetracker.New(env.AppDir,
		releasetracker.Logger(m.Logger),
		releasetracker.Commander(m.cmdr),
		releasetracker.Repo(m.repo),
	)
	if err != nil {
		return nil, err
	}

	targetRef, err := tracker.Resolve(req.Ref)
	if err != nil {
		return nil, err
	}

	var current *semver.Version
	if installed != nil {
		if current, err = semver.Parse(installed.GitRef); err != nil {
			m.Logger.Info("update.current.unparseable", "ref", installed.GitRef)
			current = nil
		}
	}

	var target *semver.Version
	if target, err = semver.Parse(targetRef); err != nil {
		m.Logger.Info("update.target.rolling", "ref", targetRef,
			"msg", "target is not a version tag; skipping upgrade actions")
		target = nil
	}

	plan := &planner.Plan{}
	if current != nil && target != nil {
		p, err := planner.New(planner.Logger(m.Logger), planner.FS(m.fs))
		if err != nil {
			return nil, err
		}
		plan, err = p.Plan(current, target, filepath.Join(env.AppDir, actionsSubdir))
		if err != nil {
			return nil, err
		}
	}

	rp := assemblePlan(targetRef, plan, man, explicitComponents, explicitFull, req)

	for _, reason := range plan.Reasons {
		fmt.Fprintf(m.stdout, "update note: %s\n", reason)
	}

	if rp.Full {
		if err := m.confirmFull(req); err != nil {
			return nil, err
		}
	}

	if err := tracker.Fetch(); err != nil {
		// A checkout that is not a git work tree (dev installs from
		// tarballs) still gets container-level updates.
		m.Logger.Info("update.fetch.failed", "err", err.Error())
	}
	if err := tracker.Checkout(rp.TargetRef); err != nil {
		return nil, err
	}

	commit, err := tracker.Commit("HEAD")
	if err != nil {
		m.Logger.Info("update.commit.unknown", "err", err.Error())
	}

	m.runActions(env, plan.Actions)

	bridge, err := runtime.NewBridge(man.Files, runtime.Commander(m.cmdr), runtime.Logger(m.Logger))
	if err != nil {
		return nil, err
	}

	orch, err := rollout.New(bridge,
		rollout.Logger(m.Logger),
		rollout.Timeouts(m.pollInterval, m.detectTimeout, m.healthTimeout, m.workerHealthTimeout),
	)
	if err != nil {
		return nil, err
	}

	outcome := orch.Apply(rp, man)

	if outcome.Success && rp.RunMigrations && inScope(rp, man, "app") {
		if err := m.migrate(bridge); err != nil {
			outcome.Success = false
			outcome.MigrationErr = &MigrationError{Err: err}
		}
	}

	if outcome.Success {
		if err := store.WriteVersion(state.InstalledVersion{
			GitRef:    rp.TargetRef,
			GitCommit: commit,
			UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return outcome, err
		}
	}

	if !req.SkipTelemetry && os.Getenv("DEVPUSH_TELEMETRY") != "off" {
		m.reportTelemetry(store, installed, rp.TargetRef)
	}

	if !outcome.Success {
		m.printRecovery(env, installed)
		if outcome.MigrationErr != nil {
			return outcome, outcome.MigrationErr
		}
		return outcome, fmt.Errorf("update to %s failed:\n%s", rp.TargetRef, outcome.Summary())
	}

	fmt.Fprintf(m.stdout, "updated to %s\n", rp.TargetRef)

	return outcome, nil
}

// parseScope validates the mutually exclusive scope inputs and returns the
// explicit component list (nil when the operator named none).
func parseScope(req UpdateRequest) ([]string, bool, error) {
	components := append([]string{}, req.Components...)
	full := req.Full

	switch {
	case req.Scope == "" || req.Scope == "all":
		// "all" is the default subset, not every component; nothing to add.
	case strings.HasPrefix(req.Scope, "components="):
		for _, c := range strings.Split(strings.TrimPrefix(req.Scope, "components="), ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				components = append(components, c)
			}
		}
	case req.Scope == "full":
		full = true
	default:
		return nil, false, &InvalidComponentError{Reason: fmt.Sprintf("invalid scope %q", req.Scope)}
	}

	if full && (len(components) > 0 || req.Scope == "all") {
		return nil, false, &InvalidComponentError{Reason: "--full cannot be combined with a component scope"}
	}

	return components, full, nil
}

// assemblePlan merges explicit overrides, metadata defaults and the fixed
// default subset, in that order of precedence, into the immutable plan.
func assemblePlan(targetRef string, plan *planner.Plan, man *compose.Manifests, explicit []string, explicitFull bool, req UpdateRequest) *planner.RolloutPlan {
	rp := &planner.RolloutPlan{
		TargetRef:      targetRef,
		RunMigrations:  !req.SkipMigrations,
		NonInteractive: req.NonInteractive,
	}

	switch {
	case explicitFull:
		rp.Full = true
	case len(explicit) > 0:
		rp.Components = explicit
	case plan.Full:
		rp.Full = true
	case len(plan.Components) > 0:
		rp.Components = intersect(plan.Components, man)
	default:
		rp.Components = intersect(planner.DefaultComponents, man)
	}

	return rp
}

// intersect drops defaulted names the current manifest set does not define;
// only explicitly requested names are hard errors.
func intersect(names []string, man *compose.Manifests) []string {
	var out []string
	for _, n := range names {
		if man.HasComponent(n) {
			out = append(out, n)
		}
	}
	return out
}

func inScope(rp *planner.RolloutPlan, man *compose.Manifests, component string) bool {
	if rp.Full {
		return man.HasComponent(component)
	}
	for _, c := range rp.Components {
		if c == component {
			return true
		}
	}
	return false
}

func (m *Manager) confirmFull(req UpdateRequest) error {
	if req.AssumeYes {
		return nil
	}

	if req.NonInteractive {
		return &ConfirmationRequiredError{}
	}

	fmt.Fprint(m.stdout, "This update recreates the full stack and causes downtime. Continue? [y/N]: ")

	scanner := bufio.NewScanner(m.stdin)
	if !scanner.Scan() {
		return &ConfirmationRequiredError{}
	}

	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return nil
	}

	return &ConfirmationRequiredError{}
}

// runActions executes the planned upgrade actions in ascending order. They
// are best-effort environment fixups: a failure is logged and the update
// continues, and the version record still only advances on overall success.
func (m *Manager) runActions(env *envresolver.Environment, actions []planner.Action) {
	if len(actions) == 0 {
		return
	}

	site := cmdsite.New()
	site.RunCmd = m.cmdr
	site.Env = map[string]string{
		"DEVPUSH_APP_DIR":  env.AppDir,
		"DEVPUSH_DATA_DIR": env.DataDir,
	}

	for _, a := range actions {
		m.Logger.Info("update.action.run", "version", a.Version.String(), "script", a.ScriptPath)
		if err := site.Stream("bash", []string{a.ScriptPath}); err != nil {
			m.Logger.Info("update.action.failed", "script", a.ScriptPath, "err", err.Error())
		}
	}
}

// migrate delegates to the platform's schema-migration step inside the app
// container. Opaque to this engine beyond success or failure.
func (m *Manager) migrate(bridge *runtime.Bridge) error {
	_, err := bridge.Run(runtime.Invocation{
		Sub:         runtime.Exec,
		ExecService: "app",
		ExecArgs:    []string{"alembic", "upgrade", "head"},
	})
	return err
}

func (m *Manager) reportTelemetry(store *state.Store, previous *state.InstalledVersion, targetRef string) {
	installed, err := store.ReadVersion()
	if err != nil || installed == nil {
		return
	}

	from := ""
	if previous != nil {
		from = previous.GitRef
	}

	reporter := telemetry.NewReporter(m.telemetryEndpoint, m.getter, m.Logger)
	reporter.Ping(installed.InstallID, from, targetRef)
}

func (m *Manager) printRecovery(env *envresolver.Environment, previous *state.InstalledVersion) {
	if previous == nil || previous.GitCommit == "" {
		return
	}
	fmt.Fprintf(m.stdout, "the previous version is still recorded; to roll the source tree back:\n")
	fmt.Fprintf(m.stdout, "  git -C %s checkout %s && devpush-update\n", env.AppDir, previous.GitCommit)
}

func dataDirFromEnv() string {
	if dir := os.Getenv("DEVPUSH_DATA_DIR"); dir != "" {
		return dir
	}
	return envresolver.DefaultDataDir
}
