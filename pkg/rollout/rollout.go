package rollout

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/compose"
	"github.com/devpush/updater/pkg/planner"
	"github.com/devpush/updater/pkg/poll"
	"github.com/devpush/updater/pkg/runtime"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultDetectTimeout = 30 * time.Second
	DefaultHealthTimeout = 90 * time.Second

	// Worker components drain running jobs before reporting healthy, so
	// they get a far longer bound.
	DefaultWorkerHealthTimeout = 10 * time.Minute
)

type ComponentResult struct {
	Component string
	Err       error
}

type Outcome struct {
	Success      bool
	PerComponent []ComponentResult

	// MigrationErr is filled by the caller after the container rollout.
	MigrationErr error
}

// Orchestrator executes a rollout plan against the container runtime:
// either one full stop/rebuild/start cycle, or a per-component blue-green
// replacement. Components are always replaced sequentially; a stuck
// component cannot corrupt another's state.
type Orchestrator struct {
	Bridge *runtime.Bridge

	Logger logr.Logger

	PollInterval        time.Duration
	DetectTimeout       time.Duration
	HealthTimeout       time.Duration
	WorkerHealthTimeout time.Duration
}

type Option interface {
	SetOption(o *Orchestrator) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(r *Orchestrator) error {
	r.Logger = o.l
	return nil
}

func Timeouts(pollInterval, detect, health, workerHealth time.Duration) Option {
	return &timeoutsOption{pi: pollInterval, d: detect, h: health, wh: workerHealth}
}

type timeoutsOption struct {
	pi, d, h, wh time.Duration
}

func (o *timeoutsOption) SetOption(r *Orchestrator) error {
	r.PollInterval = o.pi
	r.DetectTimeout = o.d
	r.HealthTimeout = o.h
	r.WorkerHealthTimeout = o.wh
	return nil
}

func New(bridge *runtime.Bridge, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{Bridge: bridge}

	for _, opt := range opts {
		if err := opt.SetOption(o); err != nil {
			return nil, err
		}
	}

	if o.Logger == nil {
		o.Logger = klogr.New()
	}

	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DetectTimeout == 0 {
		o.DetectTimeout = DefaultDetectTimeout
	}
	if o.HealthTimeout == 0 {
		o.HealthTimeout = DefaultHealthTimeout
	}
	if o.WorkerHealthTimeout == 0 {
		o.WorkerHealthTimeout = DefaultWorkerHealthTimeout
	}

	return o, nil
}

// Apply executes the plan. A per-component failure aborts the remaining
// components but never rolls back those already replaced.
func (o *Orchestrator) Apply(plan *planner.RolloutPlan, man *compose.Manifests) *Outcome {
	if plan.Full {
		return o.applyFull(man)
	}

	outcome := &Outcome{Success: true}

	for _, component := range plan.Components {
		o.Logger.Info("rollout.component.begin", "component", component)

		err := o.replaceComponent(component)
		outcome.PerComponent = append(outcome.PerComponent, ComponentResult{Component: component, Err: err})

		if err != nil {
			o.Logger.Error(err, "rollout.component.failed", "component", component)
			outcome.Success = false
			break
		}

		o.Logger.Info("rollout.component.done", "component", component)
	}

	return outcome
}

// applyFull runs the outage path: Building happens first so a build failure
// never leaves the instance stopped; Down drops orphaned components from
// older manifest sets; the final health gate keeps a broken stack from being
// recorded as a success.
func (o *Orchestrator) applyFull(man *compose.Manifests) *Outcome {
	outcome := &Outcome{}

	if _, err := o.Bridge.Run(runtime.Invocation{Sub: runtime.Build}); err != nil {
		outcome.PerComponent = []ComponentResult{{Component: "stack", Err: &BuildError{Component: "stack", Err: err}}}
		return outcome
	}

	if _, err := o.Bridge.Run(runtime.Invocation{Sub: runtime.Down, RemoveOrphans: true}); err != nil {
		outcome.PerComponent = []ComponentResult{{Component: "stack", Err: err}}
		return outcome
	}

	if _, err := o.Bridge.Run(runtime.Invocation{Sub: runtime.Up, ForceRecreate: true}); err != nil {
		outcome.PerComponent = []ComponentResult{{Component: "stack", Err: err}}
		return outcome
	}

	outcome.Success = true

	for _, component := range man.Components {
		err := o.awaitComponentHealthy(component)
		outcome.PerComponent = append(outcome.PerComponent, ComponentResult{Component: component, Err: err})
		if err != nil {
			o.Logger.Error(err, "rollout.full.unhealthy", "component", component)
			outcome.Success = false
			break
		}
	}

	return outcome
}

func (o *Orchestrator) awaitComponentHealthy(component string) error {
	var lastID string

	err := poll.Until(o.PollInterval, o.healthTimeout(component), func() (bool, error) {
		ids, err := o.Bridge.LiveInstances(component)
		if err != nil {
			return false, err
		}
		for _, id := range ids {
			lastID = id
			healthy, err := o.Bridge.Healthy(id)
			if err != nil {
				return false, err
			}
			if healthy {
				return true, nil
			}
		}
		return false, nil
	})

	if err == poll.ErrTimedOut {
		return &HealthTimeoutError{Component: component, InstanceID: lastID}
	}

	return err
}

// replaceComponent is the blue-green state machine for one component:
// record old ids, build, scale up by one, detect the new instance by diffing
// live ids, await its health, retire the old ids, normalize the scale.
func (o *Orchestrator) replaceComponent(component string) error {
	oldIDs, err := o.Bridge.LiveInstances(component)
	if err != nil {
		return err
	}

	steady := len(oldIDs)
	if steady == 0 {
		steady = 1
	}

	if _, err := o.Bridge.Run(runtime.Invocation{Sub: runtime.Build, Services: []string{component}}); err != nil {
		return &BuildError{Component: component, Err: err}
	}

	if _, err := o.Bridge.Run(runtime.Invocation{
		Sub:         runtime.Scale,
		Services:    []string{component},
		ScaleCounts: map[string]int{component: steady + 1},
	}); err != nil {
		return err
	}

	newID, err := o.detectNewInstance(component, oldIDs)
	if err != nil {
		return err
	}

	o.Logger.V(1).Info("rollout.detected", "component", component, "id", newID)

	if err := o.awaitInstanceHealthy(component, newID); err != nil {
		return err
	}

	// Only reached after the replacement is confirmed healthy. Each removal
	// is best-effort so one stuck container does not block the others.
	for _, id := range oldIDs {
		if err := o.Bridge.StopAndRemove(id); err != nil {
			o.Logger.Error(err, "rollout.retire.failed", "component", component, "id", id)
		}
	}

	if _, err := o.Bridge.Run(runtime.Invocation{
		Sub:         runtime.Scale,
		Services:    []string{component},
		ScaleCounts: map[string]int{component: steady},
	}); err != nil {
		return err
	}

	return nil
}

// detectNewInstance diffs live ids against the pre-scale set on every poll,
// so a runtime that reuses ids after removal can never alias an old
// instance into a "new" one.
func (o *Orchestrator) detectNewInstance(component string, oldIDs []string) (string, error) {
	old := map[string]bool{}
	for _, id := range oldIDs {
		old[id] = true
	}

	var newID string

	err := poll.Until(o.PollInterval, o.DetectTimeout, func() (bool, error) {
		live, err := o.Bridge.LiveInstances(component)
		if err != nil {
			return false, err
		}
		for _, id := range live {
			if !old[id] {
				newID = id
				return true, nil
			}
		}
		return false, nil
	})

	if err == poll.ErrTimedOut {
		return "", &DetectionTimeoutError{Component: component}
	}
	if err != nil {
		return "", err
	}

	return newID, nil
}

func (o *Orchestrator) awaitInstanceHealthy(component, id string) error {
	err := poll.Until(o.PollInterval, o.healthTimeout(component), func() (bool, error) {
		return o.Bridge.Healthy(id)
	})

	if err == poll.ErrTimedOut {
		return &HealthTimeoutError{Component: component, InstanceID: id}
	}

	return err
}

func (o *Orchestrator) healthTimeout(component string) time.Duration {
	if strings.HasPrefix(component, "worker") {
		return o.WorkerHealthTimeout
	}
	return o.HealthTimeout
}

// Summary renders the per-component results for the operator.
func (out *Outcome) Summary() string {
	var b strings.Builder
	for _, r := range out.PerComponent {
		if r.Err != nil {
			fmt.Fprintf(&b, "%s: failed: %v\n", r.Component, r.Err)
		} else {
			fmt.Fprintf(&b, "%s: ok\n", r.Component)
		}
	}
	return b.String()
}
