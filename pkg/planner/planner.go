package planner

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/xeipuuv/gojsonschema"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/semver"
)

// DefaultComponents is the scope used when neither the caller nor any update
// metadata names one: the application tier and its background workers.
// Infrastructure services (database, proxy, cache) are never replaced by
// default.
var DefaultComponents = []string{"app", "worker", "worker-monitor"}

// Action is a one-shot idempotent script tied to crossing a version boundary.
type Action struct {
	Version    *semver.Version
	ScriptPath string
}

// Metadata is the declarative hint co-located with a version boundary.
type Metadata struct {
	Version    *semver.Version
	Full       bool
	Components []string
	Reason     string
}

// Plan is the raw planning result for one (current, target) transition:
// which actions to run, in order, and the merged metadata defaults.
type Plan struct {
	Actions    []Action
	Full       bool
	Components []string
	Reasons    []string
}

// RolloutPlan is the immutable intent for one invocation, assembled by the
// caller from Plan defaults and explicit overrides.
type RolloutPlan struct {
	TargetRef      string
	Full           bool
	Components     []string
	RunMigrations  bool
	NonInteractive bool
}

type PlanningError struct {
	Dir string
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning: reading %s: %v", e.Dir, e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

var actionFileRegex = regexp.MustCompile(`^([0-9]+\.[0-9]+\.[0-9]+)\.(sh|json)$`)

// metadataSchema is checked eagerly at planning time so malformed entries
// surface before any destructive step.
var metadataSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"properties": {
		"full": {"type": "boolean"},
		"components": {"type": "string"},
		"reason": {"type": "string"}
	},
	"additionalProperties": false
}`)

type metadataFile struct {
	Full       bool   `json:"full"`
	Components string `json:"components"`
	Reason     string `json:"reason"`
}

type Planner struct {
	Logger logr.Logger

	fs vfs.FS
}

type Option interface {
	SetOption(p *Planner) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(p *Planner) error {
	p.Logger = o.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(p *Planner) error {
	p.fs = o.f
	return nil
}

func New(opts ...Option) (*Planner, error) {
	p := &Planner{}

	for _, o := range opts {
		if err := o.SetOption(p); err != nil {
			return nil, err
		}
	}

	if p.Logger == nil {
		p.Logger = klogr.New()
	}

	if p.fs == nil {
		p.fs = vfs.HostOSFS
	}

	return p, nil
}

// Plan selects every action and metadata record with current < v <= target,
// at stable-tag granularity, sorted ascending. A nil current means no
// baseline is recorded: planning degrades to an empty action list with a
// warning instead of blocking the update.
func (p *Planner) Plan(current, target *semver.Version, actionsDir string) (*Plan, error) {
	if current == nil {
		p.Logger.Info("plan.no-baseline", "msg", "no installed version recorded; skipping upgrade actions")
		return &Plan{}, nil
	}

	entries, err := p.fs.ReadDir(actionsDir)
	if err != nil {
		return nil, &PlanningError{Dir: actionsDir, Err: err}
	}

	lo := semver.Stable(current)
	hi := semver.Stable(target)

	plan := &Plan{}
	var metas []Metadata

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		m := actionFileRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			p.Logger.V(1).Info("plan.scan.ignored", "file", entry.Name())
			continue
		}

		v, err := semver.Parse(m[1])
		if err != nil {
			p.Logger.Info("plan.scan.malformed", "file", entry.Name(), "err", err.Error())
			continue
		}

		if !v.GreaterThan(lo) || v.GreaterThan(hi) {
			continue
		}

		path := filepath.Join(actionsDir, entry.Name())

		switch m[2] {
		case "sh":
			plan.Actions = append(plan.Actions, Action{Version: v, ScriptPath: path})
		case "json":
			meta, err := p.loadMetadata(path, v)
			if err != nil {
				p.Logger.Info("plan.scan.malformed", "file", entry.Name(), "err", err.Error())
				continue
			}
			metas = append(metas, *meta)
		}
	}

	sort.Slice(plan.Actions, func(i, j int) bool {
		return plan.Actions[i].Version.LessThan(plan.Actions[j].Version)
	})
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Version.LessThan(metas[j].Version)
	})

	mergeMetadata(plan, metas)

	p.Logger.V(1).Info("plan.done",
		"current", current.String(), "target", target.String(),
		"actions", len(plan.Actions), "full", plan.Full, "components", plan.Components)

	return plan, nil
}

func (p *Planner) loadMetadata(path string, v *semver.Version) (*Metadata, error) {
	bytes, err := p.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}

	result, err := gojsonschema.Validate(metadataSchema, gojsonschema.NewBytesLoader(bytes))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid metadata: %v", result.Errors())
	}

	var mf metadataFile
	if err := json.Unmarshal(bytes, &mf); err != nil {
		return nil, err
	}

	meta := &Metadata{Version: v, Full: mf.Full, Reason: mf.Reason}
	for _, c := range strings.Split(mf.Components, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			meta.Components = append(meta.Components, c)
		}
	}

	return meta, nil
}

// mergeMetadata folds all in-range records into the plan: full is OR-ed,
// components are unioned in first-seen order, reasons are collected. A merged
// full=true makes the component scope irrelevant.
func mergeMetadata(plan *Plan, metas []Metadata) {
	seen := map[string]bool{}

	for _, m := range metas {
		if m.Full {
			plan.Full = true
		}
		for _, c := range m.Components {
			if !seen[c] {
				seen[c] = true
				plan.Components = append(plan.Components, c)
			}
		}
		if m.Reason != "" {
			plan.Reasons = append(plan.Reasons, m.Reason)
		}
	}

	if plan.Full {
		plan.Components = nil
	}
}
