package updater

import (
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"

	"github.com/devpush/updater/pkg/cmdsite"
	"github.com/devpush/updater/pkg/telemetry"
)

type Option interface {
	SetOption(m *Manager) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(m *Manager) error {
	m.Logger = o.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(m *Manager) error {
	m.fs = o.f
	return nil
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return &cmdrOption{cmdr: cmdr}
}

type cmdrOption struct {
	cmdr cmdsite.RunCommand
}

func (o *cmdrOption) SetOption(m *Manager) error {
	m.cmdr = o.cmdr
	return nil
}

func Stdin(r io.Reader) Option {
	return &stdinOption{r: r}
}

type stdinOption struct {
	r io.Reader
}

func (o *stdinOption) SetOption(m *Manager) error {
	m.stdin = o.r
	return nil
}

func Stdout(w io.Writer) Option {
	return &stdoutOption{w: w}
}

type stdoutOption struct {
	w io.Writer
}

func (o *stdoutOption) SetOption(m *Manager) error {
	m.stdout = o.w
	return nil
}

func HTTPGetter(g telemetry.Getter) Option {
	return &getterOption{g: g}
}

type getterOption struct {
	g telemetry.Getter
}

func (o *getterOption) SetOption(m *Manager) error {
	m.getter = o.g
	return nil
}

func TelemetryEndpoint(endpoint string) Option {
	return &endpointOption{e: endpoint}
}

type endpointOption struct {
	e string
}

func (o *endpointOption) SetOption(m *Manager) error {
	m.telemetryEndpoint = o.e
	return nil
}

func Timeouts(pollInterval, detect, health, workerHealth time.Duration) Option {
	return &timeoutsOption{pi: pollInterval, d: detect, h: health, wh: workerHealth}
}

type timeoutsOption struct {
	pi, d, h, wh time.Duration
}

func (o *timeoutsOption) SetOption(m *Manager) error {
	m.pollInterval = o.pi
	m.detectTimeout = o.d
	m.healthTimeout = o.h
	m.workerHealthTimeout = o.wh
	return nil
}

func Repo(repo string) Option {
	return &repoOption{r: repo}
}

type repoOption struct {
	r string
}

func (o *repoOption) SetOption(m *Manager) error {
	m.repo = o.r
	return nil
}
