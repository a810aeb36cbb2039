package envresolver

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/state"
)

type Mode string

const (
	// ModeSetup is the first-run state: the instance serves the setup wizard
	// until the config record says setup is complete.
	ModeSetup Mode = "setup"
	ModeRun   Mode = "run"
)

const (
	DefaultAppDir  = "/srv/devpush"
	DefaultDataDir = "/var/lib/devpush"

	// ServiceUnitPath is the production marker: the installer registers this
	// unit, development checkouts never have it.
	ServiceUnitPath = "/etc/systemd/system/devpush.service"

	serviceUserName = "devpush"
)

// Environment is resolved once per invocation and passed explicitly into
// every other component; nothing reads ambient process state after this.
type Environment struct {
	Mode Mode
	Dev  bool

	AppDir  string
	DataDir string

	ServiceUser string
	UID         int
	GID         int

	CertProvider string
}

// ConfigurationError means the environment cannot be resolved well enough to
// touch the runtime; container ownership must match the host identity or
// volume permissions end up wrong.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

type Resolver struct {
	Logger logr.Logger

	fs vfs.FS

	getenv     func(string) string
	lookupUser func(string) (*user.User, error)
}

type Option interface {
	SetOption(r *Resolver) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(r *Resolver) error {
	r.Logger = o.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(r *Resolver) error {
	r.fs = o.f
	return nil
}

func Getenv(getenv func(string) string) Option {
	return &getenvOption{g: getenv}
}

type getenvOption struct {
	g func(string) string
}

func (o *getenvOption) SetOption(r *Resolver) error {
	r.getenv = o.g
	return nil
}

func LookupUser(lookup func(string) (*user.User, error)) Option {
	return &lookupUserOption{l: lookup}
}

type lookupUserOption struct {
	l func(string) (*user.User, error)
}

func (o *lookupUserOption) SetOption(r *Resolver) error {
	r.lookupUser = o.l
	return nil
}

func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{}

	for _, o := range opts {
		if err := o.SetOption(r); err != nil {
			return nil, err
		}
	}

	if r.Logger == nil {
		r.Logger = klogr.New()
	}

	if r.fs == nil {
		r.fs = vfs.HostOSFS
	}

	if r.getenv == nil {
		r.getenv = os.Getenv
	}

	if r.lookupUser == nil {
		r.lookupUser = user.Lookup
	}

	return r, nil
}

// Resolve derives the environment from the override variable, the production
// marker and the persisted records. Pure read; it never writes state.
func (r *Resolver) Resolve(store *state.Store) (*Environment, error) {
	env := &Environment{
		AppDir:  r.getenv("DEVPUSH_APP_DIR"),
		DataDir: r.getenv("DEVPUSH_DATA_DIR"),
	}
	if env.AppDir == "" {
		env.AppDir = DefaultAppDir
	}
	if env.DataDir == "" {
		env.DataDir = DefaultDataDir
	}

	switch r.getenv("DEVPUSH_ENV") {
	case "development":
		env.Dev = true
	case "production":
		env.Dev = false
	default:
		_, err := r.fs.Stat(ServiceUnitPath)
		env.Dev = err != nil
	}

	conf, err := store.ReadConfig()
	if err != nil {
		return nil, err
	}

	if conf.SetupComplete {
		env.Mode = ModeRun
	} else {
		env.Mode = ModeSetup
	}

	env.CertProvider = r.getenv("DEVPUSH_SSL_PROVIDER")
	if env.CertProvider == "" {
		env.CertProvider = conf.SSLProvider
	}
	if env.CertProvider == "" {
		env.CertProvider = "default"
	}

	if !env.Dev {
		if err := r.resolveIdentity(env, conf); err != nil {
			return nil, err
		}
	}

	r.Logger.V(1).Info("env.resolved",
		"mode", env.Mode, "dev", env.Dev,
		"appDir", env.AppDir, "dataDir", env.DataDir,
		"certProvider", env.CertProvider, "serviceUser", env.ServiceUser)

	return env, nil
}

func (r *Resolver) resolveIdentity(env *Environment, conf *state.Config) error {
	if conf.ServiceUser != "" {
		env.ServiceUser = conf.ServiceUser
		env.UID = conf.ServiceUID
		env.GID = conf.ServiceGID
		return nil
	}

	u, err := r.lookupUser(serviceUserName)
	if err != nil {
		return &ConfigurationError{
			Reason: fmt.Sprintf("service user %q does not exist and no identity is recorded", serviceUserName),
		}
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("parsing uid of %q: %v", serviceUserName, err)}
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("parsing gid of %q: %v", serviceUserName, err)}
	}

	env.ServiceUser = u.Username
	env.UID = uid
	env.GID = gid

	return nil
}
