package state

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"
)

const (
	VersionFileName = "version.json"
	ConfigFileName  = "config.json"
)

// InstalledVersion is the durable record of what is currently running.
// InstallID is generated once per instance and never regenerated; the
// remaining fields are replaced together on every successful rollout.
type InstalledVersion struct {
	InstallID string    `json:"install_id"`
	GitRef    string    `json:"git_ref"`
	GitCommit string    `json:"git_commit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config is the typed view of the instance configuration record. Fields not
// listed here (and any future additions) survive writes untouched.
type Config struct {
	SetupComplete bool   `json:"setup_complete"`
	SSLProvider   string `json:"ssl_provider,omitempty"`
	ServiceUser   string `json:"service_user,omitempty"`
	ServiceUID    int    `json:"service_uid,omitempty"`
	ServiceGID    int    `json:"service_gid,omitempty"`
	PublicIP      string `json:"public_ip,omitempty"`
}

// Store reads and writes the version and config records under the data root.
// Writes are RFC 7386 merge patches over the existing bytes, so unknown
// fields written by the installer or by other tools are preserved.
type Store struct {
	DataDir string

	fs vfs.FS

	Logger logr.Logger
}

type Option interface {
	SetOption(s *Store) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(s *Store) error {
	s.Logger = o.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(s *Store) error {
	s.fs = o.f
	return nil
}

func New(dataDir string, opts ...Option) (*Store, error) {
	s := &Store{DataDir: dataDir}

	for _, o := range opts {
		if err := o.SetOption(s); err != nil {
			return nil, err
		}
	}

	if s.Logger == nil {
		s.Logger = klogr.New()
	}

	if s.fs == nil {
		s.fs = vfs.HostOSFS
	}

	return s, nil
}

func (s *Store) versionPath() string {
	return filepath.Join(s.DataDir, VersionFileName)
}

func (s *Store) configPath() string {
	return filepath.Join(s.DataDir, ConfigFileName)
}

// ReadVersion returns nil without error when no record exists yet: a missing
// baseline must never block an update.
func (s *Store) ReadVersion() (*InstalledVersion, error) {
	bytes, err := s.fs.ReadFile(s.versionPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.Logger.V(1).Info("state.version.missing", "path", s.versionPath())
			return nil, nil
		}
		return nil, err
	}

	var v InstalledVersion
	if err := json.Unmarshal(bytes, &v); err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.versionPath(), err)
	}

	return &v, nil
}

// WriteVersion merges v into the existing record. An install id already on
// disk always wins; when neither disk nor v carry one, a fresh id is
// generated. Extra fields recorded by the installer (arch, distro, ...) are
// preserved.
func (s *Store) WriteVersion(v InstalledVersion) error {
	original, err := s.readRaw(s.versionPath())
	if err != nil {
		return err
	}

	var existing InstalledVersion
	if err := json.Unmarshal(original, &existing); err != nil {
		return fmt.Errorf("reading %s: %w", s.versionPath(), err)
	}

	if existing.InstallID != "" {
		v.InstallID = existing.InstallID
	} else if v.InstallID == "" {
		id, err := newInstallID()
		if err != nil {
			return err
		}
		v.InstallID = id
	}

	return s.merge(s.versionPath(), original, v)
}

func (s *Store) ReadConfig() (*Config, error) {
	bytes, err := s.fs.ReadFile(s.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.Logger.V(1).Info("state.config.missing", "path", s.configPath())
			return &Config{}, nil
		}
		return nil, err
	}

	var c Config
	if err := json.Unmarshal(bytes, &c); err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.configPath(), err)
	}

	return &c, nil
}

// WriteConfig merges the given fields into the config record.
func (s *Store) WriteConfig(patch map[string]interface{}) error {
	original, err := s.readRaw(s.configPath())
	if err != nil {
		return err
	}

	return s.merge(s.configPath(), original, patch)
}

func (s *Store) readRaw(path string) ([]byte, error) {
	bytes, err := s.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte("{}"), nil
		}
		return nil, err
	}
	return bytes, nil
}

func (s *Store) merge(path string, original []byte, patch interface{}) error {
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	merged, err := jsonpatch.MergePatch(original, patchBytes)
	if err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}

	var indented map[string]interface{}
	if err := json.Unmarshal(merged, &indented); err != nil {
		return err
	}
	out, err := json.MarshalIndent(indented, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	if err := vfs.MkdirAll(s.fs, filepath.Dir(path), 0755); err != nil {
		return err
	}

	s.Logger.V(1).Info("state.write", "path", path)

	return s.fs.WriteFile(path, out, 0644)
}

func newInstallID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
