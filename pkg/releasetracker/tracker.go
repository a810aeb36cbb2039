package releasetracker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/cmdsite"
	"github.com/devpush/updater/pkg/semver"
)

// DefaultBranch is the rolling reference used when no stable tag exists
// anywhere.
const DefaultBranch = "main"

// Tracker resolves the target reference of an update and drives the git
// operations on the source checkout. When the caller passes no explicit ref,
// resolution prefers the highest stable local tag, then the highest stable
// GitHub release, then the rolling branch.
type Tracker struct {
	Logger logr.Logger

	AppDir string

	// Repo is the "owner/name" used for the GitHub releases fallback.
	// Empty disables the fallback.
	Repo string

	cmdSite *cmdsite.CommandSite
	github  *github.Client
}

type Option interface {
	SetOption(t *Tracker) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(t *Tracker) error {
	t.Logger = o.l
	return nil
}

func Commander(cmdr cmdsite.RunCommand) Option {
	return &cmdrOption{cmdr: cmdr}
}

type cmdrOption struct {
	cmdr cmdsite.RunCommand
}

func (o *cmdrOption) SetOption(t *Tracker) error {
	t.cmdSite.RunCmd = o.cmdr
	return nil
}

func Repo(repo string) Option {
	return &repoOption{r: repo}
}

type repoOption struct {
	r string
}

func (o *repoOption) SetOption(t *Tracker) error {
	t.Repo = o.r
	return nil
}

func GitHubClient(client *github.Client) Option {
	return &githubOption{c: client}
}

type githubOption struct {
	c *github.Client
}

func (o *githubOption) SetOption(t *Tracker) error {
	t.github = o.c
	return nil
}

func New(appDir string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		AppDir:  appDir,
		cmdSite: cmdsite.New(),
	}

	for _, o := range opts {
		if err := o.SetOption(t); err != nil {
			return nil, err
		}
	}

	if t.cmdSite.RunCmd == nil {
		t.cmdSite.RunCmd = cmdsite.DefaultRunCommand
	}

	if t.Logger == nil {
		t.Logger = klogr.New()
	}

	return t, nil
}

// Resolve returns the reference the update should move to. An explicit ref
// always wins.
func (t *Tracker) Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if ref := t.highestLocalTag(); ref != "" {
		t.Logger.V(1).Info("target.resolve.local-tag", "ref", ref)
		return ref, nil
	}

	if ref := t.highestGitHubRelease(); ref != "" {
		t.Logger.V(1).Info("target.resolve.github-release", "ref", ref)
		return ref, nil
	}

	t.Logger.Info("target.resolve.rolling", "msg", "no stable tag found; following "+DefaultBranch)
	return DefaultBranch, nil
}

func (t *Tracker) highestLocalTag() string {
	stdout, stderr, err := t.cmdSite.CaptureStrings("git", []string{"-C", t.AppDir, "tag", "--list"})
	if err != nil {
		t.Logger.V(1).Info("target.resolve.git-tags.failed", "err", err.Error(), "stderr", stderr)
		return ""
	}

	return highestStable(strings.Split(stdout, "\n"))
}

func (t *Tracker) highestGitHubRelease() string {
	if t.Repo == "" {
		return ""
	}

	parts := strings.SplitN(t.Repo, "/", 2)
	if len(parts) != 2 {
		return ""
	}

	ctx := context.Background()

	client := t.github
	if client == nil {
		client = newGitHubClient(ctx)
	}

	releases, _, err := client.Repositories.ListReleases(ctx, parts[0], parts[1], nil)
	if err != nil {
		t.Logger.V(1).Info("target.resolve.github.failed", "err", err.Error())
		return ""
	}

	var tags []string
	for _, rel := range releases {
		if rel.GetDraft() || rel.GetPrerelease() {
			continue
		}
		tags = append(tags, rel.GetTagName())
	}

	return highestStable(tags)
}

func newGitHubClient(ctx context.Context) *github.Client {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// highestStable returns the original tag string of the highest
// stable-parseable version among candidates, or "".
func highestStable(candidates []string) string {
	var best *semver.Version
	var bestTag string

	for _, tag := range candidates {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		v, err := semver.Parse(tag)
		if err != nil {
			continue
		}
		if !semver.IsStable(v) {
			continue
		}
		if best == nil || best.LessThan(v) {
			best = v
			bestTag = tag
		}
	}

	return bestTag
}

// Fetch updates the checkout's tags and remote refs.
func (t *Tracker) Fetch() error {
	_, stderr, err := t.cmdSite.CaptureStrings("git", []string{"-C", t.AppDir, "fetch", "--tags", "--force"})
	if err != nil {
		return fmt.Errorf("git fetch: %v: %s", err, stderr)
	}
	return nil
}

// Checkout moves the source tree to ref.
func (t *Tracker) Checkout(ref string) error {
	_, stderr, err := t.cmdSite.CaptureStrings("git", []string{"-C", t.AppDir, "checkout", ref})
	if err != nil {
		return fmt.Errorf("git checkout %s: %v: %s", ref, err, stderr)
	}
	return nil
}

// Commit returns the commit id ref points at.
func (t *Tracker) Commit(ref string) (string, error) {
	stdout, stderr, err := t.cmdSite.CaptureStrings("git", []string{"-C", t.AppDir, "rev-parse", ref})
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %v: %s", ref, err, stderr)
	}
	return strings.TrimSpace(stdout), nil
}
