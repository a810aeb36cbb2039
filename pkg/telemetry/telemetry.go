package telemetry

import (
	"fmt"
	"net/url"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"
)

const DefaultEndpoint = "https://telemetry.devpush.sh/ping"

// Reporter sends the one-shot update ping. Strictly best-effort: failures
// are logged at verbosity and never affect the update outcome.
type Reporter struct {
	Endpoint string

	Getter Getter

	Logger logr.Logger
}

func NewReporter(endpoint string, g Getter, logger logr.Logger) *Reporter {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if g == nil {
		g = NewGetter()
	}
	if logger == nil {
		logger = klogr.New()
	}
	return &Reporter{Endpoint: endpoint, Getter: g, Logger: logger}
}

func (r *Reporter) Ping(installID, from, to string) {
	u := fmt.Sprintf("%s?install_id=%s&from=%s&to=%s",
		r.Endpoint,
		url.QueryEscape(installID),
		url.QueryEscape(from),
		url.QueryEscape(to),
	)

	if _, err := r.Getter.DoRequest(u); err != nil {
		r.Logger.V(1).Info("telemetry.ping.failed", "err", err.Error())
		return
	}

	r.Logger.V(1).Info("telemetry.ping.sent", "from", from, "to", to)
}
