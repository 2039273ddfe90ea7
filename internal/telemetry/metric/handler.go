package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler for the /metrics endpoint.
func (p *Persistence) Handler() http.Handler {
	return promhttp.HandlerFor(p.Gatherer(), promhttp.HandlerOpts{})
}
