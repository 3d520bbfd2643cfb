package service

import (
	"encoding/json"
	"net/http"

	"github.com/hamzalsheikh/howl/pkg/discovery"
	"github.com/hamzalsheikh/howl/pkg/version"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type statusResponse struct {
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Registry  string           `json:"registry"`
	Heartbeat discovery.Status `json:"heartbeat"`
}

func (a *Agent) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := statusResponse{
			Service:   string(a.cfg.ServiceName),
			Version:   version.Version(),
			Registry:  a.cfg.RegistryAddr,
			Heartbeat: a.heartbeat.Status(),
		}
		w.Header().Set("Content-Type", "application/json")
		if !resp.Heartbeat.Running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			a.logger.Error().Err(err).Msg("couldn't write status")
		}
	})
	return otelhttp.NewHandler(mux, "status")
}
