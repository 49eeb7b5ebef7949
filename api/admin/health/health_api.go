// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package health

import (
	"net/http"
	"time"

	"github.com/geyser-labs/geyser/api/utils"
	"github.com/gorilla/mux"
)

const defaultMaxTimeBetweenTicks = 5 * time.Minute

type API struct {
	healthStatus *Health
}

func NewAPI(healthStatus *Health) *API {
	return &API{
		healthStatus: healthStatus,
	}
}

func (h *API) handleGetHealth(w http.ResponseWriter, r *http.Request) error {
	maxTimeBetweenTicks := defaultMaxTimeBetweenTicks
	if q := r.URL.Query().Get("maxTimeBetweenTicks"); q != "" {
		if parsed, err := time.ParseDuration(q); err == nil {
			maxTimeBetweenTicks = parsed
		}
	}

	acc := h.healthStatus.Status(maxTimeBetweenTicks)
	w.Header().Set("Content-Type", utils.JSONContentType)
	if !acc.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	return utils.WriteJSON(w, acc)
}

func (h *API) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").
		Methods(http.MethodGet).
		Name("health").
		HandlerFunc(utils.WrapHandlerFunc(h.handleGetHealth))
}
