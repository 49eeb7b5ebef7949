// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package admin

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/geyser-labs/geyser/api/admin/apilogs"
	"github.com/geyser-labs/geyser/api/admin/health"
	"github.com/geyser-labs/geyser/api/admin/loglevel"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func New(logLevel *slog.LevelVar, apiLogs *atomic.Bool, healthStatus *health.Health) http.HandlerFunc {
	router := mux.NewRouter()
	subRouter := router.PathPrefix("/admin").Subrouter()

	loglevel.New(logLevel).Mount(subRouter, "/loglevel")
	apilogs.New(apiLogs).Mount(subRouter, "/apilogs")
	health.NewAPI(healthStatus).Mount(subRouter, "/health")

	handler := handlers.CompressHandler(router)

	return handler.ServeHTTP
}
