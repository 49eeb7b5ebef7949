// Copyright (c) 2025 The Geyser developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/geyser-labs/geyser/api/admin"
	"github.com/geyser-labs/geyser/api/admin/health"
	"github.com/geyser-labs/geyser/co"
	"github.com/geyser-labs/geyser/metrics"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// StartServer serves handler on addr until the returned close func is called.
func StartServer(addr string, handler http.Handler) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen API addr [%v]", addr)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second, ReadTimeout: 5 * time.Second}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String(), func() {
		srv.Close()
		goes.Wait()
	}, nil
}

func StartAdminServer(addr string, logLevel *slog.LevelVar, apiLogs *atomic.Bool, healthStatus *health.Health) (string, func(), error) {
	url, closeFunc, err := StartServer(addr, admin.New(logLevel, apiLogs, healthStatus))
	if err != nil {
		return "", nil, errors.WithMessage(err, "admin")
	}
	return url + "/admin", closeFunc, nil
}

func StartMetricsServer(addr string) (string, func(), error) {
	router := mux.NewRouter()
	router.PathPrefix("/metrics").Handler(metrics.HTTPHandler())

	url, closeFunc, err := StartServer(addr, handlers.CompressHandler(router))
	if err != nil {
		return "", nil, errors.WithMessage(err, "metrics")
	}
	return url + "/metrics", closeFunc, nil
}
