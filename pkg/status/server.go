/*
 * Copyright 2019 THL A29 Limited, a Tencent company.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package status

import (
	"context"
	"net/http"
	"time"

	"tkestack.io/node-balancer/pkg/router"
	"tkestack.io/node-balancer/pkg/version"

	"github.com/emicklei/go-restful/v3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

const shutdownTimeout = 5 * time.Second

// Source is the routing state exposed by the server
type Source interface {
	Seeded() bool
	Snapshot() router.Snapshot
}

// Server serves health, readiness, routing state and metrics over HTTP
type Server struct {
	addr      string
	source    Source
	container *restful.Container
}

// NewServer creates a new Server
func NewServer(addr string, source Source) *Server {
	s := &Server{
		addr:      addr,
		source:    source,
		container: restful.NewContainer(),
	}

	ws := new(restful.WebService)
	ws.Path("/").Produces(restful.MIME_JSON, "text/plain")
	ws.Route(ws.GET("healthz").To(s.Healthz))
	ws.Route(ws.GET("readyz").To(s.Readyz))
	ws.Route(ws.GET("state").To(s.State).
		Writes(router.Snapshot{}))
	ws.Route(ws.GET("version").To(s.Version).
		Writes(version.Info{}))
	s.container.Add(ws)
	s.container.Handle("/metrics", promhttp.Handler())
	return s
}

// Handler returns the http.Handler serving all routes
func (s *Server) Handler() http.Handler {
	return s.container
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.container,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("shutdown status server failed: %v", err)
		}
	}()

	klog.Infof("status server listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server")
	}
	return nil
}

// Healthz always reports ok once the process serves HTTP
func (s *Server) Healthz(req *restful.Request, rsp *restful.Response) {
	writeText(rsp, http.StatusOK, "ok")
}

// Readyz reports ok once the routing state has been seeded
func (s *Server) Readyz(req *restful.Request, rsp *restful.Response) {
	if !s.source.Seeded() {
		writeText(rsp, http.StatusServiceUnavailable, "not seeded")
		return
	}
	writeText(rsp, http.StatusOK, "ok")
}

// State writes a snapshot of the routing state
func (s *Server) State(req *restful.Request, rsp *restful.Response) {
	if err := rsp.WriteAsJson(s.source.Snapshot()); err != nil {
		klog.Errorf("send state response failed: %v", err)
	}
}

func (s *Server) Version(req *restful.Request, rsp *restful.Response) {
	if err := rsp.WriteAsJson(version.Get()); err != nil {
		klog.Errorf("send version response failed: %v", err)
	}
}

func writeText(rsp *restful.Response, status int, body string) {
	rsp.AddHeader("Content-Type", "text/plain")
	rsp.WriteHeader(status)
	if _, err := rsp.Write([]byte(body)); err != nil {
		klog.Errorf("send response failed: %v", err)
	}
}
