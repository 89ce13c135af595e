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

package proxy

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"tkestack.io/node-balancer/pkg/metrics"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// acceptRetryDelay is how long the accept loop pauses after a transient
// accept error, e.g. running out of file descriptors.
const acceptRetryDelay = 50 * time.Millisecond

// Selector resolves the destination for a connection accepted on port
type Selector interface {
	Destination(port int32) (ip string, nodePort int32, err error)
}

// Proxy forwards TCP connections accepted on each configured port to the
// destination returned by its Selector.
type Proxy struct {
	listenAddr string
	ports      []int32
	selector   Selector
	dialer     *net.Dialer
}

// NewProxy creates a Proxy listening on listenAddr for every port
func NewProxy(listenAddr string, ports []int32, selector Selector, dialTimeout time.Duration) *Proxy {
	return &Proxy{
		listenAddr: listenAddr,
		ports:      ports,
		selector:   selector,
		dialer:     &net.Dialer{Timeout: dialTimeout},
	}
}

// Run binds one listener per port and serves them until ctx is cancelled.
// A port that fails to bind is logged and does not affect the others.
func (p *Proxy) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, port := range p.ports {
		wg.Add(1)
		go func(port int32) {
			defer wg.Done()
			if err := p.listen(ctx, port); err != nil {
				klog.Errorf("listener for port %d stopped: %v", port, err)
			}
		}(port)
	}
	wg.Wait()
}

func (p *Proxy) listen(ctx context.Context, port int32) error {
	addr := net.JoinHostPort(p.listenAddr, strconv.Itoa(int(port)))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "bind %s", addr)
	}
	return p.serve(ctx, ln, port)
}

// serve runs the accept loop of ln. Connections are resolved against port.
func (p *Proxy) serve(ctx context.Context, ln net.Listener, port int32) error {
	klog.Infof("proxying connections on %s", ln.Addr())
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			klog.Errorf("accept on %s failed: %v", ln.Addr(), err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		go p.handle(ctx, conn, port)
	}
}

// handle proxies a single connection. Any failure only drops this connection.
func (p *Proxy) handle(ctx context.Context, inbound net.Conn, port int32) {
	defer inbound.Close()

	ip, nodePort, err := p.selector.Destination(port)
	if err != nil {
		metrics.ConnectionsInc(port, metrics.ResultNoDestination)
		klog.Errorf("no destination for %s on port %d: %v", inbound.RemoteAddr(), port, err)
		return
	}

	target := net.JoinHostPort(ip, strconv.Itoa(int(nodePort)))
	start := time.Now()
	outbound, err := p.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		metrics.ConnectionsInc(port, metrics.ResultDialFailed)
		klog.Errorf("connect to %s for %s failed: %v", target, inbound.RemoteAddr(), err)
		return
	}
	defer outbound.Close()
	metrics.ConnectLatencyObserve(port, time.Since(start))
	metrics.ConnectionsInc(port, metrics.ResultProxied)

	metrics.ActiveConnectionsInc(port)
	defer metrics.ActiveConnectionsDec(port)
	klog.V(4).Infof("proxying %s to %s", inbound.RemoteAddr(), target)

	if err := splice(port, inbound, outbound); err != nil {
		klog.V(2).Infof("proxying %s to %s aborted: %v", inbound.RemoteAddr(), target, err)
	}
	metrics.ConnectionDurationObserve(port, time.Since(start))
}

// splice copies both directions concurrently. When one side reaches EOF
// the write half of the other side is closed; it returns once both
// directions are done. A copy error closes both connections.
func splice(port int32, inbound, outbound net.Conn) error {
	var once sync.Once
	abort := func() {
		once.Do(func() {
			inbound.Close()
			outbound.Close()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		return pipe(port, metrics.DirectionInbound, outbound, inbound, abort)
	})
	g.Go(func() error {
		return pipe(port, metrics.DirectionOutbound, inbound, outbound, abort)
	})
	return g.Wait()
}

func pipe(port int32, direction string, dst, src net.Conn, abort func()) error {
	n, err := io.Copy(dst, src)
	metrics.ProxiedBytesAdd(port, direction, n)
	if err != nil {
		abort()
		return errors.Wrapf(err, "copy %s", direction)
	}
	return closeWrite(dst)
}

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) error {
	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return conn.Close()
}
