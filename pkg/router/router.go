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

package router

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"tkestack.io/node-balancer/pkg/kube"
	"tkestack.io/node-balancer/pkg/metrics"

	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
)

// Options configures a Router
type Options struct {
	ServiceNamespace string
	ServiceName      string

	// WatchRestartQPS limits how often a watcher may reopen its stream.
	// Zero or less reopens immediately.
	WatchRestartQPS   float64
	WatchRestartBurst int

	// ReseedMaxRetries is how many times a failed pod reseed is retried
	ReseedMaxRetries int

	// Recorder, if set, receives events about the target service
	Recorder record.EventRecorder
}

// Router keeps the routing state in sync with the cluster and picks
// destinations for new connections.
type Router struct {
	opts     Options
	client   kube.Client
	store    *Store
	reseeder *reseeder
	seeded   atomic.Bool
}

// NewRouter creates a Router. Seed must succeed before Destination is used.
func NewRouter(client kube.Client, opts Options) *Router {
	r := &Router{
		opts:   opts,
		client: client,
		store:  NewStore(),
	}
	r.reseeder = newReseeder(r.SeedPods, opts.ReseedMaxRetries)
	return r
}

// Store exposes the routing state
func (r *Router) Store() *Store {
	return r.store
}

// Seeded reports whether the startup seed has completed
func (r *Router) Seeded() bool {
	return r.seeded.Load()
}

func (r *Router) serviceKey() string {
	return types.NamespacedName{Namespace: r.opts.ServiceNamespace, Name: r.opts.ServiceName}.String()
}

func (r *Router) isTarget(namespace, name string) bool {
	return namespace == r.opts.ServiceNamespace && name == r.opts.ServiceName
}

// Destination picks a backend pod uniformly at random and returns one of its
// node's addresses together with the node port mapped to port.
func (r *Router) Destination(port int32) (string, int32, error) {
	_, pod, err := r.store.RandomPod()
	if err != nil {
		return "", 0, err
	}

	node, ok := r.store.Node(pod.Node)
	if !ok {
		return "", 0, &UnknownNodeError{Node: pod.Node}
	}
	if len(node.Addresses) == 0 {
		return "", 0, &NoAddressesAvailableError{Node: pod.Node}
	}
	ip := node.Addresses[rand.Intn(len(node.Addresses))]

	svc, ok := r.store.Service()
	if !ok {
		return "", 0, ErrServiceNotFound
	}
	nodePort, ok := svc.PortMap[port]
	if !ok {
		return "", 0, &UnknownPortError{Port: port}
	}
	return ip, nodePort, nil
}

// Run starts the three watchers and the reseed worker. It blocks until ctx
// is cancelled.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		r.reseeder.run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.runWatcher(ctx, kindNode, func(ctx context.Context) error {
			return r.client.WatchNodes(ctx, r.onNodeEvent)
		})
	}()
	go func() {
		defer wg.Done()
		r.runWatcher(ctx, kindService, func(ctx context.Context) error {
			return r.client.WatchServices(ctx, r.opts.ServiceNamespace, r.opts.ServiceName, r.onServiceEvent)
		})
	}()
	go func() {
		defer wg.Done()
		r.runWatcher(ctx, kindPod, func(ctx context.Context) error {
			return r.client.WatchPods(ctx, r.opts.ServiceNamespace, r.onPodEvent)
		})
	}()
	wg.Wait()
}

func (r *Router) restartLimiter() *rate.Limiter {
	if r.opts.WatchRestartQPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := r.opts.WatchRestartBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.opts.WatchRestartQPS), burst)
}

func (r *Router) observeStore() {
	metrics.StoreSizeSet(metrics.CollectionNodes, len(r.store.Nodes()))
	metrics.StoreSizeSet(metrics.CollectionPods, len(r.store.PodNames()))
}

// Snapshot is a point in time copy of the routing state
type Snapshot struct {
	Nodes   map[string]AddressableNode `json:"nodes"`
	Service *BalancedService           `json:"service,omitempty"`
	Pods    []PodEntry                 `json:"pods"`
}

// Snapshot copies the routing state. Collections are read one after the
// other, so the result may straddle a concurrent update.
func (r *Router) Snapshot() Snapshot {
	s := Snapshot{
		Nodes: r.store.Nodes(),
		Pods:  r.store.Pods(),
	}
	if svc, ok := r.store.Service(); ok {
		s.Service = &svc
	}
	return s
}
