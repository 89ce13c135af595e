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

	"tkestack.io/node-balancer/pkg/kube"
	"tkestack.io/node-balancer/pkg/metrics"

	v1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
)

const (
	kindNode    = "node"
	kindService = "service"
	kindPod     = "pod"

	reasonServiceRegistered = "ServiceRegistered"
	reasonServiceRejected   = "ServiceRejected"
)

// runWatcher keeps a watch stream open until ctx is cancelled. A stream that
// ends for any reason is reopened right away unless a restart rate limit is
// configured.
func (r *Router) runWatcher(ctx context.Context, kind string, watch func(context.Context) error) {
	limiter := r.restartLimiter()
	for {
		err := watch(ctx)
		if ctx.Err() != nil {
			klog.Infof("%s watcher stopped", kind)
			return
		}
		if err != nil {
			klog.Errorf("error returned by %s watcher: %v", kind, err)
		}
		metrics.WatchRestartsInc(kind)
		klog.Infof("restarting %s watcher", kind)
		if err := limiter.Wait(ctx); err != nil {
			klog.Infof("%s watcher stopped", kind)
			return
		}
	}
}

func (r *Router) onNodeEvent(event kube.Event[*v1.Node]) {
	metrics.WatchEventsInc(kindNode, string(event.Type))
	switch event.Type {
	case kube.EventApplied:
		node := event.Object
		if node == nil || node.Name == "" {
			return
		}
		addressable, ok := mapNode(node)
		if !ok {
			klog.V(4).Infof("node %s has no internal address, ignored", node.Name)
			return
		}
		r.store.UpsertNode(node.Name, addressable)
		klog.Infof("got node %s with addresses %v", node.Name, addressable.Addresses)
	case kube.EventDeleted:
		if event.Object == nil {
			return
		}
		r.store.RemoveNode(event.Object.Name)
		klog.Infof("deleted node %s", event.Object.Name)
	case kube.EventRestarted:
		nodes := mapNodes(event.Objects)
		r.store.ReplaceNodes(nodes)
		klog.Infof("node stream restarted with %d nodes", len(nodes))
	default:
		klog.Warningf("unknown node event type %q", event.Type)
		return
	}
	r.observeStore()
}

func (r *Router) onServiceEvent(event kube.Event[*v1.Service]) {
	metrics.WatchEventsInc(kindService, string(event.Type))
	switch event.Type {
	case kube.EventApplied:
		if event.Object == nil || !r.isTarget(event.Object.Namespace, event.Object.Name) {
			return
		}
		r.applyService(event.Object)
	case kube.EventDeleted:
		if event.Object == nil || !r.isTarget(event.Object.Namespace, event.Object.Name) {
			return
		}
		r.store.ReplaceService(nil)
		klog.Infof("service %s deleted", r.serviceKey())
	case kube.EventRestarted:
		for _, svc := range event.Objects {
			if svc != nil && r.isTarget(svc.Namespace, svc.Name) {
				r.applyService(svc)
				return
			}
		}
		r.store.ReplaceService(nil)
		klog.Warningf("service stream restarted without service %s", r.serviceKey())
	default:
		klog.Warningf("unknown service event type %q", event.Type)
	}
}

// applyService replaces the descriptor and asks for a pod reseed, or clears
// the descriptor if svc cannot be balanced.
func (r *Router) applyService(svc *v1.Service) {
	balanced, err := mapService(svc)
	if err != nil {
		klog.Errorf("error while registering service %s: %v", r.serviceKey(), err)
		r.store.ReplaceService(nil)
		r.recordEvent(svc, v1.EventTypeWarning, reasonServiceRejected, "Service cannot be balanced: %v", err)
		return
	}
	r.store.ReplaceService(&balanced)
	klog.Infof("service %s registered with port map %v", r.serviceKey(), balanced.PortMap)
	r.recordEvent(svc, v1.EventTypeNormal, reasonServiceRegistered, "Balancing ports %v", balanced.PortMap)
	r.reseeder.enqueue()
}

func (r *Router) recordEvent(svc *v1.Service, eventType, reason, messageFmt string, args ...interface{}) {
	if r.opts.Recorder == nil || svc == nil {
		return
	}
	r.opts.Recorder.Eventf(svc, eventType, reason, messageFmt, args...)
}

func (r *Router) onPodEvent(event kube.Event[*v1.Pod]) {
	metrics.WatchEventsInc(kindPod, string(event.Type))
	switch event.Type {
	case kube.EventApplied:
		pod := event.Object
		if pod == nil || pod.Namespace != r.opts.ServiceNamespace {
			return
		}
		svc, ok := r.store.Service()
		if !ok {
			klog.V(4).Infof("no service registered, pod %s ignored", pod.Name)
			return
		}
		backend, ok := mapPod(pod, svc, r.serviceKey())
		if !ok {
			if r.store.RemovePod(pod.Name) {
				klog.Infof("pod %s no longer backs service %s", pod.Name, r.serviceKey())
			}
			return
		}
		r.store.UpsertPod(pod.Name, backend)
		klog.V(2).Infof("got pod %s on node %s for service %s", pod.Name, backend.Node, r.serviceKey())
	case kube.EventDeleted:
		if event.Object == nil {
			return
		}
		if r.store.RemovePod(event.Object.Name) {
			klog.Infof("deleted pod %s", event.Object.Name)
		}
	case kube.EventRestarted:
		svc, ok := r.store.Service()
		if !ok {
			r.store.ReplacePods(nil)
			klog.Infof("pod stream restarted without a registered service, roster cleared")
			break
		}
		pods := mapPods(event.Objects, svc, r.serviceKey())
		r.store.ReplacePods(pods)
		klog.Infof("pod stream restarted with %d pods for service %s", len(pods), r.serviceKey())
	default:
		klog.Warningf("unknown pod event type %q", event.Type)
		return
	}
	r.observeStore()
}
