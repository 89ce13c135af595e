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

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/klog/v2"
)

// Seed replaces the whole routing state with freshly listed nodes, the
// target service and its pods, in that order since pod matching depends on
// the service selector.
func (r *Router) Seed(ctx context.Context) error {
	if err := r.seedNodes(ctx); err != nil {
		return err
	}
	if err := r.seedService(ctx); err != nil {
		return err
	}
	if err := r.SeedPods(ctx); err != nil {
		return err
	}
	r.seeded.Store(true)
	return nil
}

func (r *Router) seedNodes(ctx context.Context) error {
	nodes, err := r.client.ListNodes(ctx)
	if err != nil {
		return errors.Wrap(err, "seed nodes")
	}
	mapped := mapNodes(nodes)
	r.store.ReplaceNodes(mapped)
	r.observeStore()
	klog.Infof("seeded %d nodes", len(mapped))
	return nil
}

func (r *Router) seedService(ctx context.Context) error {
	svc, err := r.client.GetService(ctx, r.opts.ServiceNamespace, r.opts.ServiceName)
	if err != nil {
		return errors.Wrap(err, "seed service")
	}
	balanced, err := mapService(svc)
	if err != nil {
		return errors.Wrapf(err, "seed service %s", r.serviceKey())
	}
	r.store.ReplaceService(&balanced)
	klog.Infof("seeded service %s with port map %v", r.serviceKey(), balanced.PortMap)
	return nil
}

// SeedPods replaces the pod roster with the pods matching the active
// service selector.
func (r *Router) SeedPods(ctx context.Context) error {
	svc, ok := r.store.Service()
	if !ok {
		return errors.Wrap(ErrServiceNotFound, "seed pods")
	}
	pods, err := r.client.ListPods(ctx, r.opts.ServiceNamespace, labels.SelectorFromSet(svc.Selector))
	if err != nil {
		return errors.Wrap(err, "seed pods")
	}
	mapped := mapPods(pods, svc, r.serviceKey())
	r.store.ReplacePods(mapped)
	r.observeStore()
	klog.Infof("seeded %d pods for service %s", len(mapped), r.serviceKey())
	return nil
}
