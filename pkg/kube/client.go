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

package kube

import (
	"context"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

// NewClient returns a Client backed by a client-go clientset
func NewClient(client kubernetes.Interface) Client {
	return &clientset{client: client}
}

type clientset struct {
	client kubernetes.Interface
}

var _ Client = &clientset{}

func (c *clientset) ListNodes(ctx context.Context) ([]*v1.Node, error) {
	nodes, _, err := c.listNodes(ctx)
	return nodes, err
}

func (c *clientset) GetService(ctx context.Context, namespace, name string) (*v1.Service, error) {
	svc, err := c.client.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get service %s/%s", namespace, name)
	}
	return svc, nil
}

func (c *clientset) ListPods(ctx context.Context, namespace string, selector labels.Selector) ([]*v1.Pod, error) {
	pods, _, err := c.listPods(ctx, namespace, metav1.ListOptions{LabelSelector: selector.String()})
	return pods, err
}

func (c *clientset) WatchNodes(ctx context.Context, handler Handler[*v1.Node]) error {
	return stream(ctx, "nodes",
		c.listNodes,
		func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return c.client.CoreV1().Nodes().Watch(ctx, watchOptions(resourceVersion, ""))
		},
		handler)
}

func (c *clientset) WatchServices(ctx context.Context, namespace, name string, handler Handler[*v1.Service]) error {
	fieldSelector := fields.OneTermEqualSelector("metadata.name", name).String()
	return stream(ctx, "services",
		func(ctx context.Context) ([]*v1.Service, string, error) {
			list, err := c.client.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{FieldSelector: fieldSelector})
			if err != nil {
				return nil, "", errors.Wrapf(err, "list services in %s", namespace)
			}
			svcs := make([]*v1.Service, 0, len(list.Items))
			for i := range list.Items {
				svcs = append(svcs, &list.Items[i])
			}
			return svcs, list.ResourceVersion, nil
		},
		func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return c.client.CoreV1().Services(namespace).Watch(ctx, watchOptions(resourceVersion, fieldSelector))
		},
		handler)
}

func (c *clientset) WatchPods(ctx context.Context, namespace string, handler Handler[*v1.Pod]) error {
	return stream(ctx, "pods",
		func(ctx context.Context) ([]*v1.Pod, string, error) {
			return c.listPods(ctx, namespace, metav1.ListOptions{})
		},
		func(ctx context.Context, resourceVersion string) (watch.Interface, error) {
			return c.client.CoreV1().Pods(namespace).Watch(ctx, watchOptions(resourceVersion, ""))
		},
		handler)
}

func (c *clientset) listNodes(ctx context.Context) ([]*v1.Node, string, error) {
	list, err := c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, "", errors.Wrap(err, "list nodes")
	}
	nodes := make([]*v1.Node, 0, len(list.Items))
	for i := range list.Items {
		nodes = append(nodes, &list.Items[i])
	}
	return nodes, list.ResourceVersion, nil
}

func (c *clientset) listPods(ctx context.Context, namespace string, opts metav1.ListOptions) ([]*v1.Pod, string, error) {
	list, err := c.client.CoreV1().Pods(namespace).List(ctx, opts)
	if err != nil {
		return nil, "", errors.Wrapf(err, "list pods in %s", namespace)
	}
	pods := make([]*v1.Pod, 0, len(list.Items))
	for i := range list.Items {
		pods = append(pods, &list.Items[i])
	}
	return pods, list.ResourceVersion, nil
}

func watchOptions(resourceVersion, fieldSelector string) metav1.ListOptions {
	return metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		FieldSelector:       fieldSelector,
		AllowWatchBookmarks: true,
	}
}

// stream lists once, hands the result to handler as a Restarted event and
// then follows a watch opened at the list's resourceVersion until it fails.
func stream[T any](
	ctx context.Context,
	kind string,
	list func(ctx context.Context) ([]T, string, error),
	open func(ctx context.Context, resourceVersion string) (watch.Interface, error),
	handler Handler[T],
) error {
	items, resourceVersion, err := list(ctx)
	if err != nil {
		return err
	}
	handler(Restarted(items))

	w, err := open(ctx, resourceVersion)
	if err != nil {
		return errors.Wrapf(err, "watch %s", kind)
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.ResultChan():
			if !ok {
				return errors.Errorf("%s watch channel closed", kind)
			}
			switch event.Type {
			case watch.Added, watch.Modified, watch.Deleted:
				obj, ok := event.Object.(T)
				if !ok {
					klog.Warningf("%s watch delivered unexpected object %T, skipped", kind, event.Object)
					continue
				}
				if event.Type == watch.Deleted {
					handler(Deleted(obj))
				} else {
					handler(Applied(obj))
				}
			case watch.Error:
				return errors.Wrapf(apierrors.FromObject(event.Object), "%s watch failed", kind)
			case watch.Bookmark:
			default:
				klog.Warningf("%s watch delivered unknown event type %q", kind, event.Type)
			}
		}
	}
}
