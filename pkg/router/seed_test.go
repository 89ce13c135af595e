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
	"sort"
	"testing"

	"tkestack.io/node-balancer/pkg/kube"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func newFakeCluster() *fake.Clientset {
	return fake.NewSimpleClientset(
		newFakeNode("node-0", internalIP("10.0.0.1")),
		newFakeNode("node-1", v1.NodeAddress{Type: v1.NodeHostName, Address: "node-1"}),
		newFakeService("default", "web", v1.ServiceTypeNodePort, map[string]string{"app": "web"},
			v1.ServicePort{Port: 80, NodePort: 30080}),
		newFakePod("default", "web-0", "node-0", map[string]string{"app": "web"}),
		newFakePod("default", "web-1", "", map[string]string{"app": "web"}),
		newFakePod("default", "api-0", "node-0", map[string]string{"app": "api"}),
		newFakePod("other", "web-2", "node-0", map[string]string{"app": "web"}),
	)
}

func TestSeed(t *testing.T) {
	r := NewRouter(kube.NewClient(newFakeCluster()), Options{ServiceNamespace: "default", ServiceName: "web"})
	if r.Seeded() {
		t.Fatalf("expect router not seeded yet")
	}
	if err := r.Seed(context.Background()); err != nil {
		t.Fatalf("expect seed to succeed, get %v", err)
	}
	if !r.Seeded() {
		t.Fatalf("expect router seeded")
	}

	nodes := r.store.Nodes()
	if len(nodes) != 1 || nodes["node-0"].Addresses[0] != "10.0.0.1" {
		t.Fatalf("expect only node-0, get %v", nodes)
	}
	svc, ok := r.store.Service()
	if !ok || svc.PortMap[80] != 30080 {
		t.Fatalf("expect service seeded, get %#v", svc)
	}
	names := r.store.PodNames()
	sort.Strings(names)
	if len(names) != 1 || names[0] != "web-0" {
		t.Fatalf("expect only web-0, get %v", names)
	}

	ip, port, err := r.Destination(80)
	if err != nil || ip != "10.0.0.1" || port != 30080 {
		t.Fatalf("expect 10.0.0.1:30080, get %s:%d %v", ip, port, err)
	}
}

func TestSeedFailsOnWrongServiceType(t *testing.T) {
	cluster := fake.NewSimpleClientset(
		newFakeService("default", "web", v1.ServiceTypeClusterIP, map[string]string{"app": "web"}, v1.ServicePort{Port: 80}),
	)
	r := NewRouter(kube.NewClient(cluster), Options{ServiceNamespace: "default", ServiceName: "web"})
	err := r.Seed(context.Background())
	var wrongType *WrongServiceTypeError
	if !errors.As(err, &wrongType) || wrongType.Type != string(v1.ServiceTypeClusterIP) {
		t.Fatalf("expect WrongServiceTypeError, get %v", err)
	}
	if r.Seeded() {
		t.Fatalf("expect router not seeded")
	}
}

func TestSeedFailsOnMissingService(t *testing.T) {
	r := NewRouter(kube.NewClient(fake.NewSimpleClientset()), Options{ServiceNamespace: "default", ServiceName: "web"})
	err := r.Seed(context.Background())
	if !apierrors.IsNotFound(errors.Cause(err)) {
		t.Fatalf("expect NotFound, get %v", err)
	}
}

func TestSeedFailsOnListError(t *testing.T) {
	cluster := newFakeCluster()
	cluster.PrependReactor("list", "nodes", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("api server unavailable")
	})
	r := NewRouter(kube.NewClient(cluster), Options{ServiceNamespace: "default", ServiceName: "web"})
	if err := r.Seed(context.Background()); err == nil {
		t.Fatalf("expect seed error")
	}
	if _, ok := r.store.Service(); ok {
		t.Fatalf("expect seed to stop before the service fetch")
	}
}

func TestSeedPodsWithoutService(t *testing.T) {
	r := NewRouter(kube.NewClient(newFakeCluster()), Options{ServiceNamespace: "default", ServiceName: "web"})
	if err := r.SeedPods(context.Background()); errors.Cause(err) != ErrServiceNotFound {
		t.Fatalf("expect ErrServiceNotFound, get %v", err)
	}
}
