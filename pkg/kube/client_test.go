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
	"testing"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func newFakeNode(name string) *v1.Node {
	return &v1.Node{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func newFakePod(namespace, name string, podLabels map[string]string) *v1.Pod {
	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			Labels:    podLabels,
		},
	}
}

func TestClientListPodsFiltersByLabels(t *testing.T) {
	client := NewClient(fake.NewSimpleClientset(
		newFakePod("default", "web-0", map[string]string{"app": "web"}),
		newFakePod("default", "api-0", map[string]string{"app": "api"}),
		newFakePod("other", "web-1", map[string]string{"app": "web"}),
	))
	pods, err := client.ListPods(context.Background(), "default", labels.SelectorFromSet(map[string]string{"app": "web"}))
	if err != nil {
		t.Fatalf("expect no error, get %v", err)
	}
	if len(pods) != 1 || pods[0].Name != "web-0" {
		t.Fatalf("expect only web-0, get %#v", pods)
	}
}

func TestClientGetServiceNotFound(t *testing.T) {
	client := NewClient(fake.NewSimpleClientset())
	_, err := client.GetService(context.Background(), "default", "missing")
	if err == nil {
		t.Fatalf("expect error")
	}
	if !apierrors.IsNotFound(errors.Cause(err)) {
		t.Fatalf("expect NotFound cause, get %v", err)
	}
}

func TestClientWatchNodesTranslatesEvents(t *testing.T) {
	kubeClient := fake.NewSimpleClientset(newFakeNode("node-0"))
	fakeWatcher := watch.NewFakeWithChanSize(10, false)
	kubeClient.PrependWatchReactor("nodes", k8stesting.DefaultWatchReactor(fakeWatcher, nil))

	fakeWatcher.Add(newFakeNode("node-1"))
	fakeWatcher.Modify(newFakeNode("node-1"))
	fakeWatcher.Delete(newFakeNode("node-0"))
	fakeWatcher.Error(&metav1.Status{
		Status:  metav1.StatusFailure,
		Reason:  metav1.StatusReasonExpired,
		Message: "too old resource version",
		Code:    410,
	})

	var got []Event[*v1.Node]
	err := NewClient(kubeClient).WatchNodes(context.Background(), func(e Event[*v1.Node]) {
		got = append(got, e)
	})
	if err == nil {
		t.Fatalf("expect watch error")
	}
	if !apierrors.IsResourceExpired(errors.Cause(err)) {
		t.Fatalf("expect expired cause, get %v", err)
	}

	expectTypes := []EventType{EventRestarted, EventApplied, EventApplied, EventDeleted}
	if len(got) != len(expectTypes) {
		t.Fatalf("expect %d events, get %d", len(expectTypes), len(got))
	}
	for i, e := range got {
		if e.Type != expectTypes[i] {
			t.Errorf("event %d: expect %s, get %s", i, expectTypes[i], e.Type)
		}
	}
	if len(got[0].Objects) != 1 || got[0].Objects[0].Name != "node-0" {
		t.Errorf("expect restart with node-0, get %#v", got[0].Objects)
	}
	if got[3].Object.Name != "node-0" {
		t.Errorf("expect node-0 deleted, get %s", got[3].Object.Name)
	}
}

func TestClientWatchPodsClosedChannel(t *testing.T) {
	kubeClient := fake.NewSimpleClientset()
	fakeWatcher := watch.NewFakeWithChanSize(10, false)
	kubeClient.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fakeWatcher, nil))

	fakeWatcher.Add(newFakePod("default", "web-0", nil))
	fakeWatcher.Stop()

	var got []Event[*v1.Pod]
	err := NewClient(kubeClient).WatchPods(context.Background(), "default", func(e Event[*v1.Pod]) {
		got = append(got, e)
	})
	if err == nil {
		t.Fatalf("expect error when channel closes")
	}
	if len(got) != 2 || got[1].Type != EventApplied {
		t.Fatalf("expect restart then applied, get %#v", got)
	}
}

func TestClientWatchStopsOnContextCancel(t *testing.T) {
	kubeClient := fake.NewSimpleClientset()
	fakeWatcher := watch.NewFakeWithChanSize(10, false)
	kubeClient.PrependWatchReactor("services", k8stesting.DefaultWatchReactor(fakeWatcher, nil))

	ctx, cancel := context.WithCancel(context.Background())
	err := NewClient(kubeClient).WatchServices(ctx, "default", "web", func(e Event[*v1.Service]) {
		if e.Type == EventRestarted {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Fatalf("expect context.Canceled, get %v", err)
	}
}
