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
	v1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/labels"
)

// mapNode keeps the InternalIP addresses of node. It returns false if the
// node has none, such a node is useless for routing.
func mapNode(node *v1.Node) (AddressableNode, bool) {
	if node == nil {
		return AddressableNode{}, false
	}
	var addrs []string
	for _, addr := range node.Status.Addresses {
		if addr.Type != v1.NodeInternalIP {
			continue
		}
		addrs = append(addrs, addr.Address)
	}
	if len(addrs) == 0 {
		return AddressableNode{}, false
	}
	return AddressableNode{Addresses: addrs}, true
}

func mapNodes(nodes []*v1.Node) map[string]AddressableNode {
	result := make(map[string]AddressableNode, len(nodes))
	for _, node := range nodes {
		if node == nil || node.Name == "" {
			continue
		}
		if n, ok := mapNode(node); ok {
			result[node.Name] = n
		}
	}
	return result
}

// mapService translates a NodePort Service. Ports without an assigned
// node port are dropped.
func mapService(svc *v1.Service) (BalancedService, error) {
	if svc == nil || apiequality.Semantic.DeepEqual(svc.Spec, v1.ServiceSpec{}) {
		return BalancedService{}, ErrMissingSpec
	}
	if svc.Spec.Type != v1.ServiceTypeNodePort {
		t := string(svc.Spec.Type)
		if t == "" {
			t = "None"
		}
		return BalancedService{}, &WrongServiceTypeError{Type: t}
	}

	selector := make(map[string]string, len(svc.Spec.Selector))
	for k, v := range svc.Spec.Selector {
		selector[k] = v
	}
	portMap := make(map[int32]int32, len(svc.Spec.Ports))
	for _, port := range svc.Spec.Ports {
		if port.NodePort == 0 {
			continue
		}
		portMap[port.Port] = port.NodePort
	}
	return BalancedService{Selector: selector, PortMap: portMap}, nil
}

// podMatches reports whether every key of selector is present in the pod
// labels with an equal value.
func podMatches(selector map[string]string, pod *v1.Pod) bool {
	return labels.SelectorFromSet(selector).Matches(labels.Set(pod.Labels))
}

// mapPod returns the backend record of pod if it is scheduled and matches svc
func mapPod(pod *v1.Pod, svc BalancedService, serviceKey string) (BackendPod, bool) {
	if pod == nil || pod.Name == "" || pod.Spec.NodeName == "" {
		return BackendPod{}, false
	}
	if !podMatches(svc.Selector, pod) {
		return BackendPod{}, false
	}
	return BackendPod{Node: pod.Spec.NodeName, Service: serviceKey}, true
}

func mapPods(pods []*v1.Pod, svc BalancedService, serviceKey string) map[string]BackendPod {
	result := make(map[string]BackendPod, len(pods))
	for _, pod := range pods {
		if bp, ok := mapPod(pod, svc, serviceKey); ok {
			result[pod.Name] = bp
		}
	}
	return result
}
