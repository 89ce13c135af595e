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

// AddressableNode is a worker node reachable over the cluster network.
// Addresses holds its InternalIP addresses in status order and is never empty.
type AddressableNode struct {
	Addresses []string `json:"addresses"`
}

// BalancedService is the routing policy of the watched Service
type BalancedService struct {
	// Selector is the Service's pod selector. An empty selector matches all pods.
	Selector map[string]string `json:"selector"`
	// PortMap maps a Service port (the port the balancer listens on) to its node port
	PortMap map[int32]int32 `json:"portMap"`
}

// BackendPod is a pod that currently matches the active Service selector
// and has been scheduled to a node.
type BackendPod struct {
	Node string `json:"node"`
	// Service is the namespace/name key of the Service the pod backs
	Service string `json:"service"`
}
