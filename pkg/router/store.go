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
	"math/rand"
	"sort"
	"sync"
)

// Store holds the routing state. Nodes, the service descriptor and pods are
// three independently locked collections.
//
// Pods are kept twice: podNames is the roster used for uniform random
// selection and pods holds the details. podNamesLock is always acquired
// before podsLock. Writers hold the podNamesLock write lock for the whole
// mutation and readers hold its read lock until the detail lookup is done,
// so a reader never sees a roster entry without its detail.
type Store struct {
	nodesLock sync.RWMutex
	nodes     map[string]AddressableNode

	serviceLock sync.RWMutex
	service     *BalancedService

	podNamesLock sync.RWMutex
	podNames     []string
	podsLock     sync.RWMutex
	pods         map[string]BackendPod
}

// NewStore returns an empty Store
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]AddressableNode),
		pods:  make(map[string]BackendPod),
	}
}

// Nodes returns a copy of the node map
func (s *Store) Nodes() map[string]AddressableNode {
	s.nodesLock.RLock()
	defer s.nodesLock.RUnlock()
	result := make(map[string]AddressableNode, len(s.nodes))
	for name, node := range s.nodes {
		result[name] = node
	}
	return result
}

// Node returns the stored node by name
func (s *Store) Node(name string) (AddressableNode, bool) {
	s.nodesLock.RLock()
	defer s.nodesLock.RUnlock()
	node, ok := s.nodes[name]
	return node, ok
}

// ReplaceNodes replaces every stored node
func (s *Store) ReplaceNodes(nodes map[string]AddressableNode) {
	if nodes == nil {
		nodes = make(map[string]AddressableNode)
	}
	s.nodesLock.Lock()
	defer s.nodesLock.Unlock()
	s.nodes = nodes
}

// UpsertNode inserts or replaces a node
func (s *Store) UpsertNode(name string, node AddressableNode) {
	s.nodesLock.Lock()
	defer s.nodesLock.Unlock()
	s.nodes[name] = node
}

// RemoveNode deletes a node, it is a no-op if the node is unknown
func (s *Store) RemoveNode(name string) {
	s.nodesLock.Lock()
	defer s.nodesLock.Unlock()
	delete(s.nodes, name)
}

// Service returns the active service descriptor, if any
func (s *Store) Service() (BalancedService, bool) {
	s.serviceLock.RLock()
	defer s.serviceLock.RUnlock()
	if s.service == nil {
		return BalancedService{}, false
	}
	return *s.service, true
}

// ReplaceService sets the active descriptor, nil clears it
func (s *Store) ReplaceService(svc *BalancedService) {
	s.serviceLock.Lock()
	defer s.serviceLock.Unlock()
	s.service = svc
}

// Pod returns the detail of a pod in the roster
func (s *Store) Pod(name string) (BackendPod, bool) {
	s.podsLock.RLock()
	defer s.podsLock.RUnlock()
	pod, ok := s.pods[name]
	return pod, ok
}

// PodNames returns a copy of the roster
func (s *Store) PodNames() []string {
	s.podNamesLock.RLock()
	defer s.podNamesLock.RUnlock()
	return append([]string(nil), s.podNames...)
}

// RandomPod picks a pod uniformly at random from the roster and returns it
// with its detail.
func (s *Store) RandomPod() (string, BackendPod, error) {
	s.podNamesLock.RLock()
	defer s.podNamesLock.RUnlock()
	if len(s.podNames) == 0 {
		return "", BackendPod{}, ErrNoPodsAvailable
	}
	name := s.podNames[rand.Intn(len(s.podNames))]

	s.podsLock.RLock()
	defer s.podsLock.RUnlock()
	pod, ok := s.pods[name]
	if !ok {
		return "", BackendPod{}, ErrNoPodsAvailable
	}
	return name, pod, nil
}

// ReplacePods replaces the roster and the pod details
func (s *Store) ReplacePods(pods map[string]BackendPod) {
	names := make([]string, 0, len(pods))
	details := make(map[string]BackendPod, len(pods))
	for name, pod := range pods {
		names = append(names, name)
		details[name] = pod
	}
	sort.Strings(names)

	s.podNamesLock.Lock()
	defer s.podNamesLock.Unlock()
	s.podsLock.Lock()
	defer s.podsLock.Unlock()
	s.pods = details
	s.podNames = names
}

// UpsertPod inserts or replaces a pod. The detail is written before the name
// becomes visible in the roster.
func (s *Store) UpsertPod(name string, pod BackendPod) {
	s.podNamesLock.Lock()
	defer s.podNamesLock.Unlock()
	s.podsLock.Lock()
	_, exists := s.pods[name]
	s.pods[name] = pod
	s.podsLock.Unlock()
	if !exists {
		s.podNames = append(s.podNames, name)
	}
}

// RemovePod deletes a pod from the roster and the details. It returns false
// if the pod was not present.
func (s *Store) RemovePod(name string) bool {
	s.podNamesLock.Lock()
	defer s.podNamesLock.Unlock()
	s.podsLock.Lock()
	_, exists := s.pods[name]
	delete(s.pods, name)
	s.podsLock.Unlock()
	if !exists {
		return false
	}
	for i, n := range s.podNames {
		if n == name {
			last := len(s.podNames) - 1
			s.podNames[i] = s.podNames[last]
			s.podNames = s.podNames[:last]
			break
		}
	}
	return true
}

// PodEntry is one roster entry with its detail
type PodEntry struct {
	Name string `json:"name"`
	BackendPod
}

// Pods returns the roster with details in roster order
func (s *Store) Pods() []PodEntry {
	s.podNamesLock.RLock()
	defer s.podNamesLock.RUnlock()
	s.podsLock.RLock()
	defer s.podsLock.RUnlock()
	result := make([]PodEntry, 0, len(s.podNames))
	for _, name := range s.podNames {
		result = append(result, PodEntry{Name: name, BackendPod: s.pods[name]})
	}
	return result
}
