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
	"fmt"
	"sort"
	"sync"
	"testing"
)

func checkRosterConsistent(t *testing.T, s *Store) {
	t.Helper()
	names := s.PodNames()
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			t.Fatalf("duplicate roster entry %s", name)
		}
		seen[name] = true
		if _, ok := s.Pod(name); !ok {
			t.Fatalf("roster entry %s has no detail", name)
		}
	}
	s.podsLock.RLock()
	defer s.podsLock.RUnlock()
	if len(s.pods) != len(names) {
		t.Fatalf("expect %d details, get %d", len(names), len(s.pods))
	}
}

func TestStorePodLifecycle(t *testing.T) {
	s := NewStore()
	s.UpsertPod("p1", BackendPod{Node: "node-0"})
	s.UpsertPod("p2", BackendPod{Node: "node-1"})
	s.UpsertPod("p1", BackendPod{Node: "node-2"})
	checkRosterConsistent(t, s)
	if len(s.PodNames()) != 2 {
		t.Fatalf("expect 2 pods, get %v", s.PodNames())
	}
	if pod, _ := s.Pod("p1"); pod.Node != "node-2" {
		t.Fatalf("expect p1 on node-2, get %s", pod.Node)
	}

	if !s.RemovePod("p1") {
		t.Fatalf("expect p1 removed")
	}
	if s.RemovePod("p1") {
		t.Fatalf("expect second removal to report false")
	}
	checkRosterConsistent(t, s)
	if names := s.PodNames(); len(names) != 1 || names[0] != "p2" {
		t.Fatalf("expect [p2], get %v", names)
	}

	s.ReplacePods(map[string]BackendPod{"p3": {Node: "node-0"}, "p4": {Node: "node-0"}})
	checkRosterConsistent(t, s)
	names := s.PodNames()
	sort.Strings(names)
	if fmt.Sprint(names) != "[p3 p4]" {
		t.Fatalf("expect [p3 p4], get %v", names)
	}

	s.ReplacePods(nil)
	if _, _, err := s.RandomPod(); err != ErrNoPodsAvailable {
		t.Fatalf("expect ErrNoPodsAvailable, get %v", err)
	}
}

func TestStoreNodesAndService(t *testing.T) {
	s := NewStore()
	s.ReplaceNodes(map[string]AddressableNode{"node-0": {Addresses: []string{"10.0.0.1"}}})
	s.UpsertNode("node-1", AddressableNode{Addresses: []string{"10.0.0.2"}})
	s.RemoveNode("node-0")
	if _, ok := s.Node("node-0"); ok {
		t.Fatalf("expect node-0 removed")
	}
	if n, ok := s.Node("node-1"); !ok || n.Addresses[0] != "10.0.0.2" {
		t.Fatalf("expect node-1 stored, get %#v", n)
	}

	if _, ok := s.Service(); ok {
		t.Fatalf("expect no service")
	}
	s.ReplaceService(&BalancedService{PortMap: map[int32]int32{80: 30080}})
	if svc, ok := s.Service(); !ok || svc.PortMap[80] != 30080 {
		t.Fatalf("expect service with 80->30080, get %#v", svc)
	}
	s.ReplaceService(nil)
	if _, ok := s.Service(); ok {
		t.Fatalf("expect service cleared")
	}
}

// A reader must never pick a roster entry whose detail is already gone.
// "stable" is never removed, so any ErrNoPodsAvailable comes from the
// interleaving itself.
func TestStoreRandomPodUnderConcurrentChurn(t *testing.T) {
	s := NewStore()
	s.UpsertPod("stable", BackendPod{Node: "node-0"})

	const (
		writers    = 4
		readers    = 8
		iterations = 2000
	)
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				name := fmt.Sprintf("p%d-%d", w, i%5)
				s.UpsertPod(name, BackendPod{Node: "node-0"})
				s.RemovePod(name)
			}
		}(w)
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if _, _, err := s.RandomPod(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected selection error: %v", err)
	}
	checkRosterConsistent(t, s)
	if names := s.PodNames(); len(names) != 1 || names[0] != "stable" {
		t.Fatalf("expect only stable to remain, get %v", names)
	}
}
