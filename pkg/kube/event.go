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

	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
)

// EventType tells which variant of Event is populated
type EventType string

const (
	// EventApplied means Object was created or updated
	EventApplied EventType = "Applied"
	// EventDeleted means Object was removed
	EventDeleted EventType = "Deleted"
	// EventRestarted means the stream resynced and Objects is the complete current set
	EventRestarted EventType = "Restarted"
)

// Event is a single notification delivered by a watch stream.
// Object is set for Applied and Deleted, Objects for Restarted.
type Event[T any] struct {
	Type    EventType
	Object  T
	Objects []T
}

// Applied returns an EventApplied event for obj
func Applied[T any](obj T) Event[T] {
	return Event[T]{Type: EventApplied, Object: obj}
}

// Deleted returns an EventDeleted event for obj
func Deleted[T any](obj T) Event[T] {
	return Event[T]{Type: EventDeleted, Object: obj}
}

// Restarted returns an EventRestarted event carrying the full object set
func Restarted[T any](objs []T) Event[T] {
	return Event[T]{Type: EventRestarted, Objects: objs}
}

// Handler consumes events of one resource kind. It is called sequentially
// from the goroutine running the watch.
type Handler[T any] func(Event[T])

// Client is the subset of the cluster API the balancer depends on.
//
// The Watch* methods block until the stream terminates. A stream always
// starts with a Restarted event holding the result of a full list, and any
// returned error is retryable by reopening the stream.
type Client interface {
	ListNodes(ctx context.Context) ([]*v1.Node, error)
	GetService(ctx context.Context, namespace, name string) (*v1.Service, error)
	ListPods(ctx context.Context, namespace string, selector labels.Selector) ([]*v1.Pod, error)

	WatchNodes(ctx context.Context, handler Handler[*v1.Node]) error
	WatchServices(ctx context.Context, namespace, name string, handler Handler[*v1.Service]) error
	WatchPods(ctx context.Context, namespace string, handler Handler[*v1.Pod]) error
}
