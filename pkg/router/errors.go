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

	"github.com/pkg/errors"
)

var (
	// ErrNoPodsAvailable is returned when the roster holds no backend pod
	ErrNoPodsAvailable = errors.New("no pods available")
	// ErrServiceNotFound is returned when no Service descriptor is active
	ErrServiceNotFound = errors.New("service not found")
	// ErrMissingSpec is returned when a Service object carries no spec
	ErrMissingSpec = errors.New("resource is missing spec")
)

// UnknownNodeError means a backend pod references a node that is not stored
type UnknownNodeError struct {
	Node string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node: %s", e.Node)
}

// NoAddressesAvailableError means a node has no address to route to
type NoAddressesAvailableError struct {
	Node string
}

func (e *NoAddressesAvailableError) Error() string {
	return fmt.Sprintf("node %s has no addresses", e.Node)
}

// UnknownPortError means the active Service does not expose the listen port
type UnknownPortError struct {
	Port int32
}

func (e *UnknownPortError) Error() string {
	return fmt.Sprintf("port %d not found", e.Port)
}

// WrongServiceTypeError means the watched Service is not of type NodePort
type WrongServiceTypeError struct {
	Type string
}

func (e *WrongServiceTypeError) Error() string {
	return fmt.Sprintf("service wanted NodePort, got %s", e.Type)
}
