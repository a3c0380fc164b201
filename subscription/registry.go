// Copyright 2022 The notifyrelay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package subscription

import "fmt"

// Registry tracks the currently open subscriber connections
//
// Implementations are not safe for concurrent use; the owner serializes access.
type Registry interface {
	// Register add a new subscriber
	Register(sub Subscriber) error
	// Deregister remove a subscriber, returning it
	Deregister(id string) (Subscriber, error)
	// Open the registered subscribers which are still open
	Open() []Subscriber
	// Len number of registered subscribers
	Len() int
}

// registryImpl implements Registry
type registryImpl struct {
	subscribers map[string]Subscriber
}

// GetRegistry define a new, empty subscriber registry
func GetRegistry() Registry {
	return &registryImpl{subscribers: make(map[string]Subscriber)}
}

// Register add a new subscriber
func (r *registryImpl) Register(sub Subscriber) error {
	if _, ok := r.subscribers[sub.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, sub.ID())
	}
	r.subscribers[sub.ID()] = sub
	return nil
}

// Deregister remove a subscriber, returning it
func (r *registryImpl) Deregister(id string) (Subscriber, error) {
	sub, ok := r.subscribers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscriber, id)
	}
	delete(r.subscribers, id)
	return sub, nil
}

// Open the registered subscribers which are still open
func (r *registryImpl) Open() []Subscriber {
	result := make([]Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		if sub.IsOpen() {
			result = append(result, sub)
		}
	}
	return result
}

// Len number of registered subscribers
func (r *registryImpl) Len() int {
	return len(r.subscribers)
}
