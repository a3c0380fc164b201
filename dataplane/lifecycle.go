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

package dataplane

import (
	"context"
	"encoding/json"

	"github.com/alwitt/notifyrelay/subscription"
	"github.com/apex/log"
)

// Connect register a new subscriber and send it the recent events
//
// The catch-up payload goes to the new subscriber only, and is always the first payload
// it receives.
func (r *relayImpl) Connect(ctxt context.Context, sub subscription.Subscriber) error {
	localLogTags := r.GetLogTagsForContext(ctxt)
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.registry.Register(sub); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to register subscriber")
		return err
	}
	log.WithFields(localLogTags).Infof(
		"Subscriber %s connected, %d total", sub.ID(), r.registry.Len(),
	)

	payload, err := json.Marshal(r.buffer.Recent())
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to serialize recent events")
		return err
	}
	if err := sub.Deliver(payload); err != nil {
		log.WithError(err).WithFields(localLogTags).Warnf(
			"Unable to send catch-up to subscriber %s", sub.ID(),
		)
	}
	return nil
}

// Disconnect deregister a subscriber and clear the event buffer
//
// The buffer is cleared on every disconnect, even when other subscribers remain.
func (r *relayImpl) Disconnect(ctxt context.Context, id string) error {
	localLogTags := r.GetLogTagsForContext(ctxt)
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, err := r.registry.Deregister(id); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Unable to deregister subscriber %s", id)
		return err
	}
	dropped := r.buffer.Len()
	r.buffer.Clear()
	log.WithFields(localLogTags).Infof(
		"Subscriber %s disconnected, %d remain, cleared %d events", id, r.registry.Len(), dropped,
	)
	return nil
}
