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

	"github.com/apex/log"
)

// Broadcast send the recent events to every open subscriber
func (r *relayImpl) Broadcast(ctxt context.Context) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.broadcastLocked(ctxt)
}

// broadcastLocked snapshot the recent events once and queue the same payload for every
// open subscriber. A subscriber which can't take the payload is skipped.
//
// Caller must hold the relay lock.
func (r *relayImpl) broadcastLocked(ctxt context.Context) (int, error) {
	localLogTags := r.GetLogTagsForContext(ctxt)
	payload, err := json.Marshal(r.buffer.Recent())
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to serialize recent events")
		return 0, err
	}
	delivered := 0
	for _, sub := range r.registry.Open() {
		if err := sub.Deliver(payload); err != nil {
			log.WithError(err).WithFields(localLogTags).Warnf(
				"Unable to deliver to subscriber %s", sub.ID(),
			)
			continue
		}
		delivered++
	}
	log.WithFields(localLogTags).Debugf("Broadcast %dB to %d subscribers", len(payload), delivered)
	return delivered, nil
}

// =======================================================================
// Heartbeat

// Heartbeat broadcast if there is at least one subscriber
func (r *relayImpl) Heartbeat(ctxt context.Context) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.registry.Len() == 0 {
		return false, nil
	}
	log.WithFields(r.GetLogTagsForContext(ctxt)).Debug(
		"Sending heartbeat with recent events to all subscribers",
	)
	_, err := r.broadcastLocked(ctxt)
	return true, err
}

// StartHeartbeat begin the periodic heartbeat
func (r *relayImpl) StartHeartbeat() error {
	return r.heartbeat.Start(r.params.HeartbeatInterval, func() error {
		_, err := r.Heartbeat(r.rootContext)
		return err
	})
}

// StopHeartbeat stop the periodic heartbeat
func (r *relayImpl) StopHeartbeat() error {
	return r.heartbeat.Stop()
}
