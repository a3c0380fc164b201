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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notifyrelay/common"
	"github.com/alwitt/notifyrelay/core"
	"github.com/alwitt/notifyrelay/storage"
	"github.com/alwitt/notifyrelay/subscription"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// Relay buffers accepted events and fans them out to live subscribers
type Relay interface {
	// Ingest filter candidate events, buffer the qualifying ones, and broadcast
	// once if any qualified. Returns the number of events accepted.
	Ingest(ctxt context.Context, candidates []common.NotificationItem) (int, error)
	// Connect register a new subscriber and send it the recent events
	Connect(ctxt context.Context, sub subscription.Subscriber) error
	// Disconnect deregister a subscriber and clear the event buffer
	Disconnect(ctxt context.Context, id string) error
	// Broadcast send the recent events to every open subscriber. Returns the
	// number of subscribers the payload was queued for.
	Broadcast(ctxt context.Context) (int, error)
	// Heartbeat broadcast if there is at least one subscriber. Returns whether
	// a broadcast was made.
	Heartbeat(ctxt context.Context) (bool, error)
	// StartHeartbeat begin the periodic heartbeat
	StartHeartbeat() error
	// StopHeartbeat stop the periodic heartbeat
	StopHeartbeat() error
	// RecentEvents the recent events view of the buffer
	RecentEvents() []common.Event
	// AllEvents every buffered event
	AllEvents() []common.Event
	// SubscriberCount number of registered subscribers
	SubscriberCount() int
	// Ready whether the relay is fully operational
	Ready() bool
}

// RelayParams relay operating parameters
type RelayParams struct {
	// RecentWindow number of most recent events sent to subscribers
	RecentWindow int `validate:"gte=1"`
	// HeartbeatInterval period between heartbeat broadcasts
	HeartbeatInterval time.Duration `validate:"gt=0"`
}

// relayImpl implements Relay
type relayImpl struct {
	goutils.Component
	rootContext context.Context
	params      RelayParams
	lock        sync.Mutex
	buffer      storage.EventBuffer
	registry    subscription.Registry
	heartbeat   common.IntervalTimer
	mirror      core.EventMirror
	validate    *validator.Validate
	now         func() time.Time
}

// GetRelay define a new relay
//
// mirror is optional; when provided every accepted event is forwarded to it.
func GetRelay(
	rootCtxt context.Context,
	instance string,
	params RelayParams,
	mirror core.EventMirror,
	wg *sync.WaitGroup,
) (Relay, error) {
	logTags := log.Fields{
		"module": "dataplane", "component": "relay", "instance": instance,
	}
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid relay parameters")
		return nil, err
	}
	buffer, err := storage.GetMemoryEventBuffer(params.RecentWindow)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define event buffer")
		return nil, err
	}
	heartbeat, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("%s.heartbeat", instance), rootCtxt, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define heartbeat timer")
		return nil, err
	}
	return &relayImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		rootContext: rootCtxt,
		params:      params,
		buffer:      buffer,
		registry:    subscription.GetRegistry(),
		heartbeat:   heartbeat,
		mirror:      mirror,
		validate:    validate,
		now:         time.Now,
	}, nil
}

// =======================================================================
// Ingestion

// Ingest filter candidate events, buffer the qualifying ones, and broadcast
func (r *relayImpl) Ingest(
	ctxt context.Context, candidates []common.NotificationItem,
) (int, error) {
	localLogTags := r.GetLogTagsForContext(ctxt)

	// Each candidate is its own task; slot N holds candidate N's event if accepted
	accepted := make([]*common.Event, len(candidates))
	tasks := new(errgroup.Group)
	for idx, candidate := range candidates {
		idx, candidate := idx, candidate
		tasks.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("candidate %d processing panicked: %v", idx, rec)
				}
			}()
			event, err := r.acceptCandidate(localLogTags, candidate)
			if err != nil {
				return fmt.Errorf("candidate %d: %w", idx, err)
			}
			accepted[idx] = event
			return nil
		})
	}
	processErr := tasks.Wait()
	if processErr != nil {
		log.WithError(processErr).WithFields(localLogTags).Error("Event processing failed")
	}

	newEvents := make([]common.Event, 0, len(accepted))
	for _, event := range accepted {
		if event != nil {
			newEvents = append(newEvents, *event)
		}
	}
	log.WithFields(localLogTags).Debugf(
		"Accepted %d of %d candidate events", len(newEvents), len(candidates),
	)
	if len(newEvents) == 0 {
		return 0, processErr
	}

	if _, err := r.Broadcast(ctxt); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Broadcast after ingest failed")
	}
	if r.mirror != nil {
		if err := r.mirror.Forward(ctxt, newEvents); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Unable to mirror events")
		}
	}
	return len(newEvents), processErr
}

// acceptCandidate buffer the candidate if it qualifies. Returns nil if it did not.
func (r *relayImpl) acceptCandidate(
	logTags log.Fields, candidate common.NotificationItem,
) (*common.Event, error) {
	if err := r.validate.Struct(&candidate); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			log.WithFields(logTags).Debugf("Dropping candidate: %s", err.Error())
			return nil, nil
		}
		return nil, err
	}

	event := func() common.Event {
		r.lock.Lock()
		defer r.lock.Unlock()
		event := candidate.ToEvent(r.now())
		r.buffer.Append(event)
		return event
	}()

	log.WithFields(logTags).WithFields(log.Fields{
		"status":    event.Availability,
		"activity":  event.Activity,
		"timestamp": event.Timestamp,
		"id":        event.ID,
	}).Info("Updated status")
	return &event, nil
}

// =======================================================================
// Buffer views

// RecentEvents the recent events view of the buffer
func (r *relayImpl) RecentEvents() []common.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.buffer.Recent()
}

// AllEvents every buffered event
func (r *relayImpl) AllEvents() []common.Event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.buffer.All()
}

// SubscriberCount number of registered subscribers
func (r *relayImpl) SubscriberCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.registry.Len()
}

// Ready whether the heartbeat is running and the mirror, if any, is usable
func (r *relayImpl) Ready() bool {
	if !r.heartbeat.IsRunning() {
		return false
	}
	return r.mirror == nil || r.mirror.Ready()
}
