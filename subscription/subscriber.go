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

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Subscriber one live subscriber connection
type Subscriber interface {
	// ID the subscriber ID
	ID() string
	// IsOpen whether the connection is still open
	IsOpen() bool
	// Deliver queue a payload for transmission without blocking
	Deliver(payload []byte) error
	// WaitForClose block until the remote end closes the connection
	WaitForClose() error
	// Close close the connection
	Close() error
}

// subscriberImpl implements Subscriber
type subscriberImpl struct {
	goutils.Component
	id        string
	transport Transport
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// DefineSubscriber define a new subscriber over a transport
//
// A writer loop draining the outbound queue is started immediately. It exits when the
// subscriber is closed, the root context ends, or a write fails; a failed write closes
// the subscriber.
func DefineSubscriber(
	rootCtxt context.Context,
	id string,
	transport Transport,
	queueDepth int,
	wg *sync.WaitGroup,
) (Subscriber, error) {
	if queueDepth < 1 {
		return nil, fmt.Errorf("outbound queue depth must be at least 1, got %d", queueDepth)
	}
	logTags := log.Fields{
		"module": "subscription", "component": "subscriber", "instance": id,
	}
	instance := &subscriberImpl{
		Component: goutils.Component{LogTags: logTags},
		id:        id,
		transport: transport,
		outbound:  make(chan []byte, queueDepth),
		done:      make(chan struct{}),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		instance.writeLoop(rootCtxt)
	}()
	return instance, nil
}

func (s *subscriberImpl) writeLoop(ctxt context.Context) {
	defer log.WithFields(s.LogTags).Debug("Writer loop exiting")
	for {
		select {
		case <-s.done:
			return
		case <-ctxt.Done():
			_ = s.Close()
			return
		case payload := <-s.outbound:
			if err := s.transport.Send(payload); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Failed to send payload")
				_ = s.Close()
				return
			}
			log.WithFields(s.LogTags).Debugf("Sent %dB", len(payload))
		}
	}
}

// ID the subscriber ID
func (s *subscriberImpl) ID() string {
	return s.id
}

// IsOpen whether the connection is still open
func (s *subscriberImpl) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Deliver queue a payload for transmission without blocking
func (s *subscriberImpl) Deliver(payload []byte) error {
	if !s.IsOpen() {
		return ErrSubscriberClosed
	}
	select {
	case s.outbound <- payload:
		return nil
	default:
		return ErrSubscriberBacklogged
	}
}

// WaitForClose block until the remote end closes the connection
func (s *subscriberImpl) WaitForClose() error {
	return s.transport.WaitForClose()
}

// Close close the connection
func (s *subscriberImpl) Close() error {
	s.closeOnce.Do(func() {
		log.WithFields(s.LogTags).Debug("Closing subscriber")
		close(s.done)
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}
