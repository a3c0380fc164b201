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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/notifyrelay/common"
	"github.com/alwitt/notifyrelay/subscription"
	"github.com/stretchr/testify/assert"
)

// recordingTransport test transport which records every payload sent
type recordingTransport struct {
	lock      sync.Mutex
	sent      [][]byte
	sendErr   error
	closed    chan struct{}
	closeOnce sync.Once
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: make([][]byte, 0), closed: make(chan struct{})}
}

func (m *recordingTransport) Send(payload []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *recordingTransport) WaitForClose() error {
	<-m.closed
	return nil
}

func (m *recordingTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *recordingTransport) count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.sent)
}

// received decode the payload at idx as a list of events
func (m *recordingTransport) received(t *testing.T, idx int) []common.Event {
	m.lock.Lock()
	defer m.lock.Unlock()
	if idx >= len(m.sent) {
		t.Fatalf("payload %d not received, only have %d", idx, len(m.sent))
	}
	var events []common.Event
	if err := json.Unmarshal(m.sent[idx], &events); err != nil {
		t.Fatalf("payload %d is not an event list: %s", idx, err.Error())
	}
	return events
}

func (m *recordingTransport) raw(idx int) string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return string(m.sent[idx])
}

// recordingMirror test event mirror
type recordingMirror struct {
	lock      sync.Mutex
	forwarded []common.Event
	calls     int
	ready     bool
}

func (m *recordingMirror) Forward(_ context.Context, events []common.Event) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls++
	m.forwarded = append(m.forwarded, events...)
	return nil
}

func (m *recordingMirror) Ready() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.ready
}

// candidate helper to define a notification item
func candidate(id, availability, activity string) common.NotificationItem {
	return common.NotificationItem{
		ResourceData: &common.ResourceData{ID: id, Availability: availability, Activity: activity},
	}
}

// defineSubscriber helper to define a subscriber over a recording transport
func defineSubscriber(
	t *testing.T, ctxt context.Context, id string, wg *sync.WaitGroup,
) (subscription.Subscriber, *recordingTransport) {
	transport := newRecordingTransport()
	sub, err := subscription.DefineSubscriber(ctxt, id, transport, 8, wg)
	if err != nil {
		t.Fatalf("unable to define subscriber %s: %s", id, err.Error())
	}
	return sub, transport
}

// waitForPayloads wait until the transport has seen the expected number of payloads
func waitForPayloads(assert *assert.Assertions, transport *recordingTransport, expected int) {
	assert.Eventuallyf(func() bool {
		return transport.count() == expected
	}, time.Second, time.Millisecond*10, "expected %d payloads", expected)
}

func eventIDs(events []common.Event) []string {
	result := make([]string, len(events))
	for idx, event := range events {
		result[idx] = event.ID
	}
	return result
}

func idList(prefix string, start, end int) []string {
	result := []string{}
	for itr := start; itr < end; itr++ {
		result = append(result, fmt.Sprintf("%s%d", prefix, itr))
	}
	return result
}
