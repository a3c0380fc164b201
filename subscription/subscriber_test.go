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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// mockTransport records every payload sent over it
type mockTransport struct {
	lock      sync.Mutex
	sent      [][]byte
	sendErr   error
	gate      chan struct{}
	sending   int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{sent: make([][]byte, 0), closed: make(chan struct{})}
}

func (m *mockTransport) Send(payload []byte) error {
	atomic.AddInt32(&m.sending, 1)
	if m.gate != nil {
		<-m.gate
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockTransport) WaitForClose() error {
	<-m.closed
	return nil
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockTransport) payloads() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	result := make([]string, len(m.sent))
	for idx, payload := range m.sent {
		result[idx] = string(payload)
	}
	return result
}

func TestSubscriberDelivery(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	// Case 0: invalid queue depth
	{
		_, err := DefineSubscriber(utCtxt, "bad", newMockTransport(), 0, &wg)
		assert.NotNil(err)
	}

	transport := newMockTransport()
	uut, err := DefineSubscriber(utCtxt, "sub-0", transport, 4, &wg)
	assert.Nil(err)
	assert.Equal("sub-0", uut.ID())
	assert.True(uut.IsOpen())

	// Case 1: payloads are sent in order
	{
		for itr := 0; itr < 3; itr++ {
			assert.Nil(uut.Deliver([]byte(fmt.Sprintf("msg-%d", itr))))
		}
		assert.Eventually(func() bool {
			return len(transport.payloads()) == 3
		}, time.Second, time.Millisecond*10)
		assert.Equal([]string{"msg-0", "msg-1", "msg-2"}, transport.payloads())
	}

	// Case 2: close the subscriber
	{
		assert.Nil(uut.Close())
		assert.False(uut.IsOpen())
		assert.True(transport.isClosed())
		assert.True(errors.Is(uut.Deliver([]byte("late")), ErrSubscriberClosed))
		// Closing again is fine
		assert.Nil(uut.Close())
		// The remote side sees the close
		assert.Nil(uut.WaitForClose())
	}
}

func TestSubscriberSendFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	transport := newMockTransport()
	transport.sendErr = fmt.Errorf("dummy error")
	uut, err := DefineSubscriber(utCtxt, "sub-fail", transport, 4, &wg)
	assert.Nil(err)

	// A failed write closes the subscriber
	assert.Nil(uut.Deliver([]byte("msg")))
	assert.Eventually(func() bool {
		return !uut.IsOpen()
	}, time.Second, time.Millisecond*10)
	assert.True(transport.isClosed())
}

func TestSubscriberBacklog(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	transport := newMockTransport()
	transport.gate = make(chan struct{})
	uut, err := DefineSubscriber(utCtxt, "sub-slow", transport, 1, &wg)
	assert.Nil(err)

	// First payload is picked up by the writer, which then blocks
	assert.Nil(uut.Deliver([]byte("msg-0")))
	assert.Eventually(func() bool {
		return atomic.LoadInt32(&transport.sending) == 1
	}, time.Second, time.Millisecond*10)
	// Second fills the queue
	assert.Nil(uut.Deliver([]byte("msg-1")))
	// Third is rejected
	assert.True(errors.Is(uut.Deliver([]byte("msg-2")), ErrSubscriberBacklogged))

	close(transport.gate)
	assert.Eventually(func() bool {
		return len(transport.payloads()) == 2
	}, time.Second, time.Millisecond*10)
	assert.Equal([]string{"msg-0", "msg-1"}, transport.payloads())
	assert.Nil(uut.Close())
}

func TestSubscriberContextCancel(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	transport := newMockTransport()
	uut, err := DefineSubscriber(utCtxt, "sub-cancel", transport, 2, &wg)
	assert.Nil(err)

	utCtxtCancel()
	assert.Eventually(func() bool {
		return !uut.IsOpen()
	}, time.Second, time.Millisecond*10)
	assert.True(transport.isClosed())
}
