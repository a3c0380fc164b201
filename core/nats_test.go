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

package core

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/alwitt/notifyrelay/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

// getUnitTestNatsURI the NATS server used by unit tests, if one is available
func getUnitTestNatsURI(t *testing.T) string {
	natsURI := os.Getenv("UNITTEST_NATS_URI")
	if natsURI == "" {
		t.Skip("UNITTEST_NATS_URI not set")
	}
	return natsURI
}

func TestNatsEventMirror(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	natsURI := getUnitTestNatsURI(t)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	client, err := GetNatsClient(NATSConnectParams{
		ServerURI:           natsURI,
		ConnectTimeout:      time.Second,
		MaxReconnectAttempt: 0,
		ReconnectWait:       time.Second,
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			if e != nil {
				log.WithError(e).Error("Disconnect callback triggered with failure")
			}
		},
		OnReconnectCallback: func(_ *nats.Conn) {},
		OnCloseCallback:     func(_ *nats.Conn) {},
	})
	assert.Nil(err)
	defer client.Close(utCtxt)

	// Case 0: subject is required
	{
		_, err := GetNatsEventMirror(client, "")
		assert.NotNil(err)
	}

	subject := uuid.NewString()
	uut, err := GetNatsEventMirror(client, subject)
	assert.Nil(err)
	assert.True(uut.Ready())

	sub, err := client.NATs().SubscribeSync(subject)
	assert.Nil(err)
	defer func() {
		_ = sub.Unsubscribe()
	}()

	// Case 1: forward two events
	events := []common.Event{
		{ID: "u1", Availability: "Busy", Timestamp: "1/2/2022, 3:04:05 PM"},
		{ID: "u2", Availability: "Away", Activity: "Away", Timestamp: "1/2/2022, 3:04:06 PM"},
	}
	assert.Nil(uut.Forward(utCtxt, events))
	for _, expected := range events {
		msg, err := sub.NextMsg(time.Second)
		assert.Nil(err)
		var received common.Event
		assert.Nil(json.Unmarshal(msg.Data, &received))
		assert.Equal(expected, received)
	}
}
