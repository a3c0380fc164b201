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
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notifyrelay/common"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ServerURI connect to NATS server with URI
	ServerURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempt. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// NatsClient NATS client used for mirroring events
type NatsClient struct {
	goutils.Component
	nc *nats.Conn
}

// Close close the NATS client
func (c *NatsClient) Close(ctxt context.Context) {
	if err := c.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("NATS flush failed")
	}
	c.nc.Close()
	log.WithFields(c.LogTags).Infof("Close NATS client")
}

// NATs fetch the NATS connection
func (c *NatsClient) NATs() *nats.Conn {
	return c.nc
}

// GetNatsClient define a new NATS client
func GetNatsClient(param NATSConnectParams) (*NatsClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-client",
		"instance":  param.ServerURI,
	}
	nc, err := nats.Connect(
		param.ServerURI,
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(param.MaxReconnectAttempt),
		nats.ReconnectWait(param.ReconnectWait),
		nats.DisconnectErrHandler(param.OnDisconnectCallback),
		nats.ReconnectHandler(param.OnReconnectCallback),
		nats.ClosedHandler(param.OnCloseCallback),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return nil, err
	}
	log.WithFields(logTags).Info("Created NATS client")
	return &NatsClient{Component: goutils.Component{LogTags: logTags}, nc: nc}, nil
}

// ========================================================================================

// EventMirror forwards accepted events to another system
type EventMirror interface {
	// Forward publish a batch of accepted events
	Forward(ctxt context.Context, events []common.Event) error
	// Ready whether the mirror can currently forward events
	Ready() bool
}

// natsEventMirror implements EventMirror by publishing onto a NATS subject
type natsEventMirror struct {
	goutils.Component
	client  *NatsClient
	subject string
}

// GetNatsEventMirror define a new NATS backed event mirror
func GetNatsEventMirror(client *NatsClient, subject string) (EventMirror, error) {
	if len(subject) == 0 {
		return nil, fmt.Errorf("event mirror requires a NATS subject")
	}
	logTags := log.Fields{
		"module":    "core",
		"component": "event-mirror",
		"instance":  subject,
	}
	return &natsEventMirror{
		Component: goutils.Component{LogTags: logTags},
		client:    client,
		subject:   subject,
	}, nil
}

// Forward publish each event as a separate JSON message
func (m *natsEventMirror) Forward(ctxt context.Context, events []common.Event) error {
	localLogTags := m.GetLogTagsForContext(ctxt)
	for _, event := range events {
		payload, err := json.Marshal(&event)
		if err != nil {
			log.WithError(err).WithFields(localLogTags).Errorf("Unable to serialize %s", event)
			return err
		}
		if err := m.client.NATs().Publish(m.subject, payload); err != nil {
			log.WithError(err).WithFields(localLogTags).Errorf("Unable to publish %s", event)
			return err
		}
	}
	log.WithFields(localLogTags).Debugf("Forwarded %d events", len(events))
	return nil
}

// Ready whether the NATS connection is up
func (m *natsEventMirror) Ready() bool {
	return m.client.NATs().Status() == nats.CONNECTED
}
