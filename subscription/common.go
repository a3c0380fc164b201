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

import "errors"

// ErrSubscriberClosed the subscriber connection is no longer open
var ErrSubscriberClosed = errors.New("subscriber connection closed")

// ErrSubscriberBacklogged the subscriber's outbound queue is full
var ErrSubscriberBacklogged = errors.New("subscriber outbound queue full")

// ErrUnknownSubscriber no subscriber registered under the ID
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// ErrDuplicateSubscriber a subscriber is already registered under the ID
var ErrDuplicateSubscriber = errors.New("subscriber already registered")

// Transport the duplex channel underlying one subscriber connection
type Transport interface {
	// Send write one payload to the remote end
	//
	// Only one Send may be in progress at a time.
	Send(payload []byte) error
	// WaitForClose block, consuming inbound frames, until the channel closes
	WaitForClose() error
	// Close close the channel; safe to call more than once
	Close() error
}
