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

package common

import (
	"fmt"
	"time"
)

// EventTimestampFormat is the layout of the server assigned event timestamp
const EventTimestampFormat = "1/2/2006, 3:04:05 PM"

// Event one accepted presence change reported by the upstream source
type Event struct {
	// ID is the opaque ID of the resource the change is about
	ID string `json:"id"`
	// Availability is the reported availability status
	Availability string `json:"availability"`
	// Activity is the optional reported activity
	Activity string `json:"activity,omitempty"`
	// Timestamp is when the relay accepted the event
	Timestamp string `json:"timestamp"`
}

// String toString function
func (e Event) String() string {
	return fmt.Sprintf("EVENT[%s %s/%s @ %s]", e.ID, e.Availability, e.Activity, e.Timestamp)
}

// ResourceData the resource state carried by one notification
type ResourceData struct {
	ID           string `json:"id"`
	Availability string `json:"availability" validate:"required"`
	Activity     string `json:"activity,omitempty"`
}

// NotificationItem one candidate entry of a webhook notification
type NotificationItem struct {
	ResourceData *ResourceData `json:"resourceData" validate:"required"`
}

// ToEvent convert the notification into an Event accepted at the given time
func (n NotificationItem) ToEvent(acceptedAt time.Time) Event {
	return Event{
		ID:           n.ResourceData.ID,
		Availability: n.ResourceData.Availability,
		Activity:     n.ResourceData.Activity,
		Timestamp:    acceptedAt.Format(EventTimestampFormat),
	}
}
