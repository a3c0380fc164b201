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

package storage

import (
	"fmt"

	"github.com/alwitt/notifyrelay/common"
)

// memoryEventBuffer implements EventBuffer with a growing slice
type memoryEventBuffer struct {
	events []common.Event
	window int
}

// GetMemoryEventBuffer define a new in-memory event buffer
//
// Storage is unbounded; only the view returned by Recent is limited to window entries.
func GetMemoryEventBuffer(window int) (EventBuffer, error) {
	if window < 1 {
		return nil, fmt.Errorf("recent event window must be at least 1, got %d", window)
	}
	return &memoryEventBuffer{events: make([]common.Event, 0), window: window}, nil
}

// Append add an event to the tail of the buffer
func (b *memoryEventBuffer) Append(event common.Event) {
	b.events = append(b.events, event)
}

// Recent the most recently appended events, oldest first, up to the window size
func (b *memoryEventBuffer) Recent() []common.Event {
	start := 0
	if len(b.events) > b.window {
		start = len(b.events) - b.window
	}
	result := make([]common.Event, len(b.events)-start)
	copy(result, b.events[start:])
	return result
}

// All every buffered event in append order
func (b *memoryEventBuffer) All() []common.Event {
	result := make([]common.Event, len(b.events))
	copy(result, b.events)
	return result
}

// Clear drop every buffered event
func (b *memoryEventBuffer) Clear() {
	b.events = make([]common.Event, 0)
}

// Len number of buffered events
func (b *memoryEventBuffer) Len() int {
	return len(b.events)
}
