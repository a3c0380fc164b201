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

import "github.com/alwitt/notifyrelay/common"

// EventBuffer ordered in-memory record of accepted events
//
// Implementations are not safe for concurrent use; the owner serializes access.
type EventBuffer interface {
	// Append add an event to the tail of the buffer
	Append(event common.Event)
	// Recent the most recently appended events, oldest first, up to the window size
	Recent() []common.Event
	// All every buffered event in append order
	All() []common.Event
	// Clear drop every buffered event
	Clear()
	// Len number of buffered events
	Len() int
}
