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

package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/notifyrelay/common"
	"github.com/alwitt/notifyrelay/dataplane"
	"github.com/alwitt/notifyrelay/subscription"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Fixed response bodies of the notification endpoint
const (
	notificationAccepted = "Event received"
	notificationFailed   = "Error processing events"
)

// APIRestRelayHandler REST handler for the notification relay
type APIRestRelayHandler struct {
	goutils.RestAPIHandler
	relay         dataplane.Relay
	upgrader      websocket.Upgrader
	subscriberCfg common.SubscriberConfig
	baseContext   context.Context
	wg            *sync.WaitGroup
}

// GetAPIRestRelayHandler define APIRestRelayHandler
func GetAPIRestRelayHandler(
	baseContext context.Context,
	relay dataplane.Relay,
	httpConfig *common.HTTPConfig,
	subscriberCfg common.SubscriberConfig,
	wg *sync.WaitGroup,
) (APIRestRelayHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "relay",
	}
	return APIRestRelayHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are not authenticated
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscriberCfg: subscriberCfg,
		baseContext:   baseContext,
		wg:            wg,
	}, nil
}

// writePlainText write a text/plain response
func (h APIRestRelayHandler) writePlainText(
	w http.ResponseWriter, r *http.Request, respCode int, body string,
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if h.CallRequestIDHeaderField != nil {
		if reqID := h.ReadRequestIDFromContext(r.Context()); reqID != "" {
			w.Header().Set(*h.CallRequestIDHeaderField, reqID)
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(respCode)
	if _, err := io.WriteString(w, body); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// =======================================================================
// Notification intake

// notificationEnvelope the webhook request body
type notificationEnvelope struct {
	Value json.RawMessage `json:"value"`
}

// parseCandidates extract the candidate events from a webhook request body
//
// Anything which can't be parsed contributes no candidates. A null list entry is an
// error, but the remaining candidates are still returned.
func (h APIRestRelayHandler) parseCandidates(
	r *http.Request, logTags log.Fields,
) ([]common.NotificationItem, error) {
	candidates := []common.NotificationItem{}
	if r.Body == nil {
		return candidates, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).WithFields(logTags).Warn("Unable to read request body")
		return candidates, nil
	}
	log.WithFields(logTags).Debugf("Received webhook event: %s", body)

	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Unable to parse request body")
		return candidates, nil
	}
	if len(envelope.Value) == 0 {
		return candidates, nil
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(envelope.Value, &rawItems); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Notification value is not a list")
		return candidates, nil
	}
	var nullErr error
	for idx, rawItem := range rawItems {
		if bytes.Equal(bytes.TrimSpace(rawItem), []byte("null")) {
			nullErr = fmt.Errorf("candidate %d is null", idx)
			continue
		}
		var item common.NotificationItem
		if err := json.Unmarshal(rawItem, &item); err != nil {
			log.WithError(err).WithFields(logTags).Debugf("Dropping unparsable candidate %d", idx)
			continue
		}
		candidates = append(candidates, item)
	}
	return candidates, nullErr
}

// ReceiveNotification godoc
// @Summary Receive a webhook notification
// @Description Accepts change notifications from the upstream source. When a
// validationToken query parameter is given, echoes it back without processing the body.
// Otherwise buffers every notification carrying an availability, and pushes the recent
// events to all subscribers.
// @tags Relay
// @Accept json
// @Produce plain
// @Param Notifyrelay-Request-ID header string false "User provided request ID to match against logs"
// @Param validationToken query string false "Endpoint validation challenge"
// @Param notification body common.NotificationItem true "Change notifications, wrapped in a 'value' list"
// @Success 200 {string} string "token echo, or 'Event received'"
// @Failure 500 {string} string "Error processing events"
// @Router /notifications [post]
func (h APIRestRelayHandler) ReceiveNotification(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	if token := r.URL.Query().Get("validationToken"); token != "" {
		log.WithFields(localLogTags).Info("Answering validation handshake")
		h.writePlainText(w, r, http.StatusOK, token)
		return
	}

	candidates, parseErr := h.parseCandidates(r, localLogTags)
	_, err := h.relay.Ingest(r.Context(), candidates)
	if err == nil {
		err = parseErr
	}
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error(notificationFailed)
		h.writePlainText(w, r, http.StatusInternalServerError, notificationFailed)
		return
	}
	h.writePlainText(w, r, http.StatusOK, notificationAccepted)
}

// ReceiveNotificationHandler Wrapper around ReceiveNotification
func (h APIRestRelayHandler) ReceiveNotificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ReceiveNotification(w, r)
	}
}

// -----------------------------------------------------------------------

// ListEvents godoc
// @Summary List buffered events
// @Description Return every event currently held by the relay, oldest first
// @tags Relay
// @Produce json
// @Param Notifyrelay-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {array} common.Event "success"
// @Router /events [get]
func (h APIRestRelayHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(w, http.StatusOK, h.relay.AllEvents(), nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ListEventsHandler Wrapper around ListEvents
func (h APIRestRelayHandler) ListEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListEvents(w, r)
	}
}

// =======================================================================
// Subscription

// Subscribe godoc
// @Summary Open a subscriber channel
// @Description Upgrade to a WebSocket. The recent events are sent on connect, then again
// on every broadcast. Client frames are ignored. Closing the channel clears the relay's
// event buffer.
// @tags Relay
// @Success 101 {array} common.Event "recent events, per message"
// @Failure 400 {string} string "not a WebSocket upgrade"
// @Router / [get]
func (h APIRestRelayHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("WebSocket upgrade failed")
		return
	}

	subscriberID := uuid.NewString()
	localLogTags["subscriber"] = subscriberID
	localLogTags["remote"] = r.RemoteAddr

	transport := subscription.GetWebSocketTransport(
		conn,
		time.Second*time.Duration(h.subscriberCfg.WriteTimeout),
		h.subscriberCfg.MaxInboundMsgBytes,
	)
	sub, err := subscription.DefineSubscriber(
		h.baseContext, subscriberID, transport, h.subscriberCfg.OutboundQueueDepth, h.wg,
	)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define subscriber")
		_ = transport.Close()
		return
	}
	if err := h.relay.Connect(r.Context(), sub); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to connect subscriber")
		_ = sub.Close()
		return
	}
	log.WithFields(localLogTags).Info("Client connected via WebSocket")

	if err := sub.WaitForClose(); err != nil {
		log.WithError(err).WithFields(localLogTags).Debug("Subscriber channel ended")
	}
	_ = sub.Close()
	if err := h.relay.Disconnect(r.Context(), subscriberID); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to disconnect subscriber")
		return
	}
	log.WithFields(localLogTags).Info("Client disconnected")
}

// SubscribeHandler Wrapper around Subscribe
func (h APIRestRelayHandler) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Subscribe(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For relay REST API liveness check
// @Description Will return success to indicate relay REST API module is live
// @tags Relay
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestRelayHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestRelayHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For relay REST API readiness check
// @Description Will return success if the heartbeat is running and the event mirror,
// when enabled, is connected
// @tags Relay
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestRelayHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.relay.Ready() {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestRelayHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
