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

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/notifyrelay/apis"
	"github.com/alwitt/notifyrelay/common"
	"github.com/alwitt/notifyrelay/core"
	"github.com/alwitt/notifyrelay/dataplane"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// DefineRelayRouter build the relay server's request router
func DefineRelayRouter(
	httpHandler apis.APIRestRelayHandler, endpoints common.RelayEndpointConfig,
) *mux.Router {
	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, endpoints.PathPrefix, nil)

	// Webhook intake
	_ = apis.RegisterPathPrefix(mainRouter, "/notifications", apis.MethodHandlers{
		"post": httpHandler.LoggingMiddleware(httpHandler.ReceiveNotificationHandler()),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/events", apis.MethodHandlers{
		"get": httpHandler.LoggingMiddleware(httpHandler.ListEventsHandler()),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", apis.MethodHandlers{
		"get": httpHandler.LoggingMiddleware(httpHandler.AliveHandler()),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", apis.MethodHandlers{
		"get": httpHandler.LoggingMiddleware(httpHandler.ReadyHandler()),
	})

	// Subscription
	//
	// The request logger wraps the response writer, which then can't be hijacked.
	// So the upgrade route is registered without it.
	mainRouter.
		Path(endpoints.SubscribePath).
		Methods(http.MethodGet).
		MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
			return websocket.IsWebSocketUpgrade(r)
		}).
		HandlerFunc(httpHandler.SubscribeHandler())

	return router
}

// DefineEventMirror connect to NATS and define the event mirror
func DefineEventMirror(
	config *common.SystemConfig, natsParam core.NATSConnectParams,
) (*core.NatsClient, core.EventMirror, error) {
	if !config.Mirror.Enabled {
		return nil, nil, nil
	}
	natsClient, err := core.GetNatsClient(natsParam)
	if err != nil {
		return nil, nil, err
	}
	mirror, err := core.GetNatsEventMirror(natsClient, config.Mirror.Subject)
	if err != nil {
		natsClient.Close(context.Background())
		return nil, nil, err
	}
	return natsClient, mirror, nil
}

// RunRelayServer run the notification relay server
func RunRelayServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	mirror core.EventMirror,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "relay",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runtimeContext)
	defer lclCancel()

	relay, err := dataplane.GetRelay(
		localCtxt,
		instance,
		dataplane.RelayParams{
			RecentWindow:      config.Relay.RecentWindow,
			HeartbeatInterval: time.Second * time.Duration(config.Relay.HeartbeatInterval),
		},
		mirror,
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define relay")
		return err
	}

	httpHandler, err := apis.GetAPIRestRelayHandler(
		localCtxt, relay, &config.Relay.HTTPSetting, config.Relay.Subscriber, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := DefineRelayRouter(httpHandler, config.Relay.Endpoints)

	serverCfg := config.Relay.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverCfg.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverCfg.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown, which also closes the subscriber channels
	httpSrv.RegisterOnShutdown(lclCancel)

	listener, err := net.Listen("tcp", serverListen)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to listen on %s", serverListen)
		return err
	}

	if err := relay.StartHeartbeat(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start heartbeat")
		_ = listener.Close()
		return err
	}

	// Start the server
	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	if err := relay.StopHeartbeat(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure stopping heartbeat")
	}

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
