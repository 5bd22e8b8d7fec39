/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rpc

import (
	"context"
	"encoding/json"
	"net"

	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/utils/log"
)

// MigrationRPCMethod is the wire method name of the migration request.
const MigrationRPCMethod = "DBC.MigrationRequest"

// Server exposes a MigrationService over jsonrpc2 on a TCP listener.
type Server struct {
	service  *MigrationService
	listener net.Listener
	stopped  chan struct{}
}

// NewServer creates a server around the given service.
func NewServer(service *MigrationService) *Server {
	return &Server{
		service: service,
		stopped: make(chan struct{}),
	}
}

// Serve accepts connections on the listener until Stop is called.
func (s *Server) Serve(listener net.Listener) {
	s.listener = listener

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return
			default:
			}
			log.WithError(err).Error("accept migration connection")
			return
		}

		stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{})
		jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(s.handle))
	}
}

// Stop closes the listener.
func (s *Server) Stop() {
	close(s.stopped)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, err error) {
	if req.Method != MigrationRPCMethod {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: "method not found: " + req.Method,
		}
	}

	var mreq MigrationRequest
	if req.Params != nil {
		if err = json.Unmarshal(*req.Params, &mreq); err != nil {
			return nil, errors.Wrap(err, "decode migration request")
		}
	}
	return s.service.ServeMigrationRequest(mreq)
}

// Caller is the jsonrpc2 backed Messaging implementation.
type Caller struct{}

// SendMigrationRequest implements Messaging by dialing the peer address.
func (Caller) SendMigrationRequest(ctx context.Context, addr proto.NodeAddr, req MigrationRequest) (resp *MigrationResponse, err error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", string(addr))
	if err != nil {
		err = errors.Wrapf(err, "dial migration peer %s", addr)
		return
	}

	stream := jsonrpc2.NewBufferedStream(netConn, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, noopHandler{})
	defer conn.Close()

	resp = new(MigrationResponse)
	if err = conn.Call(ctx, MigrationRPCMethod, req, resp); err != nil {
		err = errors.Wrapf(err, "migration request to %s", addr)
		resp = nil
	}
	return
}

type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}
