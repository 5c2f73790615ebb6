package transport

import (
	"fmt"

	"github.com/m2mlink/m2m-go/pkg/log"
	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/registration"
	"github.com/m2mlink/m2m-go/pkg/wire"
)

// serve answers a server request. Runs on the scheduler goroutine; the
// reply is written from its own goroutine.
func (e *Endpoint) serve(conn Conn, req *wire.Request) {
	e.logMessage(log.DirectionIn, log.RequestEvent(req))

	resp := wire.NewResponse(req, wire.StatusSuccess)
	payload, err := e.handle(req)
	if err != nil {
		resp.Status = registration.ErrorStatus(err)
		resp.Detail = err.Error()
		e.logger.Debug("server request rejected", "operation", req.Operation, "error", err)
	} else {
		resp.Payload = payload
	}

	go e.reply(conn, req.Operation, resp)
}

func (e *Endpoint) reply(conn Conn, op wire.Operation, resp *wire.Response) {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		e.logger.Warn("encode response", "error", err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		e.logger.Warn("send response", "operation", op, "error", err)
		return
	}
	e.logMessage(log.DirectionOut, log.ResponseEvent(resp, 0))
}

func (e *Endpoint) handle(req *wire.Request) ([]byte, error) {
	e.mu.Lock()
	sec := e.sec
	e.mu.Unlock()
	if sec != nil {
		if err := sec.VerifyRequest(req); err != nil {
			return nil, err
		}
	}

	if req.Operation.IsUplink() {
		return nil, fmt.Errorf("%w: %s from server", model.ErrOperationNotAllowed, req.Operation)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", registration.ErrInvalidParameters, err)
	}
	tree := e.cfg.Tree
	if tree == nil {
		return nil, model.ErrNotFound
	}

	p := *req.Path
	switch req.Operation {
	case wire.OpRead:
		return tree.Read(p)
	case wire.OpWrite:
		return nil, tree.Write(p, req.Payload)
	case wire.OpExecute:
		return nil, tree.Execute(p, req.Payload)
	case wire.OpObserve:
		if err := tree.Observe(p, !req.Cancel); err != nil {
			return nil, err
		}
		if req.Cancel {
			return nil, nil
		}
		// The current value seeds the observation.
		return tree.Read(p)
	}
	return nil, fmt.Errorf("%w: %s", model.ErrOperationNotAllowed, req.Operation)
}
