package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/refinio/one-core/conc"
	"github.com/refinio/one-core/onerr"
)

// ServiceFunc handles an incoming service invocation (spec §4.H
// "addService"). A non-nil error is wrapped into the caller's
// WebsocketRequestError; the result, if any, is JSON-marshaled into the
// response.
type ServiceFunc func(args json.RawMessage) (any, error)

// frame is the wire envelope for both directions: a "invoke" frame
// carries a method code and arguments, a "response" frame carries either
// a result or an error, correlated by ID.
type frame struct {
	Type   string          `json:"type"`
	ID     int64           `json:"id"`
	Method int             `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *remoteError    `json:"error,omitempty"`
}

type remoteError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RemoteErrorInfo is the cause attached to a WebsocketRequestError
// (spec §4.H "Error propagation").
type RemoteErrorInfo struct {
	Name    string
	Message string
	Code    string
}

// WebsocketRequestError wraps either a remote-side service failure (code
// WSRQ-JRMH1, spec §8) or a transport close with requests still pending
// (code WS-CLOSE).
type WebsocketRequestError struct {
	Code    string
	Message string
	Cause   *RemoteErrorInfo
}

func (e *WebsocketRequestError) Error() string { return e.Message }

// Promisifier is the request/response layer atop a Transport (spec §4.H
// "Promisifier"): each outgoing call gets a monotonically increasing
// request ID tracked in a pending map, and registered ServiceFuncs answer
// invocations from the remote side.
type Promisifier struct {
	transport Transport

	nextID int64

	mu       sync.Mutex
	pending  map[int64]*conc.TrackingPromise[json.RawMessage]
	services map[int]ServiceFunc

	requestsSentTotal       prometheus.Counter
	requestsReceivedTotal   prometheus.Counter
	requestsReceivedInvalid prometheus.Counter
}

// NewPromisifier wraps transport, installing its message and close
// handlers. reg may be nil to skip prometheus registration.
func NewPromisifier(transport Transport, reg prometheus.Registerer) *Promisifier {
	p := &Promisifier{
		transport: transport,
		pending:   make(map[int64]*conc.TrackingPromise[json.RawMessage]),
		services:  make(map[int]ServiceFunc),

		requestsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "rpc", Name: "requests_sent_total",
			Help: "Outgoing RPC requests sent.",
		}),
		requestsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "rpc", Name: "requests_received_total",
			Help: "Incoming frames received.",
		}),
		requestsReceivedInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "one", Subsystem: "rpc", Name: "requests_received_invalid_total",
			Help: "Incoming frames that failed to parse or matched no pending request.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.requestsSentTotal, p.requestsReceivedTotal, p.requestsReceivedInvalid)
	}
	transport.OnMessage(p.handleMessage)
	transport.OnClose(p.handleClose)
	return p
}

// Call invokes method on the remote side with args and blocks until the
// response arrives or ctx is done.
func (p *Promisifier) Call(ctx context.Context, method int, args any) (json.RawMessage, error) {
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	id := atomic.AddInt64(&p.nextID, 1)
	promise := conc.NewTrackingPromise[json.RawMessage]()

	p.mu.Lock()
	p.pending[id] = promise
	p.mu.Unlock()

	out, err := json.Marshal(frame{Type: "invoke", ID: id, Method: method, Args: encodedArgs})
	if err != nil {
		p.dropPending(id)
		return nil, err
	}
	if err := p.transport.Send(out, false); err != nil {
		p.dropPending(id)
		return nil, err
	}
	p.requestsSentTotal.Inc()

	select {
	case <-promise.Done():
		return promise.Wait()
	case <-ctx.Done():
		p.dropPending(id)
		return nil, ctx.Err()
	}
}

func (p *Promisifier) dropPending(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// AddService registers fn as the handler for invocations carrying method
// code.
func (p *Promisifier) AddService(code int, fn ServiceFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[code] = fn
}

// RemoveService unregisters the handler for code, if any.
func (p *Promisifier) RemoveService(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.services, code)
}

// ClearServices unregisters every handler.
func (p *Promisifier) ClearServices() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = make(map[int]ServiceFunc)
}

func (p *Promisifier) handleMessage(data []byte, binary bool) {
	p.requestsReceivedTotal.Inc()
	if binary {
		p.requestsReceivedInvalid.Inc()
		return
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		p.requestsReceivedInvalid.Inc()
		return
	}
	switch f.Type {
	case "invoke":
		p.handleInvoke(f)
	case "response":
		p.handleResponse(f)
	default:
		p.requestsReceivedInvalid.Inc()
	}
}

func (p *Promisifier) handleInvoke(f frame) {
	p.mu.Lock()
	fn, ok := p.services[f.Method]
	p.mu.Unlock()
	if !ok {
		p.sendErrorResponse(f.ID, &remoteError{Name: "Error", Message: fmt.Sprintf("no service registered for method %d", f.Method)})
		return
	}

	result, err := fn(f.Args)
	if err != nil {
		p.sendErrorResponse(f.ID, &remoteError{Name: "Error", Message: err.Error()})
		return
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		p.sendErrorResponse(f.ID, &remoteError{Name: "Error", Message: err.Error()})
		return
	}
	p.sendFrame(frame{Type: "response", ID: f.ID, Result: encoded})
}

func (p *Promisifier) sendErrorResponse(id int64, remoteErr *remoteError) {
	p.sendFrame(frame{Type: "response", ID: id, Error: remoteErr})
}

func (p *Promisifier) sendFrame(f frame) {
	out, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = p.transport.Send(out, false)
}

func (p *Promisifier) handleResponse(f frame) {
	p.mu.Lock()
	promise, ok := p.pending[f.ID]
	if ok {
		delete(p.pending, f.ID)
	}
	p.mu.Unlock()
	if !ok {
		p.requestsReceivedInvalid.Inc()
		return
	}

	if f.Error != nil {
		promise.Reject(&WebsocketRequestError{
			Code:    onerr.CodeRemoteError,
			Message: fmt.Sprintf("%s: Remote websocket function returned an error (see \"cause\" property)", onerr.CodeRemoteError),
			Cause:   &RemoteErrorInfo{Name: f.Error.Name, Message: f.Error.Message, Code: f.Error.Code},
		})
		return
	}
	promise.Resolve(f.Result)
}

func (p *Promisifier) handleClose() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[int64]*conc.TrackingPromise[json.RawMessage])
	p.mu.Unlock()

	for _, promise := range pending {
		promise.Reject(&WebsocketRequestError{
			Code:    onerr.CodeTransportClose,
			Message: "transport closed with requests still pending",
		})
	}
}
