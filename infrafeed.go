package cbclusterboot

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/couchbaselabs/cbclusterboot/contrib/jsonrpcx"
)

// ServerEventOptions is the parameter structure of the server lifecycle
// event methods.  ExitCode is only meaningful for InfraSvc.ServerExited.
type ServerEventOptions struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exitCode"`
}

type InfraHeartbeatOptions struct{}

type InfraFeedOptions struct {
	Logger *zap.Logger
}

// InfraFeed ingests server lifecycle events from whatever runs the actual
// server processes and publishes them as server resource states on the
// stream.  The protocol is JSON-RPC over a stream connection; each event is
// a request naming the server, acknowledged once the state is published.
type InfraFeed struct {
	logger *zap.Logger
	stream ResourceStateStream
}

func NewInfraFeed(stream ResourceStateStream, opts *InfraFeedOptions) (*InfraFeed, error) {
	if opts == nil {
		opts = &InfraFeedOptions{}
	}

	if stream == nil {
		return nil, errors.New("a resource state stream must be provided")
	}

	return &InfraFeed{
		logger: loggerOrNop(opts.Logger),
		stream: stream,
	}, nil
}

// Serve accepts connections until the listener is closed, serving each one
// on its own goroutine.  Closing the listener is the shutdown signal and
// yields a nil return.
func (f *InfraFeed) Serve(lis net.Listener) error {
	var connWg sync.WaitGroup
	defer connWg.Wait()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// the listener was explicitly closed, so this is the user
				// initiating shutdown rather than a failure
				return nil
			}
			return err
		}

		f.logger.Debug("accepted an infra feed connection")

		connWg.Add(1)
		go func() {
			defer connWg.Done()

			err := f.ServeConn(conn)
			if err != nil {
				f.logger.Warn("an infra feed connection failed", zap.Error(err))
			}

			_ = conn.Close()
		}()
	}
}

// ServeConn processes events from a single connection until it is closed.
func (f *InfraFeed) ServeConn(conn io.ReadWriteCloser) error {
	rpcConn := jsonrpcx.NewConn(conn)

	var readBuf jsonrpcx.Request
	req := &readBuf

	for {
		// clear the cached request, but keep our buffers
		*req = jsonrpcx.Request{
			Params: req.Params[:0],
		}

		err := rpcConn.ReadRequest(req)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				// the feed side hanging up cleanly is the normal end of a
				// connection, not a failure
				return nil
			}

			return err
		}

		var resp *jsonrpcx.Response
		switch req.Method {
		case "InfraSvc.ServerStarting":
			resp = jsonrpcx.Proc1ArgMethod(req, f.handleServerStarting)
		case "InfraSvc.ServerRunning":
			resp = jsonrpcx.Proc1ArgMethod(req, f.handleServerRunning)
		case "InfraSvc.ServerFailed":
			resp = jsonrpcx.Proc1ArgMethod(req, f.handleServerFailed)
		case "InfraSvc.ServerExited":
			resp = jsonrpcx.Proc1ArgMethod(req, f.handleServerExited)
		case "InfraSvc.Heartbeat":
			resp = jsonrpcx.Proc1ArgMethod(req, f.handleHeartbeat)
		default:
			resp = jsonrpcx.ProcUnknownMethod(req, func(method string, params interface{}) {
				f.logger.Warn("received an unknown infra event",
					zap.String("method", method))
			})
		}

		err = rpcConn.WriteResponse(resp)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return err
		}
	}
}

func (f *InfraFeed) publishServerEvent(opts *ServerEventOptions, state ResourceState, exitCode int) (bool, error) {
	if opts == nil || opts.Name == "" {
		return false, errors.New("server events must name a server")
	}

	f.logger.Debug("infra reported a server transition",
		zap.String("server", opts.Name),
		zap.String("state", string(state)))

	f.stream.Publish(ServerResource(opts.Name), state, exitCode)
	return true, nil
}

func (f *InfraFeed) handleServerStarting(opts *ServerEventOptions) (bool, error) {
	return f.publishServerEvent(opts, ResourceStateStarting, 0)
}

func (f *InfraFeed) handleServerRunning(opts *ServerEventOptions) (bool, error) {
	return f.publishServerEvent(opts, ResourceStateRunning, 0)
}

func (f *InfraFeed) handleServerFailed(opts *ServerEventOptions) (bool, error) {
	return f.publishServerEvent(opts, ResourceStateFailedToStart, opts.ExitCode)
}

func (f *InfraFeed) handleServerExited(opts *ServerEventOptions) (bool, error) {
	return f.publishServerEvent(opts, ResourceStateExited, opts.ExitCode)
}

func (f *InfraFeed) handleHeartbeat(opts *InfraHeartbeatOptions) (bool, error) {
	return true, nil
}
