package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/lmirzaei/chordkv/internal/chord"
	"github.com/lmirzaei/chordkv/pkg"
)

// Server answers node RPCs on an already-bound listener. The listener
// is bound by the caller before the node exists so the node identity
// can be derived from the OS-assigned port.
type Server struct {
	node   *chord.Node
	logger *pkg.Logger
	ln     net.Listener
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer wraps ln with the RPC dispatch for node.
func NewServer(node *chord.Node, ln net.Listener, logger *pkg.Logger) *Server {
	return &Server{node: node, logger: logger, ln: ln}
}

// Addr reports the listener's bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Port reports the listener's bound TCP port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until Stop closes the listener. Each
// connection carries exactly one request.
func (s *Server) Serve() {
	s.logger.Info().Str("addr", s.Addr()).Msg("rpc server listening")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	s.logger.Info().Msg("rpc server stopped")
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	var req request
	if err := readFrame(conn, &req); err != nil {
		s.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("dropping unreadable request")
		return
	}

	resp := s.dispatch(req)
	if err := writeFrame(conn, resp); err != nil {
		s.logger.Debug().Err(err).Str("method", string(req.Method)).Msg("failed to write response")
	}
}

// dispatch runs one request against the node. Malformed input yields a
// bad_request response; it never takes the server down.
func (s *Server) dispatch(req request) response {
	s.logger.Debug().Str("method", string(req.Method)).Msg("handling rpc")

	switch req.Method {
	case MethodSuccessor:
		return okResult(s.node.Successor())

	case MethodFindSuccessor:
		id, err := decodeArg[chord.ID](req.Arg1)
		if err != nil {
			return badRequest("find_successor: %v", err)
		}
		ref, err := s.node.FindSuccessor(id)
		if err != nil {
			return errResponse(err)
		}
		return okResult(ref)

	case MethodFindPredecessor:
		id, err := decodeArg[chord.ID](req.Arg1)
		if err != nil {
			return badRequest("find_predecessor: %v", err)
		}
		ref, err := s.node.FindPredecessor(id)
		if err != nil {
			return errResponse(err)
		}
		return okResult(ref)

	case MethodClosestPrecedingFinger:
		id, err := decodeArg[chord.ID](req.Arg1)
		if err != nil {
			return badRequest("closest_preceding_finger: %v", err)
		}
		return okResult(s.node.ClosestPrecedingFinger(id))

	case MethodUpdateFingerTable:
		node, err := decodeArg[chord.NodeRef](req.Arg1)
		if err != nil {
			return badRequest("update_finger_table: %v", err)
		}
		index, err := decodeArg[int](req.Arg2)
		if err != nil {
			return badRequest("update_finger_table: %v", err)
		}
		if err := s.node.UpdateFingerTable(node, index); err != nil {
			return errResponse(err)
		}
		return okResult(true)

	case MethodUpdateYourPredecessor:
		node, err := decodeArg[chord.NodeRef](req.Arg1)
		if err != nil {
			return badRequest("update_your_predecessor: %v", err)
		}
		s.node.SetPredecessor(node)
		return okResult(true)

	case MethodPopulate:
		row, err := decodeArg[[]string](req.Arg1)
		if err != nil {
			return badRequest("populate: %v", err)
		}
		msg, err := s.node.Populate(row)
		if err != nil {
			return errResponse(err)
		}
		return okResult(msg)

	case MethodPutKey:
		keyID, err := decodeArg[string](req.Arg1)
		if err != nil {
			return badRequest("put_key: %v", err)
		}
		row, err := decodeArg[[]string](req.Arg2)
		if err != nil {
			return badRequest("put_key: %v", err)
		}
		if err := s.node.PutKey(context.Background(), keyID, row); err != nil {
			return errResponse(err)
		}
		return okResult(true)

	case MethodQuery:
		field1, err := decodeArg[string](req.Arg1)
		if err != nil {
			return badRequest("query: %v", err)
		}
		field2, err := decodeArg[string](req.Arg2)
		if err != nil {
			return badRequest("query: %v", err)
		}
		row, found, err := s.node.Query(field1, field2)
		if err != nil {
			return errResponse(err)
		}
		return okResult(keyResult{Row: row, Found: found})

	case MethodGetKey:
		keyID, err := decodeArg[string](req.Arg1)
		if err != nil {
			return badRequest("get_key: %v", err)
		}
		row, found, err := s.node.GetKey(context.Background(), keyID)
		if err != nil {
			return errResponse(err)
		}
		return okResult(keyResult{Row: row, Found: found})

	default:
		return badRequest("unknown method %q", req.Method)
	}
}

func okResult(v any) response {
	raw, err := encodeArg(v)
	if err != nil {
		return response{Code: codeError, Err: err.Error()}
	}
	return response{Result: raw}
}

func badRequest(format string, args ...any) response {
	return response{Code: codeBadRequest, Err: fmt.Sprintf(format, args...)}
}

func errResponse(err error) response {
	if errors.Is(err, pkg.ErrBadRequest) {
		return response{Code: codeBadRequest, Err: err.Error()}
	}
	return response{Code: codeError, Err: err.Error()}
}
