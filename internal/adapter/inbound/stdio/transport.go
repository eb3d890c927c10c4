// Package stdio provides the line-oriented stdio transport: one JSON-RPC
// object per line on stdin, one reply per line on stdout.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/canopyiq/canopy-gateway/internal/domain/auth"
	"github.com/canopyiq/canopy-gateway/internal/service"
	"github.com/canopyiq/canopy-gateway/pkg/mcp"
)

// maxLineBytes bounds one JSON-RPC line on stdin.
const maxLineBytes = 1 << 20

// stdioClaims is the fixed identity for stdio callers; the transport has
// no authentication.
var stdioClaims = &auth.Claims{Subject: "stdio-client", Tenant: "local"}

// Transport runs the dispatcher over stdin/stdout. Requests are handled
// one at a time with strict request/response pairing.
type Transport struct {
	dispatcher *service.Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger
}

func NewTransport(dispatcher *service.Dispatcher, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dispatcher: dispatcher,
		in:         os.Stdin,
		out:        os.Stdout,
		logger:     logger,
	}
}

// Start reads requests until EOF, a shutdown request, or context
// cancellation.
func (t *Transport) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		reply, shutdown := t.handleLine(ctx, line)
		if reply != nil {
			if err := t.writeReply(reply); err != nil {
				return err
			}
		}
		if shutdown {
			t.logger.Info("shutdown requested, ending stdio loop")
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// handleLine dispatches one line and reports whether it was a shutdown.
func (t *Transport) handleLine(ctx context.Context, line []byte) (*mcp.Reply, bool) {
	raw := make([]byte, len(line))
	copy(raw, line)

	msg, err := mcp.WrapMessage(raw)
	if err != nil {
		return mcp.NewError(nil, mcp.CodeParseError, "Parse error"), false
	}
	if !msg.IsRequest() {
		return mcp.NewError(msg.RawID(), mcp.CodeInvalidRequest, "expected a JSON-RPC request"), false
	}

	reply := t.dispatcher.Dispatch(auth.WithClaims(ctx, stdioClaims), msg, stdioClaims, true)
	return reply, msg.Method() == "shutdown" && reply.Error == nil
}

func (t *Transport) writeReply(reply *mcp.Reply) error {
	data, err := reply.Encode()
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}
