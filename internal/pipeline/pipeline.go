package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/yourusername/atomrouter/internal/httpwire"
	"github.com/yourusername/atomrouter/internal/netio"
)

// Side distinguishes which half of an exchange a Pipeline represents.
type Side int

const (
	// ServerSide reads requests and writes responses.
	ServerSide Side = iota
	// ClientSide writes requests and reads responses.
	ClientSide
)

// Pipeline is one side of an HTTP/1.1 exchange bound to a byte stream.
// A server-side Pipeline reads client requests and writes responses; a
// client-side Pipeline writes requests to a backend and reads its
// responses. Safe for exactly one reader goroutine and one writer
// goroutine at a time — the proxy engine owns exactly that split.
// lastRead is touched only by the reader half and sentChunked only by
// the writer half. sentMethod is written by SendHeaders and read by
// the client side's ReadBody, which the proxy engine only starts after
// SendHeaders has returned. Whether response headers are on the wire
// is needed by both halves and is guarded by writeMu.
type Pipeline struct {
	side Side
	sock *netio.ByteStreamSocket

	sentMethod  string
	sentChunked bool

	lastRead *httpwire.Message

	// writeMu serializes header writes against ErrorClose's "may I
	// still synthesize a 500?" decision, so the two goroutines of an
	// exchange can never interleave two status lines on the wire.
	writeMu     sync.Mutex
	headersSent bool
}

// New wraps conn as a Pipeline for the given side.
func New(side Side, conn netio.Conn) *Pipeline {
	return &Pipeline{side: side, sock: netio.New(conn)}
}

// ReadHeaders reads the next message's start line and header block: a
// request on the server side, a response on the client side. On the
// server side, leading empty lines (a stray trailing CRLF from the
// previous exchange) are tolerated and skipped before the first line.
// Reading headers begins a new exchange, so any prior headers-sent
// bookkeeping for this side is cleared here.
func (p *Pipeline) ReadHeaders() (*httpwire.Message, error) {
	kind := httpwire.Request
	if p.side == ClientSide {
		kind = httpwire.Response
	}

	var lines []string
	if p.side == ServerSide {
		for {
			line, err := p.sock.ReadLine()
			if err != nil {
				return nil, err
			}
			if line != "" {
				lines = append(lines, line)
				break
			}
		}
		p.writeMu.Lock()
		p.headersSent = false
		p.writeMu.Unlock()
	} else {
		line, err := p.sock.ReadLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	for {
		if len(lines) > httpwire.MaxHeaderLines+1 {
			return nil, fmt.Errorf("%w: too many headers", httpwire.ErrSyntax)
		}
		line, err := p.sock.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	m, err := httpwire.ParseHeaders(kind, lines)
	if err != nil {
		return nil, err
	}
	p.lastRead = m
	return m, nil
}

// hasBody reports whether the last message read on this side carries a
// body, applying the response-body-suppression rules on the client
// side (HEAD request, 1xx, 204, 304).
func (p *Pipeline) hasBody() bool {
	if p.lastRead == nil {
		return false
	}
	if p.side == ClientSide {
		if p.sentMethod == "HEAD" {
			return false
		}
		code := p.lastRead.StatusCode
		if code >= 100 && code < 200 {
			return false
		}
		if code == 204 || code == 304 {
			return false
		}
		return true
	}
	chunked, _ := p.lastRead.GetChunked()
	cl, _ := p.lastRead.GetContentLength()
	return chunked || cl != nil
}

// ReadBody streams the body of the last message read via ReadHeaders,
// calling visit once per chunk of bytes as they arrive. In raw mode,
// visit receives the exact wire bytes of a chunked body (chunk-size
// lines, chunk data, trailers) or of a content-length body (identical
// either way); in non-raw mode it receives only the decoded content
// bytes. A message with no body calls visit zero times.
func (p *Pipeline) ReadBody(raw bool, visit func([]byte) error) error {
	if p.lastRead == nil {
		return ErrNoMessage
	}
	if !p.hasBody() {
		return nil
	}

	chunked, err := p.lastRead.GetChunked()
	if err != nil {
		return err
	}
	if chunked {
		return p.readChunkedBody(raw, visit)
	}

	cl, err := p.lastRead.GetContentLength()
	if err != nil {
		return err
	}
	if cl != nil {
		return p.readContentLengthBody(*cl, visit)
	}
	return p.sock.ReadAll(visit)
}

const contentReadChunk = 4096

func (p *Pipeline) readContentLengthBody(n int64, visit func([]byte) error) error {
	remaining := n
	for remaining > 0 {
		want := int64(contentReadChunk)
		if remaining < want {
			want = remaining
		}
		data, err := p.sock.ReadBytes(int(want))
		if err != nil {
			return err
		}
		if err := visit(data); err != nil {
			return err
		}
		remaining -= want
	}
	return nil
}

// chunkState is the sub-state machine a chunked body transfer walks:
// CHUNKED_HEADER reads a chunk-size line, CHUNKED_BODY reads that many
// data bytes, CHUNKED_BODY_END consumes the trailing CRLF and loops
// back to CHUNKED_HEADER, or falls to CHUNKED_TRAILER once a
// zero-length chunk is seen.
type chunkState int

const (
	chunkHeader chunkState = iota
	chunkBody
	chunkBodyEnd
	chunkTrailer
	chunkDone
)

func (p *Pipeline) readChunkedBody(raw bool, visit func([]byte) error) error {
	state := chunkHeader
	var size int64

	for {
		switch state {
		case chunkHeader:
			line, err := p.sock.ReadLine()
			if err != nil {
				return err
			}
			sizeField := line
			if idx := strings.IndexByte(line, ';'); idx >= 0 {
				sizeField = line[:idx]
			}
			n, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
			if err != nil {
				return fmt.Errorf("%w: bad chunk size %q", httpwire.ErrSyntax, line)
			}
			size = n
			if raw {
				if err := visit([]byte(line + "\r\n")); err != nil {
					return err
				}
			}
			if size == 0 {
				state = chunkTrailer
			} else {
				state = chunkBody
			}

		case chunkBody:
			data, err := p.sock.ReadBytes(int(size))
			if err != nil {
				return err
			}
			if err := visit(data); err != nil {
				return err
			}
			state = chunkBodyEnd

		case chunkBodyEnd:
			crlf, err := p.sock.ReadBytes(2)
			if err != nil {
				return err
			}
			if raw {
				if err := visit(crlf); err != nil {
					return err
				}
			}
			state = chunkHeader

		case chunkTrailer:
			line, err := p.sock.ReadLine()
			if err != nil {
				return err
			}
			if raw {
				if err := visit([]byte(line + "\r\n")); err != nil {
					return err
				}
			}
			if line == "" {
				state = chunkDone
			}

		case chunkDone:
			return nil
		}
	}
}

// SendHeaders serializes and transmits m, recording the framing
// decisions this side made (whether the body will be chunked, and, on
// the request side, the method) so that ReadBody on the peer's
// response — or ErrorClose on this side — can use them. The write
// itself happens under writeMu, so a concurrent ErrorClose either runs
// entirely before it (its 500 wins, this send fails on the closed
// socket) or entirely after (sees headersSent and stays silent).
func (p *Pipeline) SendHeaders(m *httpwire.Message) error {
	chunked, err := m.GetChunked()
	if err != nil {
		return err
	}
	wire := m.Serialize()

	p.writeMu.Lock()
	err = p.sock.SendAll(wire)
	if err == nil {
		p.headersSent = true
	}
	p.writeMu.Unlock()
	if err != nil {
		return err
	}

	p.sentChunked = chunked
	if p.side == ClientSide {
		p.sentMethod = m.Method
	}
	return nil
}

// SendBody writes data to the wire. In raw mode it is passed through
// verbatim, matching bytes ReadBody(raw=true) produced on the reading
// side. In non-raw mode, reframing a chunked body is not supported:
// callers with sentChunked must use raw pass-through.
func (p *Pipeline) SendBody(data []byte, raw bool) error {
	if !raw && p.sentChunked {
		return fmt.Errorf("%w: reframing a chunked body", ErrNotImplemented)
	}
	return p.sock.SendAll(data)
}

// ErrorClose is the failure path: on the server side, if no response
// headers have been sent yet in the current exchange, it emits a
// synthesized 500 Internal Server Error with Connection: close. Either
// way the underlying connection is then closed. The check-and-emit is
// a single critical section with SendHeaders, so the exchange's two
// goroutines can never put both a real status line and the synthesized
// one on the wire.
func (p *Pipeline) ErrorClose() {
	if p.side == ServerSide {
		p.writeMu.Lock()
		if !p.headersSent {
			resp := httpwire.NewResponse(500, "")
			resp.Set("Connection", "close")
			resp.Set("Content-Length", "0")
			_ = p.sock.SendAll(resp.Serialize())
			p.headersSent = true
		}
		_ = p.sock.Close()
		p.writeMu.Unlock()
		return
	}
	_ = p.sock.Close()
}

// Close closes the underlying connection without emitting a
// synthesized error response.
func (p *Pipeline) Close() error {
	return p.sock.Close()
}
