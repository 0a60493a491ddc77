package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payload header bytes.
const (
	payloadRaw  byte = 0
	payloadZstd byte = 1
)

// codec encodes symbols for the cold tier: one header byte followed by
// JSON, optionally zstd-compressed. Encoder and Decoder are safe for
// concurrent EncodeAll/DecodeAll.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec(compress bool) (*codec, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	c := &codec{dec: dec}
	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

func (c *codec) encode(sym CodeSymbol) ([]byte, error) {
	raw, err := json.Marshal(sym)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", sym.FQN, err)
	}
	if c.enc == nil {
		return append([]byte{payloadRaw}, raw...), nil
	}
	return c.enc.EncodeAll(raw, []byte{payloadZstd}), nil
}

func (c *codec) decode(b []byte) (CodeSymbol, error) {
	var sym CodeSymbol
	if len(b) == 0 {
		return sym, errors.New("decode: empty payload")
	}
	body := b[1:]
	switch b[0] {
	case payloadRaw:
	case payloadZstd:
		var err error
		body, err = c.dec.DecodeAll(body, nil)
		if err != nil {
			return sym, fmt.Errorf("decode: zstd: %w", err)
		}
	default:
		return sym, fmt.Errorf("decode: unknown payload header %d", b[0])
	}
	if err := json.Unmarshal(body, &sym); err != nil {
		return sym, fmt.Errorf("decode: %w", err)
	}
	return sym, nil
}

func (c *codec) close() {
	if c.enc != nil {
		c.enc.Close()
	}
	c.dec.Close()
}
