package rpc

import (
	"strings"
	"sync"
)

const (
	keywordStartBinary = "fragmentation_start_binary"
	keywordStartString = "fragmentation_start_string"
	keywordEnd         = "fragmentation_end"
	escapeSentinel     = byte('x')
)

// Fragmenter wraps a Transport and transparently chunks outgoing messages
// longer than chunkSize into a start/data.../end frame sequence, and
// reassembles incoming ones the same way (spec §4.H "Fragmentation
// layer"). Small messages pass through unchanged, except that a literal
// occurrence of one of the three keywords at the start of a message is
// escaped with a single sentinel byte so it is never mistaken for a
// control frame; the receiver strips it back off.
//
// Mixed streams are not supported: a connection carrying a fragmented
// message must finish it before starting another.
type Fragmenter struct {
	chunkSize int
	inner     Transport

	mu        sync.Mutex
	onMessage func(data []byte, binary bool)

	recvMu     sync.Mutex
	receiving  bool
	recvBinary bool
	recvBuf    []byte
}

// NewFragmenter wraps inner, installing its own message handler.
func NewFragmenter(inner Transport, chunkSize int) *Fragmenter {
	f := &Fragmenter{chunkSize: chunkSize, inner: inner}
	inner.OnMessage(f.handleIncoming)
	return f
}

func (f *Fragmenter) Send(data []byte, binary bool) error {
	if len(data) <= f.chunkSize {
		return f.sendWhole(data, binary)
	}
	return f.sendFragmented(data, binary)
}

func (f *Fragmenter) sendWhole(data []byte, binary bool) error {
	if !binary && startsWithKeyword(data) {
		escaped := make([]byte, len(data)+1)
		copy(escaped, data)
		escaped[len(data)] = escapeSentinel
		data = escaped
	}
	return f.inner.Send(data, binary)
}

func (f *Fragmenter) sendFragmented(data []byte, binary bool) error {
	startKeyword := keywordStartString
	if binary {
		startKeyword = keywordStartBinary
	}
	if err := f.inner.Send([]byte(startKeyword), false); err != nil {
		return err
	}
	for offset := 0; offset < len(data); offset += f.chunkSize {
		end := offset + f.chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := f.inner.Send(data[offset:end], binary); err != nil {
			return err
		}
	}
	return f.inner.Send([]byte(keywordEnd), false)
}

func (f *Fragmenter) handleIncoming(data []byte, binary bool) {
	f.recvMu.Lock()
	if !f.receiving {
		if !binary {
			switch string(data) {
			case keywordStartString:
				f.receiving = true
				f.recvBinary = false
				f.recvBuf = f.recvBuf[:0]
				f.recvMu.Unlock()
				return
			case keywordStartBinary:
				f.receiving = true
				f.recvBinary = true
				f.recvBuf = f.recvBuf[:0]
				f.recvMu.Unlock()
				return
			}
		}
		f.recvMu.Unlock()
		f.deliver(stripEscape(data, binary), binary)
		return
	}

	if !binary && string(data) == keywordEnd {
		msg := append([]byte(nil), f.recvBuf...)
		msgBinary := f.recvBinary
		f.receiving = false
		f.recvBuf = nil
		f.recvMu.Unlock()
		f.deliver(msg, msgBinary)
		return
	}

	f.recvBuf = append(f.recvBuf, data...)
	f.recvMu.Unlock()
}

func (f *Fragmenter) deliver(data []byte, binary bool) {
	f.mu.Lock()
	onMessage := f.onMessage
	f.mu.Unlock()
	if onMessage != nil {
		onMessage(data, binary)
	}
}

func (f *Fragmenter) OnMessage(fn func(data []byte, binary bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *Fragmenter) OnClose(fn func()) {
	f.inner.OnClose(fn)
}

func (f *Fragmenter) Close() error {
	return f.inner.Close()
}

func startsWithKeyword(data []byte) bool {
	s := string(data)
	return strings.HasPrefix(s, keywordStartBinary) ||
		strings.HasPrefix(s, keywordStartString) ||
		strings.HasPrefix(s, keywordEnd)
}

func stripEscape(data []byte, binary bool) []byte {
	if binary || len(data) == 0 || data[len(data)-1] != escapeSentinel {
		return data
	}
	if !startsWithKeyword(data[:len(data)-1]) {
		return data
	}
	return data[:len(data)-1]
}
