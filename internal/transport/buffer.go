package transport

import (
	"sync"

	"github.com/joshuafuller/ipadapter/internal/protocol"
)

// bufferPool recycles receive buffers sized for the largest accepted PDU.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, protocol.MaxPDUSize)
		return &buf
	},
}

// GetBuffer returns a MaxPDUSize receive buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from GetBuffer. The caller must not
// use the buffer afterwards.
func PutBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) < protocol.MaxPDUSize {
		return
	}
	*buf = (*buf)[:protocol.MaxPDUSize]
	bufferPool.Put(buf)
}
