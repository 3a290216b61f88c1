package util

import "sync"

// ChunkSize is the fixed relay copy unit.  File payloads move through
// the server in chunks of this size, so a transfer in flight never
// occupies more than one chunk of memory per hop.
const ChunkSize = 1024

// chunkPool provides reusable relay buffers, reducing GC pressure when
// many transfers run at once.
var chunkPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ChunkSize)
		return &buf
	},
}

// GetChunk retrieves a buffer from the pool.  Callers must return it
// with [PutChunk] when finished.
func GetChunk() *[]byte {
	return chunkPool.Get().(*[]byte)
}

// PutChunk returns a buffer to the pool for reuse.
func PutChunk(buf *[]byte) {
	if buf == nil {
		return
	}
	chunkPool.Put(buf)
}
