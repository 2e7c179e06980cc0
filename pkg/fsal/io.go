package fsal

import (
	"time"

	"github.com/mjmac/daosnfs/internal/logger"
)

// Read2 reads up to len(buf) bytes at offset. End of file is reported when
// the storage layer returns zero bytes for a non-empty request; a short
// read that still moved data is not EOF by itself.
func (h *Handle) Read2(offset uint64, buf []byte) (int, bool, error) {
	start := time.Now()

	n, err := h.node.Read(offset, buf)
	if err != nil {
		status := statusFromErr(err)
		h.observe("read", start, status)
		return 0, false, status
	}

	eof := n == 0 && len(buf) > 0
	h.export.metrics.ObserveIOBytes("read", n)
	h.observe("read", start, nil)
	return n, eof, nil
}

// Write2 writes data at offset. When the caller requests stable storage the
// write is followed by a commit of the written range; the second result
// reports whether the data is stable on return.
func (h *Handle) Write2(offset uint64, data []byte, stable bool) (int, bool, error) {
	start := time.Now()

	n, err := h.node.Write(offset, data)
	if err != nil {
		status := statusFromErr(err)
		h.observe("write", start, status)
		return 0, false, status
	}

	if stable {
		if err := h.node.Commit(offset, uint64(n)); err != nil {
			// The data is written but not stable; report the write with
			// stable=false rather than failing it.
			logger.Debug("fsal: stable write commit on %s failed: %v", h.key, err)
			h.export.metrics.ObserveIOBytes("write", n)
			h.observe("write", start, nil)
			return n, false, nil
		}
	}

	h.export.metrics.ObserveIOBytes("write", n)
	h.observe("write", start, nil)
	return n, stable, nil
}

// Commit2 flushes the byte range to stable storage. A zero length covers
// from offset to end of file.
func (h *Handle) Commit2(offset, length uint64) error {
	start := time.Now()

	status := statusFromErr(h.node.Commit(offset, length))
	h.observe("commit", start, status)
	return status
}
