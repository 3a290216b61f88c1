package router

import (
	"fmt"
	"io"
	"net"
	"time"

	relayerr "gorelay/internal/errors"
	"gorelay/internal/session"
	"gorelay/internal/wire"
	"gorelay/util"
)

// relay streams exactly declared bytes of filename from src's inbound
// stream to dst.  It holds dst's write lock for the whole transfer so
// the announcement frame, the length value, and the payload stay
// contiguous on dst's wire, and it never reads a byte past declared
// from src.
//
// A failure on src's side is fatal to src's receive loop, and retires
// dst as well: dst has consumed the announcement and length but only
// part of the payload, so anything sent to it afterwards would be read
// as payload bytes.  A failure on dst's side aborts the transfer but
// leaves src usable: the unread tail of the payload is drained so
// src's next frame decodes cleanly.
func (rt *Router) relay(dst, src *session.Session, filename string, declared uint64) error {
	var (
		copied uint64
		srcErr error
		dstErr error
	)

	dst.WithConn(func(conn net.Conn) error { //nolint:errcheck
		timeout := dst.Timeout()
		defer func() {
			if timeout > 0 {
				conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
				src.SetReadDeadline(time.Time{})   //nolint:errcheck
			}
		}()

		announce := filePrefix + src.Name() + ":" + filename
		if timeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(timeout)) //nolint:errcheck
		}
		if err := wire.WriteString(conn, announce); err != nil {
			dstErr = err
			return err
		}
		if err := wire.WriteUint64(conn, declared); err != nil {
			dstErr = err
			return err
		}

		buf := util.GetChunk()
		defer util.PutChunk(buf)

		for copied < declared {
			n := uint64(len(*buf))
			if remaining := declared - copied; remaining < n {
				n = remaining
			}

			if timeout > 0 {
				src.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
			}
			rn, err := io.ReadFull(src.Reader(), (*buf)[:n])
			if err != nil {
				srcErr = err
				return err
			}

			if timeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(timeout)) //nolint:errcheck
			}
			if _, err := conn.Write((*buf)[:rn]); err != nil {
				dstErr = err
				return err
			}
			copied += uint64(rn)
		}
		return nil
	})

	switch {
	case srcErr != nil:
		// The sender's stream died mid-payload; nothing more can be
		// framed from it.  The recipient is short of the declared
		// length and cannot tell payload from the frames that would
		// follow, so it goes down with the transfer.
		terr := rt.transferError(dst, src, filename, copied, declared, srcErr)
		rt.metrics.RecordError(terr.Error())
		dst.Close()
		return terr

	case dstErr != nil:
		// The recipient broke.  Drain what the sender still owes so
		// its stream framing survives, and retire the dead recipient.
		terr := rt.transferError(dst, src, filename, copied, declared, dstErr)
		rt.logger.Warn("%v", terr)
		rt.metrics.RecordError(terr.Error())
		dst.Close()
		if copied < declared {
			if err := rt.drain(src, declared-copied); err != nil {
				return err
			}
		}
		return nil
	}

	rt.metrics.FileRelayed()
	rt.metrics.BytesRelayed(int64(copied))
	rt.logger.Verbose("relayed %q (%d bytes) %s -> %s",
		filename, copied, src.Name(), dst.Name())
	return nil
}

func (rt *Router) transferError(dst, src *session.Session, filename string, copied, declared uint64, cause error) *relayerr.TransferError {
	return &relayerr.TransferError{
		Sender:    src.Name(),
		Recipient: dst.Name(),
		Filename:  filename,
		Copied:    copied,
		Declared:  declared,
		Err:       fmt.Errorf("%v: %w", cause, relayerr.ErrTransferAborted),
	}
}
