// Package sct moves buffers and small control messages between a host
// process and accelerator firmware over a shared-memory region.
//
// The region holds a queue descriptor table, two management rings, the
// record pools handed out at init and the per-direction lock and status
// words. Two endpoints attach to it:
//
//   - Board formats the region, creates every queue and sends INIT along
//     with the host's share of records.
//   - Host waits for INIT, adopts those records and lends buffers to the
//     board.
//
// # Channels
//
// A channel is a unidirectional port connection. The side that calls
// Connect sends and the side that calls Accept receives:
//
//	recv, err := host.Accept(ctx, 20)
//	send, err := board.Connect(ctx, 20, 65536)
//	buf, err := board.TxGetbuf(send)
//	err = board.TxSend(send, buf, n)
//	d, err := host.Recv(ctx, recv)
//
// Buffers always belong to exactly one pool: a board free list, a
// channel backlog, the application, or in flight back to the host. The
// application holds at most MaxAppOwnedBuffers per channel and a receive
// backlog holds at most MaxRecvBuffers; overflow is returned to the host
// tagged with ErrNoRecvBuffers.
//
// Only the sender may close first. The receiver closes after it sees the
// sender's DESTROY, which acknowledges it and frees the port on both
// sides.
//
// # Messages
//
// SendMessage and RecvMessage carry up to MaxMessageLen bytes on one of
// ClassCount class queues per direction. Records travel back to the
// sender on a return queue once read.
//
// # Concurrency
//
// Each endpoint serializes its own callers. Blocking calls poll the
// management queue themselves; Run additionally services doorbells so
// callbacks fire without a caller waiting.
package sct
