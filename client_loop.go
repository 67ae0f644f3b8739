package mqttv3

import (
	"context"
	"errors"
	"net"
	"time"
)

// Run is the dispatch loop. It reads from the transport, decodes packets
// and routes each one to exactly one Handler method, answering the broker
// where the protocol requires it: PUBACK for QoS 1 messages, PUBREC then
// PUBCOMP for QoS 2 messages and PUBREL for PUBREC.
//
// Every Handler method, OnLog included, is called from the goroutine running
// Run. Lines logged elsewhere, for example by Publish, are queued and
// delivered by Run.
//
// Run returns nil after Disconnect, ctx.Err() when ctx ends and
// ErrReconnectFailed when the connection was lost and every reconnect
// attempt failed. Malformed inbound data is treated as a lost connection.
// When ctx ends the installed transport is closed.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		handler = NopHandler{}
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logMu.Lock()
	c.logLines = nil
	c.logMu.Unlock()

	c.handler.Store(&handler)
	defer func() {
		c.flushLogs()
		c.handler.Store(nil)
	}()

	buf := NewPacketBuffer(ServerToClient, c.options.maxPacketSize)

	for {
		c.flushLogs()
		if ctx.Err() != nil {
			return c.stopped(ctx)
		}

		conn := c.currentConn()
		if conn == nil {
			if c.disconnecting.Load() {
				c.flushLogs()
				handler.OnDisconnect(DisconnectCodeNormal)
				return nil
			}
			if err := c.handleConnectionLoss(ctx, buf, handler, ErrNotConnected); err != nil {
				return err
			}
			continue
		}

		err := c.serve(ctx, conn, buf, handler)
		c.flushLogs()
		if ctx.Err() != nil {
			return c.stopped(ctx)
		}

		// With intent any end of stream is the clean shutdown, whether the
		// broker closed first or Disconnect closed the transport.
		if c.disconnecting.Load() {
			c.closeConn(conn)
			handler.OnDisconnect(DisconnectCodeNormal)
			return nil
		}

		// Reconnect replaced the transport while it was being read.
		if current := c.currentConn(); current != nil && current != conn {
			buf.Reset()
			continue
		}

		c.closeConn(conn)
		if err := c.handleConnectionLoss(ctx, buf, handler, err); err != nil {
			return err
		}
	}
}

// stopped closes the installed transport, including one a concurrent
// Reconnect installed after ctx ended, and returns ctx.Err().
func (c *Client) stopped(ctx context.Context) error {
	c.closeConn(nil)
	return ctx.Err()
}

// serve dispatches everything read from conn until the read fails, the data
// is malformed or ctx ends. Reads happen on a helper goroutine so queued log
// lines can be delivered while the transport is idle.
func (c *Client) serve(ctx context.Context, conn net.Conn, buf *PacketBuffer, handler Handler) error {
	r := &connReader{
		conn: conn,
		data: make(chan []byte),
		next: make(chan struct{}),
		errc: make(chan error, 1),
		quit: make(chan struct{}),
	}
	defer close(r.quit)
	go r.run(c.options.readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.logReady:
			c.flushLogs()

		case err := <-r.errc:
			return err

		case data := <-r.data:
			c.metrics.BytesReceived(len(data))
			buf.Write(data)
			err := c.drain(buf, handler)
			r.next <- struct{}{}
			if err != nil {
				c.metrics.MalformedPacket()
				c.logger.Error("malformed packet, dropping connection", LogFields{LogFieldError: err})
				c.closeConn(conn)
				return err
			}
		}
	}
}

// connReader reads one transport into pooled chunks. Each chunk is handed
// over on data and reused only after the receiver signals next.
type connReader struct {
	conn net.Conn
	data chan []byte
	next chan struct{}
	errc chan error
	quit chan struct{}
}

func (r *connReader) run(size int) {
	chunk := getReadChunk(size)
	defer putReadChunk(chunk)

	for {
		n, err := r.conn.Read(chunk)
		if n > 0 {
			select {
			case r.data <- chunk[:n]:
			case <-r.quit:
				return
			}
			select {
			case <-r.next:
			case <-r.quit:
				return
			}
		}
		if err != nil {
			r.errc <- err
			return
		}
	}
}

// handleConnectionLoss handles an unexpected end of stream by reconnecting.
func (c *Client) handleConnectionLoss(ctx context.Context, buf *PacketBuffer, handler Handler, cause error) error {
	c.logger.Warn("connection lost", LogFields{LogFieldError: cause})
	c.flushLogs()
	buf.Reset()

	lost := time.Now()
	if err := c.reconnectLoop(ctx); err != nil {
		if ctx.Err() != nil {
			return c.stopped(ctx)
		}
		if errors.Is(err, ErrReconnectFailed) {
			c.flushLogs()
			handler.OnDisconnect(DisconnectCodeReconnectFailed)
		}
		return err
	}
	c.metrics.ReconnectDuration(time.Since(lost))
	return nil
}

// drain dispatches every complete packet in buf.
func (c *Client) drain(buf *PacketBuffer, handler Handler) error {
	for {
		pkt, err := buf.Next()
		if errors.Is(err, ErrIncomplete) {
			return nil
		}
		if err != nil {
			buf.Reset()
			return err
		}
		c.metrics.PacketReceived(pkt.Type())
		c.dispatch(pkt, handler)
		c.flushLogs()
	}
}

// dispatch routes one packet to its Handler method.
func (c *Client) dispatch(pkt Packet, handler Handler) {
	switch p := pkt.(type) {
	case *ConnackPacket:
		fields := LogFields{LogFieldReturnCode: p.ReturnCode}
		if p.ReturnCode != ConnectAccepted {
			c.logger.Warn("connection refused", fields)
		} else {
			c.logger.Debug("connack received", fields)
		}
		handler.OnConnect(p.ReturnCode)

	case *PublishPacket:
		c.handlePublish(p, handler)

	case *PubackPacket:
		c.complete(p.PacketID)
		handler.OnPublish(p.PacketID)

	case *PubrecPacket:
		c.ack(&PubrelPacket{PacketID: p.PacketID})
		handler.OnPublish(p.PacketID)

	case *PubrelPacket:
		c.ack(&PubcompPacket{PacketID: p.PacketID})
		handler.OnPublish(p.PacketID)

	case *PubcompPacket:
		c.complete(p.PacketID)
		handler.OnPublish(p.PacketID)

	case *SubackPacket:
		c.packetIDs.Release(p.PacketID)
		if err := p.Err(); err != nil {
			c.logger.Warn("subscription refused", LogFields{LogFieldPacketID: p.PacketID, LogFieldError: err})
		}
		handler.OnSubscribe(p.PacketID)

	case *UnsubackPacket:
		c.packetIDs.Release(p.PacketID)
		handler.OnUnsubscribe(p.PacketID)

	case *PingrespPacket:
		c.logger.Debug("pingresp received", nil)
	}
}

// handlePublish delivers an inbound message and then acknowledges it.
// A message dropped by a consumer interceptor is acknowledged but not delivered.
func (c *Client) handlePublish(p *PublishPacket, handler Handler) {
	c.metrics.MessageReceived(p.QoS)

	if msg := applyConsumerInterceptors(c.options.consumerInterceptors, p.ToMessage(), c.logger); msg != nil {
		delivered := &PublishPacket{PacketID: p.PacketID, DUP: p.DUP}
		delivered.FromMessage(msg)
		handler.OnMessage(delivered)
	}

	switch p.QoS {
	case QoS1:
		c.ack(&PubackPacket{PacketID: p.PacketID})
	case QoS2:
		c.ack(&PubrecPacket{PacketID: p.PacketID})
	}
}

// complete releases the identifier and in-flight slot of a finished publish.
func (c *Client) complete(id uint16) {
	if err := c.packetIDs.Release(id); err == nil {
		c.inflight.Release()
	}
}

// ack writes a protocol acknowledgment. A failed write surfaces as a read
// error on the same transport, so it is only logged here.
func (c *Client) ack(pkt Packet) {
	if err := c.writePacket(pkt); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("acknowledgment failed", LogFields{
			LogFieldPacketType: pkt.Type(),
			LogFieldError:      err,
		})
	}
}
