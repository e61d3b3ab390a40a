package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/roomcast/internal/domain"
	"github.com/gorilla/websocket"
)

func (c *Client) writePump(l *link) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.drop(l)
	}()

	for {
		select {
		case <-l.done:
			c.logger.Info().Msg("writePump done")
			return
		case data := <-l.send:
			if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (c *Client) readPump(l *link) {
	defer func() {
		c.logger.Info().Msg("readPump closing")
		c.drop(l)
	}()

	pongWait := c.opts.PingPeriod * 10 / 9
	l.conn.SetReadLimit(c.opts.ReadLimit)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
			default:
				c.logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleSignal(data)
	}
}

func (c *Client) handleSignal(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Error().Err(err).Msg("bad json")
		return
	}

	switch env.Kind {
	case domain.EnvelopeOffer,
		domain.EnvelopeAnswer,
		domain.EnvelopeCandidate,
		domain.EnvelopeTrackMeta,
		domain.EnvelopeRoomLiveState:
		c.dispatch(env)
	default:
		c.logger.Warn().Str("type", string(env.Kind)).Msg("unknown signal")
	}
}
