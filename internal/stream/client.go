package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kursadbilgin/codegen-engine/internal/domain"
	"go.uber.org/zap"
)

const replyBuffer = 16

// client is one websocket observer of one task. writePump is the only
// goroutine writing to conn.
type client struct {
	taskID  string
	conn    *websocket.Conn
	events  <-chan domain.Event
	replies chan []byte
	tasks   TaskService
	cfg     Config
	logger  *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

func newClient(taskID string, conn *websocket.Conn, events <-chan domain.Event, tasks TaskService, cfg Config, logger *zap.Logger) *client {
	return &client{
		taskID:  taskID,
		conn:    conn,
		events:  events,
		replies: make(chan []byte, replyBuffer),
		tasks:   tasks,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump handles inbound commands until the peer goes away.
func (c *client) readPump() {
	defer c.stop()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("stream read failed", zap.Error(err))
			}
			return
		}
		c.handleCommand(message)
	}
}

func (c *client) handleCommand(message []byte) {
	var cmd command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.reply(rejectedMessage{Type: "rejected", TaskID: c.taskID, Error: "invalid command"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteWait)
	defer cancel()

	switch cmd.Type {
	case CommandStart:
		status, err := c.tasks.Start(ctx, c.taskID, nil)
		if err != nil {
			c.reject(cmd.Type, err)
			return
		}
		c.reply(ackMessage{Type: "ack", Command: cmd.Type, TaskID: c.taskID, Status: status.String()})
	case CommandCancel:
		if err := c.tasks.Cancel(ctx, c.taskID); err != nil {
			c.reject(cmd.Type, err)
			return
		}
		c.reply(ackMessage{Type: "ack", Command: cmd.Type, TaskID: c.taskID, Status: domain.TaskStatusCancelled.String()})
	default:
		c.reply(rejectedMessage{Type: "rejected", Command: cmd.Type, TaskID: c.taskID, Error: "unknown command"})
	}
}

func (c *client) reject(cmd string, err error) {
	c.logger.Info("stream command rejected", zap.String("command", cmd), zap.Error(err))
	c.reply(rejectedMessage{
		Type:    "rejected",
		Command: cmd,
		TaskID:  c.taskID,
		Code:    domain.ErrorCode(err),
		Error:   err.Error(),
	})
}

func (c *client) reply(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode stream reply", zap.Error(err))
		return
	}
	select {
	case c.replies <- data:
	case <-c.done:
	}
}

// writePump forwards task events and command replies, pings the peer and
// closes the connection once the task's stream ends.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.stop()
		_ = c.conn.Close()
	}()

	terminal := false
	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				c.drainReplies()
				reason := "generation finished"
				if !terminal {
					reason = "generation cancelled"
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
				return
			}
			data, err := encodeEvent(e)
			if err != nil {
				c.logger.Error("failed to encode task event", zap.Error(err))
				continue
			}
			if e.Type.IsTerminal() {
				terminal = true
			}
			if !c.write(data) {
				return
			}
		case data := <-c.replies:
			if !c.write(data) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) drainReplies() {
	for {
		select {
		case data := <-c.replies:
			if !c.write(data) {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("stream write failed", zap.Error(err))
		return false
	}
	return true
}
