// Package client maintains the worker's control channel to the coordinator.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/thuasta/saiblo-worker/internal/task"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

const (
	heartBeatInterval = 3 * time.Second
	idlePollInterval  = time.Second
	reconnectInterval = time.Second
)

// Frame is the line-delimited JSON envelope exchanged with the coordinator.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type initData struct {
	Description string `json:"description"`
	Address     string `json:"address"`
}

type requestJudgeTaskData struct {
	Queue int `json:"queue"`
}

type finishJudgeTaskData struct {
	MatchID string `json:"match_id"`
}

type compilationTaskData struct {
	CodeID string `json:"code_id"`
}

type judgeTaskData struct {
	MatchID string `json:"match_id"`
	Players []struct {
		CodeID string `json:"code_id"`
	} `json:"players"`
}

// Scheduler is the slice of the task scheduler the session needs.
type Scheduler interface {
	Schedule(t task.Task)
	Idle() bool
	PopDoneTask(ctx context.Context) (task.Task, error)
}

// Client is the reconnecting coordinator session. After each successful dial
// it sends an init frame and then runs the receive, heartbeat,
// request-when-idle and finish-notify loops concurrently until the
// connection drops.
type Client struct {
	name      string
	url       string
	scheduler Scheduler
	builds    *task.BuildTaskFactory
	judges    *task.JudgeTaskFactory
	log       *logger.Logger

	// judgeTaskArrived carries the "your outstanding request was consumed"
	// signal from the receive loop to the request loop. Single slot: the
	// worker never has more than one outstanding request.
	judgeTaskArrived chan struct{}
}

// New creates a Client.
func New(
	name string,
	url string,
	sched Scheduler,
	builds *task.BuildTaskFactory,
	judges *task.JudgeTaskFactory,
	log *logger.Logger,
) *Client {
	return &Client{
		name:             name,
		url:              url,
		scheduler:        sched,
		builds:           builds,
		judges:           judges,
		log:              log,
		judgeTaskArrived: make(chan struct{}, 1),
	}
}

// Start dials the coordinator and keeps the session alive until ctx is done.
// Connection closures are retried silently with a full re-init.
func (c *Client) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.log.Debug("dial failed", "url", c.url, "error", err)
			if !sleep(ctx, reconnectInterval) {
				return ctx.Err()
			}
			continue
		}

		c.log.Info("connected to coordinator", "url", c.url)

		err = c.run(ctx, conn)
		conn.Close()

		c.log.Debug("connection lost", "error", err)
	}
}

// run drives one connection until any loop fails.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) error {
	session := &session{conn: conn}

	if err := session.send(Frame{
		Type: "init",
		Data: mustMarshal(initData{Description: c.name}),
	}); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Unblock the blocking Read/PopDone calls when a sibling loop fails.
	g.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return ctx.Err()
	})

	g.Go(func() error { return c.receiveLoop(ctx, session) })
	g.Go(func() error { return c.heartBeatLoop(ctx, session) })
	g.Go(func() error { return c.requestJudgeTaskLoop(ctx, session) })
	g.Go(func() error { return c.finishJudgeTaskLoop(ctx, session) })

	return g.Wait()
}

// receiveLoop decodes inbound frames and schedules tasks. Unknown frame
// types are ignored.
func (c *Client) receiveLoop(ctx context.Context, s *session) error {
	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return err
		}

		switch frame.Type {
		case "compilation_task":
			var data compilationTaskData
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				c.log.Warn("malformed compilation_task frame", "error", err)
				continue
			}

			c.log.Info("compilation task received", "code_id", data.CodeID)
			c.scheduler.Schedule(c.builds.New(data.CodeID))

		case "judge_task":
			var data judgeTaskData
			if err := json.Unmarshal(frame.Data, &data); err != nil {
				c.log.Warn("malformed judge_task frame", "error", err)
				continue
			}

			codeIDs := make([]string, len(data.Players))
			for i, player := range data.Players {
				codeIDs[i] = player.CodeID
			}

			c.log.Info("judge task received", "match_id", data.MatchID)
			c.scheduler.Schedule(c.judges.New(data.MatchID, codeIDs))

			// Wake the request loop: its outstanding request is consumed.
			select {
			case c.judgeTaskArrived <- struct{}{}:
			default:
			}

		default:
			c.log.Debug("ignoring frame", "type", frame.Type)
		}
	}
}

func (c *Client) heartBeatLoop(ctx context.Context, s *session) error {
	ticker := time.NewTicker(heartBeatInterval)
	defer ticker.Stop()

	for {
		if err := s.send(Frame{Type: "heart_beat"}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// requestJudgeTaskLoop asks for work whenever the scheduler is idle, keeping
// at most one outstanding request.
func (c *Client) requestJudgeTaskLoop(ctx context.Context, s *session) error {
	for {
		if !c.scheduler.Idle() {
			if !sleep(ctx, idlePollInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := s.send(Frame{
			Type: "request_judge_task",
			Data: mustMarshal(requestJudgeTaskData{Queue: 0}),
		}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.judgeTaskArrived:
		}
	}
}

// finishJudgeTaskLoop notifies the coordinator of every finished judge task.
func (c *Client) finishJudgeTaskLoop(ctx context.Context, s *session) error {
	for {
		done, err := c.scheduler.PopDoneTask(ctx)
		if err != nil {
			return err
		}

		judgeTask, ok := done.(*task.JudgeTask)
		if !ok {
			continue
		}

		if err := s.send(Frame{
			Type: "finish_judge_task",
			Data: mustMarshal(finishJudgeTaskData{MatchID: judgeTask.MatchID()}),
		}); err != nil {
			return err
		}
	}
}

// session serializes writes: gorilla/websocket allows one concurrent writer.
type session struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *session) send(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// sleep waits for d, returning false if ctx finished first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
