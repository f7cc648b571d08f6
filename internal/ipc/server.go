package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"tower/internal/api"
	"tower/internal/daemon"
	"tower/internal/jobs"
	"tower/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Tower", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun tower stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	pipelineStatus := api.FromStatusSummary(status.Pipeline)

	resp.Running = status.Running
	resp.StateDBPath = status.StateDBPath
	resp.LockPath = status.LockFilePath
	resp.PID = status.PID
	resp.QueueStats = pipelineStatus.QueueStats
	resp.LastError = pipelineStatus.LastError
	resp.LastJob = pipelineStatus.LastJob
	resp.StageHealth = pipelineStatus.StageHealth
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	spec, ok := api.ToJobSpec(req.Spec, s.daemon.DefaultMaxRetries())
	if !ok {
		return fmt.Errorf("unknown job type %q", req.Spec.JobType)
	}
	job, err := s.daemon.Submit(s.ctx, spec)
	if err != nil {
		return err
	}
	resp.Job = api.FromJob(job)
	s.log().Info("job submitted via IPC",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.Int64(logging.FieldJobID, job.ID))
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	if req.CharacterID != "" {
		records, err := s.daemon.ListJobsByCharacter(s.ctx, req.CharacterID)
		if err != nil {
			return err
		}
		resp.Jobs = api.FromJobs(records)
		return nil
	}
	statuses := make([]jobs.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := jobs.ParseStatus(status)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	records, err := s.daemon.ListJobs(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Jobs = api.FromJobs(records)
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	detail, err := s.daemon.JobDetail(s.ctx, req.ID)
	if err != nil {
		return err
	}
	converted := api.FromJobDetail(detail)
	resp.Job = converted.Job
	resp.Params = converted.Params
	resp.Scores = converted.Scores
	resp.Transitions = converted.Transitions
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	job, err := s.daemon.CancelJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = api.FromJob(job)
	s.log().Info("job cancel requested via IPC",
		logging.String(logging.FieldEventType, "job_cancel"),
		logging.Int64(logging.FieldJobID, req.ID))
	return nil
}

func (s *service) Reproduce(req ReproduceRequest, resp *ReproduceResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid job id %d", req.ID)
	}
	clone, err := s.daemon.Reproduce(s.ctx, req.ID, req.FreshSeed)
	if err != nil {
		return err
	}
	resp.Job = api.FromJob(clone)
	s.log().Info("job reproduced via IPC",
		logging.String(logging.FieldEventType, "job_reproduced"),
		logging.Int64("source_job_id", req.ID),
		logging.Int64(logging.FieldJobID, clone.ID))
	return nil
}

func (s *service) Gate(req GateRequest, resp *GateResponse) error {
	if req.ProjectID == "" {
		return errors.New("project id is required")
	}
	latest, history, err := s.daemon.GateSnapshot(s.ctx, req.ProjectID)
	if err != nil {
		return err
	}
	resp.ProjectID = req.ProjectID
	resp.Latest = api.FromGateResults(latest)
	resp.History = api.FromGateResults(history)
	return nil
}

func (s *service) References(req ReferencesRequest, resp *ReferencesResponse) error {
	if req.CharacterID == "" {
		return errors.New("character id is required")
	}
	refs, err := s.daemon.References(s.ctx, req.CharacterID, req.Modality)
	if err != nil {
		return err
	}
	resp.CharacterID = jobs.NormalizeCharacterID(req.CharacterID)
	resp.References = api.FromReferences(refs)
	return nil
}

func (s *service) Characters(_ CharactersRequest, resp *CharactersResponse) error {
	characters, err := s.daemon.Characters(s.ctx)
	if err != nil {
		return err
	}
	resp.Characters = characters
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	hub := s.daemon.Hub()
	if hub == nil {
		resp.Next = req.Since
		return nil
	}
	if req.Snapshot {
		events, next := hub.Snapshot()
		resp.Events = events
		resp.Next = next
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	ctx := s.ctx
	if req.Follow {
		wait := time.Duration(req.WaitMillis) * time.Millisecond
		if wait <= 0 {
			wait = time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	events, next, err := hub.Fetch(ctx, req.Since, limit, req.Follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Events = events
	resp.Next = next
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
