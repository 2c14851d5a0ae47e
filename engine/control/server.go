package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"github.com/uxdesk/uxdesk/engine"
	"github.com/uxdesk/uxdesk/engine/device"
	"github.com/uxdesk/uxdesk/engine/matrix"
	"github.com/uxdesk/uxdesk/engine/meter"
)

const (
	// AcceptRateLimit is the allowed console connections per second.
	AcceptRateLimit = 10

	// AcceptBurstLimit is the maximum accept burst.
	AcceptBurstLimit = 20

	// RequestRateLimit is the allowed requests per second on one connection.
	// A console polling meters at screen rate sits far under this; only a
	// client looping on a hot error path hits it.
	RequestRateLimit = 200

	// RequestBurstLimit is the per-connection request burst.
	RequestBurstLimit = 400
)

// Desk is the engine surface the control server drives. *engine.Engine
// satisfies it.
type Desk interface {
	AddInput(deviceRef string) matrix.Input
	RemoveInput(id int) error
	AddOutput(sinkRef string) matrix.Output
	RemoveOutput(id int) error
	SetInputDevice(id int, deviceRef string) error
	SetInputVolume(id int, v float64) error
	SetInputMuted(id int, muted bool) error
	SetOutputSink(id int, sinkRef string) error
	SetOutputVolume(id int, v float64) error
	SetOutputMuted(id int, muted bool) error
	SetEQGain(id, band int, gainDB float64) error
	SetCompressor(id int, c matrix.Compressor) error
	SetDelayMS(id int, ms float64) error
	SetDirectVolume(v float64)
	SetDirectMuted(muted bool)
	SetRoute(src matrix.Source, outputID int, on bool) error
	ToggleRoute(src matrix.Source, outputID int) (bool, error)
	SetTargetBuffer(seconds float64)
	RebindInput(id int) error
	RebindOutput(id int) error
	StartRecording(outputID int, path string) error
	StopRecording(outputID int) error
	Start() error
	Stop() error
	Status() engine.Status
	Snapshot() matrix.Snapshot
	Levels() engine.LevelsReport
	Counters() []engine.OutputCounters
	Spectrum(outputID int) (engine.Spectrum, error)
	CaptureDevices() ([]device.Info, error)
	PlaybackDevices() ([]device.Info, error)
}

var _ Desk = (*engine.Engine)(nil)

type handlerFunc func(payload []byte) ([]byte, error)

// Server answers control packets on a unix socket. Unlike the stream
// listener it serves every connected console concurrently; the desk
// serializes their operations internally.
type Server struct {
	path    string
	desk    Desk
	log     *slog.Logger
	limiter *rate.Limiter

	handlers map[OpCode]handlerFunc

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a control server for the unix socket at path, driving
// desk.
func NewServer(path string, desk Desk, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		path:    path,
		desk:    desk,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(AcceptRateLimit), AcceptBurstLimit),
		conns:   make(map[net.Conn]struct{}),
	}
	s.handlers = map[OpCode]handlerFunc{
		OpPing:            s.handlePing,
		OpAddInput:        s.handleAddInput,
		OpRemoveInput:     s.handleRemoveInput,
		OpAddOutput:       s.handleAddOutput,
		OpRemoveOutput:    s.handleRemoveOutput,
		OpSetInputDevice:  s.handleSetInputDevice,
		OpSetInputVolume:  s.handleSetInputVolume,
		OpSetInputMuted:   s.handleSetInputMuted,
		OpSetOutputSink:   s.handleSetOutputSink,
		OpSetOutputVolume: s.handleSetOutputVolume,
		OpSetOutputMuted:  s.handleSetOutputMuted,
		OpSetEQGain:       s.handleSetEQGain,
		OpSetCompressor:   s.handleSetCompressor,
		OpSetDelay:        s.handleSetDelay,
		OpSetDirectVolume: s.handleSetDirectVolume,
		OpSetDirectMuted:  s.handleSetDirectMuted,
		OpSetRoute:        s.handleSetRoute,
		OpToggleRoute:     s.handleToggleRoute,
		OpSetTargetBuffer: s.handleSetTargetBuffer,
		OpRebindInput:     s.handleRebindInput,
		OpRebindOutput:    s.handleRebindOutput,
		OpStartRecording:  s.handleStartRecording,
		OpStopRecording:   s.handleStopRecording,
		OpStartEngine:     s.handleStartEngine,
		OpStopEngine:      s.handleStopEngine,
		OpStatus:          s.handleStatus,
		OpSnapshot:        s.handleSnapshot,
		OpLevels:          s.handleLevels,
		OpSpectrum:        s.handleSpectrum,
		OpCaptureDevices:  s.handleCaptureDevices,
		OpPlaybackDevices: s.handlePlaybackDevices,
		OpCounters:        s.handleCounters,
	}
	return s
}

// Serve listens on the control socket until ctx is canceled. A stale socket
// file from a previous run is removed before binding.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	defer os.Remove(s.path)
	s.log.Info("control listener up", "path", s.path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}

		if !s.limiter.Allow() {
			conn.Close()
			s.log.Warn("console dropped by rate limit")
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Close unblocks Serve and terminates every console connection.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

// serveConn answers one console's requests in order until the connection
// ends. A malformed frame terminates the connection; the client is expected
// to reconnect with a clean stream.
func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	limiter := rate.NewLimiter(rate.Limit(RequestRateLimit), RequestBurstLimit)

	for {
		pkt, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.log.Warn("console read failed", "err", err)
			}
			return
		}
		if pkt.IsReply {
			continue
		}

		var reply Packet
		if !limiter.Allow() {
			reply = Packet{ReqID: pkt.ReqID, Op: pkt.Op, IsReply: true, Error: "rate limit exceeded"}
		} else {
			reply = s.dispatch(pkt)
		}

		if err := WriteFrame(conn, reply); err != nil {
			return
		}
	}
}

// dispatch routes one request to its handler and shapes the reply. Handler
// errors travel back as the reply's Error string; the connection stays up.
func (s *Server) dispatch(pkt Packet) Packet {
	reply := Packet{ReqID: pkt.ReqID, Op: pkt.Op, IsReply: true}

	handler, ok := s.handlers[pkt.Op]
	if !ok {
		reply.Error = fmt.Sprintf("unknown op 0x%02x", uint8(pkt.Op))
		return reply
	}

	payload, err := handler(pkt.Payload)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	reply.Payload = payload
	return reply
}

func (s *Server) handlePing([]byte) ([]byte, error) {
	return nil, nil
}

func (s *Server) handleAddInput(payload []byte) ([]byte, error) {
	var req BindRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	in := s.desk.AddInput(req.Ref)
	return encode(&in), nil
}

func (s *Server) handleRemoveInput(payload []byte) ([]byte, error) {
	var req EntityRef
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.RemoveInput(int(req.ID))
}

func (s *Server) handleAddOutput(payload []byte) ([]byte, error) {
	var req BindRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	out := s.desk.AddOutput(req.Ref)
	return encode(&out), nil
}

func (s *Server) handleRemoveOutput(payload []byte) ([]byte, error) {
	var req EntityRef
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.RemoveOutput(int(req.ID))
}

func (s *Server) handleSetInputDevice(payload []byte) ([]byte, error) {
	var req BindRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetInputDevice(int(req.ID), req.Ref)
}

func (s *Server) handleSetInputVolume(payload []byte) ([]byte, error) {
	var req GainRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetInputVolume(int(req.ID), req.Value)
}

func (s *Server) handleSetInputMuted(payload []byte) ([]byte, error) {
	var req MuteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetInputMuted(int(req.ID), req.Muted)
}

func (s *Server) handleSetOutputSink(payload []byte) ([]byte, error) {
	var req BindRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetOutputSink(int(req.ID), req.Ref)
}

func (s *Server) handleSetOutputVolume(payload []byte) ([]byte, error) {
	var req GainRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetOutputVolume(int(req.ID), req.Value)
}

func (s *Server) handleSetOutputMuted(payload []byte) ([]byte, error) {
	var req MuteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetOutputMuted(int(req.ID), req.Muted)
}

func (s *Server) handleSetEQGain(payload []byte) ([]byte, error) {
	var req EQRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetEQGain(int(req.ID), int(req.Band), req.GainDB)
}

func (s *Server) handleSetCompressor(payload []byte) ([]byte, error) {
	var req CompressorRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetCompressor(int(req.ID), req.Comp)
}

func (s *Server) handleSetDelay(payload []byte) ([]byte, error) {
	var req GainRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetDelayMS(int(req.ID), req.Value)
}

func (s *Server) handleSetDirectVolume(payload []byte) ([]byte, error) {
	var req GainRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	s.desk.SetDirectVolume(req.Value)
	return nil, nil
}

func (s *Server) handleSetDirectMuted(payload []byte) ([]byte, error) {
	var req MuteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	s.desk.SetDirectMuted(req.Muted)
	return nil, nil
}

func (s *Server) handleSetRoute(payload []byte) ([]byte, error) {
	var req RouteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.SetRoute(req.source(), int(req.OutputID), req.On)
}

func (s *Server) handleToggleRoute(payload []byte) ([]byte, error) {
	var req RouteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	on, err := s.desk.ToggleRoute(req.source(), int(req.OutputID))
	if err != nil {
		return nil, err
	}
	return encode(&RouteState{On: on}), nil
}

func (s *Server) handleSetTargetBuffer(payload []byte) ([]byte, error) {
	var req GainRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	s.desk.SetTargetBuffer(req.Value)
	return nil, nil
}

func (s *Server) handleRebindInput(payload []byte) ([]byte, error) {
	var req EntityRef
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.RebindInput(int(req.ID))
}

func (s *Server) handleRebindOutput(payload []byte) ([]byte, error) {
	var req EntityRef
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.RebindOutput(int(req.ID))
}

func (s *Server) handleStartRecording(payload []byte) ([]byte, error) {
	var req RecordRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.StartRecording(int(req.ID), req.Path)
}

func (s *Server) handleStopRecording(payload []byte) ([]byte, error) {
	var req EntityRef
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return nil, s.desk.StopRecording(int(req.ID))
}

func (s *Server) handleStartEngine([]byte) ([]byte, error) {
	return nil, s.desk.Start()
}

func (s *Server) handleStopEngine([]byte) ([]byte, error) {
	return nil, s.desk.Stop()
}

func (s *Server) handleStatus([]byte) ([]byte, error) {
	return encode(statusReportFrom(s.desk.Status())), nil
}

func (s *Server) handleSnapshot([]byte) ([]byte, error) {
	snap := s.desk.Snapshot()
	return encode(&snap), nil
}

func (s *Server) handleLevels([]byte) ([]byte, error) {
	return encode(levelsReportFrom(s.desk.Levels())), nil
}

func (s *Server) handleSpectrum(payload []byte) ([]byte, error) {
	var req EntityRef
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	sp, err := s.desk.Spectrum(int(req.ID))
	if err != nil {
		return nil, err
	}
	return encode(&SpectrumReport{Frequencies: sp.Frequencies, Bins: sp.Bins}), nil
}

func (s *Server) handleCaptureDevices([]byte) ([]byte, error) {
	infos, err := s.desk.CaptureDevices()
	if err != nil {
		return nil, err
	}
	return encode(deviceListFrom(infos)), nil
}

func (s *Server) handlePlaybackDevices([]byte) ([]byte, error) {
	infos, err := s.desk.PlaybackDevices()
	if err != nil {
		return nil, err
	}
	return encode(deviceListFrom(infos)), nil
}

func (s *Server) handleCounters([]byte) ([]byte, error) {
	return encode(counterReportFrom(s.desk.Counters())), nil
}

func statusReportFrom(st engine.Status) *StatusReport {
	return &StatusReport{
		Running:             st.Running,
		StreamConnected:     st.StreamConnected,
		StreamRate:          int32(st.StreamRate),
		StreamFrames:        st.StreamFrames,
		TargetBufferSeconds: st.TargetBufferSeconds,
		Inputs:              int32(st.Inputs),
		Outputs:             int32(st.Outputs),
	}
}

func levelValuesFrom(l meter.LevelSnapshot) LevelValues {
	return LevelValues{
		LeftRMS:   l.LeftRMS,
		LeftPeak:  l.LeftPeak,
		RightRMS:  l.RightRMS,
		RightPeak: l.RightPeak,
	}
}

func levelsReportFrom(rep engine.LevelsReport) *LevelsReport {
	out := &LevelsReport{
		Inputs:  make([]EntityLevels, 0, len(rep.Inputs)),
		Direct:  levelValuesFrom(rep.Direct),
		Outputs: make([]EntityLevels, 0, len(rep.Outputs)),
	}
	for _, in := range rep.Inputs {
		out.Inputs = append(out.Inputs, EntityLevels{ID: int32(in.ID), Levels: levelValuesFrom(in.Levels)})
	}
	for _, o := range rep.Outputs {
		out.Outputs = append(out.Outputs, EntityLevels{ID: int32(o.ID), Levels: levelValuesFrom(o.Levels)})
	}
	return out
}

func counterReportFrom(rows []engine.OutputCounters) *CounterReport {
	rep := &CounterReport{Outputs: make([]CounterRow, 0, len(rows))}
	for _, r := range rows {
		rep.Outputs = append(rep.Outputs, CounterRow{
			ID:            int32(r.ID),
			Underruns:     r.Underruns,
			Overruns:      r.Overruns,
			DroppedChunks: r.DroppedChunks,
			Recording:     r.Recording,
			RecordPath:    r.RecordPath,
			RecorderDrops: r.RecorderDrops,
		})
	}
	return rep
}

func deviceListFrom(infos []device.Info) *DeviceList {
	list := &DeviceList{Names: make([]string, 0, len(infos))}
	for _, info := range infos {
		list.Names = append(list.Names, info.Name)
	}
	return list
}
