package control

import (
	"errors"
	"net"
	"sync"

	"github.com/uxdesk/uxdesk/engine"
	"github.com/uxdesk/uxdesk/engine/matrix"
)

// Client is a console's connection to the desk daemon. Methods may be
// called from multiple goroutines; requests are serialized on the wire, one
// outstanding at a time.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	next uint64
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close terminates the connection. In-flight calls fail.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one request and blocks for its reply. A reply that does
// not match the request id is a leftover from an interrupted call and is
// skipped.
func (c *Client) roundTrip(op OpCode, req wireMessage) (Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	pkt := Packet{ReqID: c.next, Op: op}
	if req != nil {
		pkt.Payload = encode(req)
	}
	if err := WriteFrame(c.conn, pkt); err != nil {
		return Packet{}, err
	}

	for {
		reply, err := ReadFrame(c.conn)
		if err != nil {
			return Packet{}, err
		}
		if !reply.IsReply || reply.ReqID != pkt.ReqID {
			continue
		}
		if !reply.OK {
			return reply, remoteError(reply.Error)
		}
		return reply, nil
	}
}

// call is roundTrip for ops whose reply carries no payload.
func (c *Client) call(op OpCode, req wireMessage) error {
	_, err := c.roundTrip(op, req)
	return err
}

// Ping checks that the daemon is answering.
func (c *Client) Ping() error {
	return c.call(OpPing, nil)
}

// AddInput registers a hardware input bound to deviceRef and returns its
// allocated state.
func (c *Client) AddInput(deviceRef string) (matrix.Input, error) {
	var in matrix.Input
	reply, err := c.roundTrip(OpAddInput, &BindRequest{Ref: deviceRef})
	if err != nil {
		return in, err
	}
	err = decode(reply.Payload, &in)
	return in, err
}

// RemoveInput drops input id and every route that passes through it.
func (c *Client) RemoveInput(id int) error {
	return c.call(OpRemoveInput, &EntityRef{ID: int32(id)})
}

// AddOutput registers an output bound to sinkRef and returns its allocated
// state.
func (c *Client) AddOutput(sinkRef string) (matrix.Output, error) {
	var out matrix.Output
	reply, err := c.roundTrip(OpAddOutput, &BindRequest{Ref: sinkRef})
	if err != nil {
		return out, err
	}
	err = decode(reply.Payload, &out)
	return out, err
}

// RemoveOutput drops output id and every route that targets it.
func (c *Client) RemoveOutput(id int) error {
	return c.call(OpRemoveOutput, &EntityRef{ID: int32(id)})
}

// SetInputDevice rebinds input id to a different capture device.
func (c *Client) SetInputDevice(id int, deviceRef string) error {
	return c.call(OpSetInputDevice, &BindRequest{ID: int32(id), Ref: deviceRef})
}

// SetInputVolume sets input id's gain.
func (c *Client) SetInputVolume(id int, v float64) error {
	return c.call(OpSetInputVolume, &GainRequest{ID: int32(id), Value: v})
}

// SetInputMuted sets input id's mute flag.
func (c *Client) SetInputMuted(id int, muted bool) error {
	return c.call(OpSetInputMuted, &MuteRequest{ID: int32(id), Muted: muted})
}

// SetOutputSink rebinds output id to a different playback sink.
func (c *Client) SetOutputSink(id int, sinkRef string) error {
	return c.call(OpSetOutputSink, &BindRequest{ID: int32(id), Ref: sinkRef})
}

// SetOutputVolume sets output id's master volume.
func (c *Client) SetOutputVolume(id int, v float64) error {
	return c.call(OpSetOutputVolume, &GainRequest{ID: int32(id), Value: v})
}

// SetOutputMuted sets output id's mute flag.
func (c *Client) SetOutputMuted(id int, muted bool) error {
	return c.call(OpSetOutputMuted, &MuteRequest{ID: int32(id), Muted: muted})
}

// SetEQGain moves one equalizer band on output id.
func (c *Client) SetEQGain(id, band int, gainDB float64) error {
	return c.call(OpSetEQGain, &EQRequest{ID: int32(id), Band: int32(band), GainDB: gainDB})
}

// SetCompressor replaces output id's dynamics settings.
func (c *Client) SetCompressor(id int, comp matrix.Compressor) error {
	return c.call(OpSetCompressor, &CompressorRequest{ID: int32(id), Comp: comp})
}

// SetDelayMS sets output id's alignment delay in milliseconds.
func (c *Client) SetDelayMS(id int, ms float64) error {
	return c.call(OpSetDelay, &GainRequest{ID: int32(id), Value: ms})
}

// SetDirectVolume sets the stream input's gain.
func (c *Client) SetDirectVolume(v float64) error {
	return c.call(OpSetDirectVolume, &GainRequest{Value: v})
}

// SetDirectMuted sets the stream input's mute flag.
func (c *Client) SetDirectMuted(muted bool) error {
	return c.call(OpSetDirectMuted, &MuteRequest{Muted: muted})
}

// SetRoute sets one edge of the routing grid.
func (c *Client) SetRoute(src matrix.Source, outputID int, on bool) error {
	req := routeRequestFrom(src, outputID)
	req.On = on
	return c.call(OpSetRoute, req)
}

// ToggleRoute flips one edge of the routing grid and reports the new state.
func (c *Client) ToggleRoute(src matrix.Source, outputID int) (bool, error) {
	reply, err := c.roundTrip(OpToggleRoute, routeRequestFrom(src, outputID))
	if err != nil {
		return false, err
	}
	var state RouteState
	if err := decode(reply.Payload, &state); err != nil {
		return false, err
	}
	return state.On, nil
}

// SetTargetBuffer sets the stream input's buffering target in seconds.
func (c *Client) SetTargetBuffer(seconds float64) error {
	return c.call(OpSetTargetBuffer, &GainRequest{Value: seconds})
}

// RebindInput retries the device binding of input id.
func (c *Client) RebindInput(id int) error {
	return c.call(OpRebindInput, &EntityRef{ID: int32(id)})
}

// RebindOutput retries the sink binding of output id.
func (c *Client) RebindOutput(id int) error {
	return c.call(OpRebindOutput, &EntityRef{ID: int32(id)})
}

// StartRecording begins bouncing output id to a WAV file at path.
func (c *Client) StartRecording(outputID int, path string) error {
	return c.call(OpStartRecording, &RecordRequest{ID: int32(outputID), Path: path})
}

// StopRecording finalizes output id's WAV file.
func (c *Client) StopRecording(outputID int) error {
	return c.call(OpStopRecording, &EntityRef{ID: int32(outputID)})
}

// StartEngine brings the audio graph up.
func (c *Client) StartEngine() error {
	return c.call(OpStartEngine, nil)
}

// StopEngine tears the audio graph down. Configuration is kept.
func (c *Client) StopEngine() error {
	return c.call(OpStopEngine, nil)
}

// Status reports the daemon's liveness summary.
func (c *Client) Status() (StatusReport, error) {
	var st StatusReport
	reply, err := c.roundTrip(OpStatus, nil)
	if err != nil {
		return st, err
	}
	err = decode(reply.Payload, &st)
	return st, err
}

// Snapshot fetches the full desk configuration.
func (c *Client) Snapshot() (matrix.Snapshot, error) {
	var snap matrix.Snapshot
	reply, err := c.roundTrip(OpSnapshot, nil)
	if err != nil {
		return snap, err
	}
	err = decode(reply.Payload, &snap)
	return snap, err
}

// Levels polls every meter on the desk.
func (c *Client) Levels() (LevelsReport, error) {
	var rep LevelsReport
	reply, err := c.roundTrip(OpLevels, nil)
	if err != nil {
		return rep, err
	}
	err = decode(reply.Payload, &rep)
	return rep, err
}

// Spectrum fetches output id's magnitude spectrum.
func (c *Client) Spectrum(outputID int) (SpectrumReport, error) {
	var rep SpectrumReport
	reply, err := c.roundTrip(OpSpectrum, &EntityRef{ID: int32(outputID)})
	if err != nil {
		return rep, err
	}
	err = decode(reply.Payload, &rep)
	return rep, err
}

// CaptureDevices lists the capture device names the daemon can see.
func (c *Client) CaptureDevices() ([]string, error) {
	return c.deviceNames(OpCaptureDevices)
}

// PlaybackDevices lists the playback device names the daemon can see.
func (c *Client) PlaybackDevices() ([]string, error) {
	return c.deviceNames(OpPlaybackDevices)
}

func (c *Client) deviceNames(op OpCode) ([]string, error) {
	reply, err := c.roundTrip(op, nil)
	if err != nil {
		return nil, err
	}
	var list DeviceList
	if err := decode(reply.Payload, &list); err != nil {
		return nil, err
	}
	return list.Names, nil
}

// Counters fetches per-output telemetry.
func (c *Client) Counters() ([]CounterRow, error) {
	reply, err := c.roundTrip(OpCounters, nil)
	if err != nil {
		return nil, err
	}
	var rep CounterReport
	if err := decode(reply.Payload, &rep); err != nil {
		return nil, err
	}
	return rep.Outputs, nil
}

func routeRequestFrom(src matrix.Source, outputID int) *RouteRequest {
	return &RouteRequest{
		Direct:   src.Kind == matrix.SourceDirect,
		InputID:  int32(src.InputID),
		OutputID: int32(outputID),
	}
}

// remoteError rehydrates the engine's sentinel errors so callers can match
// them with errors.Is across the socket.
func remoteError(msg string) error {
	switch msg {
	case matrix.ErrUnknownID.Error():
		return matrix.ErrUnknownID
	case matrix.ErrInvalidBand.Error():
		return matrix.ErrInvalidBand
	case engine.ErrNotRunning.Error():
		return engine.ErrNotRunning
	case engine.ErrRecording.Error():
		return engine.ErrRecording
	case engine.ErrNotRecording.Error():
		return engine.ErrNotRecording
	}
	return errors.New(msg)
}
