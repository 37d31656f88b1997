package peer

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// EngineConfigurer registers additional codecs with a transport media engine.
// The capture side implements this so connections negotiate the codecs it
// encodes with.
type EngineConfigurer interface {
	Populate(*webrtc.MediaEngine)
}

// PionFactory builds pion-backed transports sharing one API instance.
type PionFactory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

// NewPionFactory configures the shared media engine and setting engine.
// engineCfg may be nil when no local capture exists (degraded mode).
func NewPionFactory(stunURLs []string, engineCfg EngineConfigurer, log *zap.Logger) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if engineCfg != nil {
		engineCfg.Populate(mediaEngine)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: &zapLoggerFactory{base: log.Sugar()},
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
		},
	}, nil
}

// New builds one transport.
func (f *PionFactory) New() (Transport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionTransport{pc: pc}, nil
}

type pionTransport struct {
	pc          *webrtc.PeerConnection
	mu          sync.Mutex
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	t.mu.Lock()
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		t.audioSender = sender
	case webrtc.RTPCodecTypeVideo:
		t.videoSender = sender
	}
	t.mu.Unlock()
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *pionTransport) ReplaceAudioTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender := t.audioSender
	t.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no outbound audio sender")
	}
	return sender.ReplaceTrack(track)
}

func (t *pionTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender := t.videoSender
	t.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no outbound video sender")
	}
	return sender.ReplaceTrack(track)
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (t *pionTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sd)
}

func (t *pionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *pionTransport) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering finished.
			return
		}
		f(c.ToJSON())
	})
}

func (t *pionTransport) OnTrack(f func(RemoteTrack)) {
	t.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     remote.Kind().String(),
		})
		// Keep reading so the jitter buffer does not back up; the UI layer
		// consumes rendered media elsewhere.
		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
}

func (t *pionTransport) OnStateChange(f func(State)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		f(mapState(s))
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func mapState(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateClosed
	}
}

// zapLoggerFactory routes pion's internal logging through zap.
type zapLoggerFactory struct {
	base *zap.SugaredLogger
}

func (f *zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveledLogger{log: f.base.Named(scope)}
}

type zapLeveledLogger struct {
	log *zap.SugaredLogger
}

func (l *zapLeveledLogger) Trace(msg string)                          { l.log.Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *zapLeveledLogger) Debug(msg string)                          { l.log.Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *zapLeveledLogger) Info(msg string)                           { l.log.Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...interface{})  { l.log.Infof(format, args...) }
func (l *zapLeveledLogger) Warn(msg string)                           { l.log.Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...interface{})  { l.log.Warnf(format, args...) }
func (l *zapLeveledLogger) Error(msg string)                          { l.log.Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
