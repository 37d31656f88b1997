package media

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	// Register capture adapters.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// Provider abstracts capture acquisition so the manager can run against
// fakes in tests and against real devices in production.
type Provider interface {
	// UserMedia acquires camera and microphone tracks. Either may be nil if
	// the device kind is absent; an error means capture is denied entirely.
	UserMedia(participantID string) (audio, video Track, err error)
	// DisplayMedia acquires a screen capture track.
	DisplayMedia(participantID string) (Track, error)
}

// DeviceProvider acquires real capture through pion/mediadevices with VP8
// video and Opus audio.
type DeviceProvider struct {
	codec *mediadevices.CodecSelector
}

// NewDeviceProvider builds the codec selector shared by capture and the peer
// transport's media engine.
func NewDeviceProvider() (*DeviceProvider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 15
	vpxParams.Deadline = time.Millisecond * 200

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &DeviceProvider{
		codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the selected codecs with a transport media engine.
// Connections must negotiate the same codecs the capture encodes with.
func (p *DeviceProvider) Populate(engine *webrtc.MediaEngine) {
	p.codec.Populate(engine)
}

func (p *DeviceProvider) UserMedia(participantID string) (Track, Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: p.codec,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	var audio, video Track
	if tracks := stream.GetAudioTracks(); len(tracks) > 0 {
		audio = wrapDeviceTrack(tracks[0], CameraStreamID(participantID))
	}
	if tracks := stream.GetVideoTracks(); len(tracks) > 0 {
		video = wrapDeviceTrack(tracks[0], CameraStreamID(participantID))
	}
	return audio, video, nil
}

func (p *DeviceProvider) DisplayMedia(participantID string) (Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.Float(15)
		},
		Codec: p.codec,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenShareDenied, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no screen track", ErrScreenShareDenied)
	}
	return wrapDeviceTrack(tracks[0], ScreenStreamID(participantID)), nil
}

// deviceTrack adapts a mediadevices track to the local Track contract: a
// controllable stream id and an enabled flag. The flag is bookkeeping only;
// the Manager gates the actual media flow at the connection senders.
type deviceTrack struct {
	mediadevices.Track
	streamID string
	disabled atomic.Bool
}

func wrapDeviceTrack(t mediadevices.Track, streamID string) *deviceTrack {
	return &deviceTrack{Track: t, streamID: streamID}
}

func (t *deviceTrack) StreamID() string   { return t.streamID }
func (t *deviceTrack) SetEnabled(v bool)  { t.disabled.Store(!v) }
func (t *deviceTrack) Enabled() bool      { return !t.disabled.Load() }
func (t *deviceTrack) OnEnded(f func()) {
	t.Track.OnEnded(func(error) { f() })
}
