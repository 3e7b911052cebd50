package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/tarz-one/Companion/internal/config"
)

// portAudioSource captures live microphone input through PortAudio.
type portAudioSource struct {
	cfg    config.AudioConfig
	stream *portaudio.Stream
	buf    []int16
}

func NewPortAudioSource(cfg config.AudioConfig) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	samples := cfg.SampleRate * cfg.FrameDurationMS / 1000
	buf := make([]int16, samples*cfg.Channels)

	var (
		stream *portaudio.Stream
		err    error
	)
	if cfg.Device == "" {
		stream, err = portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), samples, buf)
	} else {
		var dev *portaudio.DeviceInfo
		dev, err = findInputDevice(cfg.Device)
		if err == nil {
			params := portaudio.HighLatencyParameters(dev, nil)
			params.Input.Channels = cfg.Channels
			params.SampleRate = float64(cfg.SampleRate)
			params.FramesPerBuffer = samples
			stream, err = portaudio.OpenStream(params, buf)
		}
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}

	return &portAudioSource{cfg: cfg, stream: stream, buf: buf}, nil
}

func (p *portAudioSource) Start() error {
	return p.stream.Start()
}

func (p *portAudioSource) ReadFrame() ([]int16, error) {
	if err := p.stream.Read(); err != nil {
		return nil, err
	}
	return p.buf, nil
}

func (p *portAudioSource) Close() error {
	_ = p.stream.Stop()
	err := p.stream.Close()
	portaudio.Terminate()
	return err
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), needle) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

// Device describes an input device for the -list-devices flag.
type Device struct {
	Name     string
	Channels int
	Default  bool
}

// ListInputDevices enumerates microphone-capable devices.
func ListInputDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		def = nil
	}

	var out []Device
	for _, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			Name:     dev.Name,
			Channels: dev.MaxInputChannels,
			Default:  def != nil && dev.Name == def.Name,
		})
	}
	return out, nil
}
