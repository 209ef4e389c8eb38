package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voicechat/core/audio"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	chunker chunker

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(encoding.SampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.audioContext = audioContext
	c.chunker.size = encoding.ChunkSize(audio.DefaultChunkDurationMs)

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.chunker.write(pInput[:n])
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Start(onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	c.chunker.setListener(onAudio)
	if err := c.device.Start(); err != nil {
		c.chunker.setListener(nil)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil || !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	c.chunker.setListener(nil)
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}

	c.chunker.setListener(nil)
	return nil
}

// chunker collects small device periods into fixed size chunks before
// handing them to the listener.
type chunker struct {
	size     int
	buffer   []byte
	listener func([]byte)

	mu sync.Mutex
}

func (c *chunker) setListener(listener func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
	c.buffer = c.buffer[:0]
}

func (c *chunker) write(data []byte) {
	c.mu.Lock()
	listener := c.listener
	if listener == nil {
		c.mu.Unlock()
		return
	}

	c.buffer = append(c.buffer, data...)
	var ready [][]byte
	for c.size > 0 && len(c.buffer) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buffer[:c.size])
		ready = append(ready, chunk)
		c.buffer = c.buffer[c.size:]
	}
	if c.size <= 0 && len(c.buffer) > 0 {
		ready = append(ready, append([]byte(nil), c.buffer...))
		c.buffer = c.buffer[:0]
	}
	c.mu.Unlock()

	for _, chunk := range ready {
		listener(chunk)
	}
}
