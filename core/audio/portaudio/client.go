package portaudio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voicechat/core/audio"
)

// Client captures and plays linear16 mono audio through two blocking
// PortAudio streams, one for each direction.
type Client struct {
	bufferSize int
	input      *portaudio.Stream
	output     *portaudio.Stream

	in  []int16
	out []int16

	mu            sync.Mutex
	leftoverAudio []byte
	wake          chan struct{}

	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// NewClient opens the default input and output devices. bufferSize is in
// frames, 0 selects [audio.DefaultChunkDurationMs] worth of frames.
func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = audio.DefaultSampleRate * audio.DefaultChunkDurationMs / 1000
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	c := &Client{
		bufferSize: bufferSize,
		in:         make([]int16, bufferSize),
		out:        make([]int16, bufferSize),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, c.in); err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, audio.DefaultSampleRate, bufferSize, c.out); err != nil {
		_ = c.input.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	return c, nil
}

func (c *Client) Start(onInput func(audio []byte)) error {
	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	if err := c.output.Start(); err != nil {
		_ = c.input.Stop()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	c.started = true

	c.wg.Add(2)
	go c.capture(onInput)
	go c.playback()

	return nil
}

func (c *Client) capture(onInput func(audio []byte)) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.input.Read(); err != nil {
			// Overflows only mean some input was lost
			logger.Debug("failed to read from input stream", "error", err)
		}

		var chunk bytes.Buffer
		if err := binary.Write(&chunk, binary.LittleEndian, c.in); err != nil {
			logger.Error("failed to encode captured audio", "error", err)
			continue
		}
		onInput(chunk.Bytes())
	}
}

func (c *Client) playback() {
	defer c.wg.Done()
	frameBytes := c.bufferSize * 2
	for {
		c.mu.Lock()
		n := min(len(c.leftoverAudio), frameBytes)
		frame := make([]byte, frameBytes)
		copy(frame, c.leftoverAudio[:n])
		c.leftoverAudio = c.leftoverAudio[n:]
		c.mu.Unlock()

		if n == 0 {
			select {
			case <-c.done:
				return
			case <-c.wake:
				continue
			}
		}

		if err := binary.Read(bytes.NewReader(frame), binary.LittleEndian, c.out); err != nil {
			logger.Error("failed to decode playback audio", "error", err)
			continue
		}
		if err := c.output.Write(); err != nil {
			logger.Debug("failed to write to output stream", "error", err)
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *Client) Output(audio []byte) error {
	c.mu.Lock()
	c.leftoverAudio = append(c.leftoverAudio, audio...)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Client) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leftoverAudio = nil
}

func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		var errs []error
		if c.started {
			errs = append(errs, c.input.Stop(), c.output.Stop())
		}
		errs = append(errs, c.input.Close(), c.output.Close(), portaudio.Terminate())
		c.stopErr = errors.Join(errs...)
	})
	return c.stopErr
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
