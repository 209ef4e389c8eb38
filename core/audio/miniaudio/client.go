package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voicechat/core/audio"
)

// Client is the default system audio interface: it captures the default
// microphone and plays to the default speaker through miniaudio.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient

	encodingInfo audio.EncodingInfo
	stopOnce     sync.Once
	stopErr      error
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}

	if err := client.playbackClient.Init(audioCtx, client.encodingInfo); err != nil {
		client.close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, client.encodingInfo); err != nil {
		client.close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

// Start starts playback and begins delivering microphone audio to onInput
// in chunks of [audio.DefaultChunkDurationMs].
func (c *Client) Start(onInput func(audio []byte)) error {
	if err := c.playbackClient.Start(); err != nil {
		return err
	}

	if err := c.captureClient.Start(onInput); err != nil {
		_ = c.playbackClient.Stop()
		return err
	}

	return nil
}

func (c *Client) Output(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) Interrupt() {
	c.playbackClient.ClearBuffer()
}

// Stop stops both devices and releases the audio context. The client cannot
// be restarted afterwards.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = errors.Join(c.captureClient.Stop(), c.playbackClient.Stop())
		c.close()
	})
	return c.stopErr
}

func (c *Client) close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
