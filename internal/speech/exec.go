package speech

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd        []string
	voice      string
	sampleRate int
	channels   int

	mu   sync.Mutex
	rate float64
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Rate       float64 `json:"rate"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecEngine shells out to a synthesizer command (piper-style) that reads
// one JSON request on stdin and streams JSON-encoded PCM chunks on stdout,
// one per line.
func NewExecEngine(command, voice string, sampleRate, channels int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("speech: parse synthesizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech: synthesizer command empty")
	}
	return &execEngine{
		cmd:        args,
		voice:      voice,
		sampleRate: sampleRate,
		channels:   channels,
		rate:       1.0,
	}, nil
}

func (e *execEngine) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()
}

func (e *execEngine) SynthesizeStream(ctx context.Context, text string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	e.mu.Lock()
	rate := e.rate
	e.mu.Unlock()

	go func() {
		defer close(chunks)
		defer close(errs)

		reqPayload := execRequest{
			Text:       text,
			Voice:      e.voice,
			Rate:       rate,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
		}
		data, err := json.Marshal(reqPayload)
		if err != nil {
			errs <- err
			return
		}

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- err
			cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- err
				cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- err
				cmd.Wait()
				return
			}
			select {
			case chunks <- Chunk{PCM: pcm, Final: resp.Final}:
			case <-ctx.Done():
				errs <- ctx.Err()
				cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil {
			errs <- err
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
		}
	}()
	return chunks, errs
}
