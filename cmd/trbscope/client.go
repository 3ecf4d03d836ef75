package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/trbscope/internal/render"
	"github.com/skypro1111/trbscope/internal/trb"
)

var errDecodeFailed = errors.New("one or more inputs could not be decoded")

type decodeOptions struct {
	args   []string
	dwords bool
	json   bool
	strict bool
}

func parser(dwords bool) func(string) ([]byte, error) {
	if dwords {
		return trb.ParseDwords
	}
	return trb.ParseHex
}

// runDecode decodes the arguments as a single TRB, or each non-blank stdin
// line as one TRB when no arguments are given
func (s *streams) runDecode(opts decodeOptions) error {
	var decoderOpts []trb.Option
	if opts.strict {
		decoderOpts = append(decoderOpts, trb.WithMinLength(trb.Size))
	}
	decoder, err := trb.NewDecoder(decoderOpts...)
	if err != nil {
		return err
	}

	var inputs []string
	if len(opts.args) > 0 {
		inputs = []string{strings.Join(opts.args, " ")}
	} else {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
				inputs = append(inputs, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	parse := parser(opts.dwords)
	renderer := render.NewRenderer(isTTY(s.out))
	encoder := json.NewEncoder(s.out)

	failed := false
	for i, input := range inputs {
		env, err := decodeInput(decoder, parse, input)
		if err != nil {
			failed = true
			fmt.Fprintf(s.err, "input %d: %v\n", i+1, err)
			continue
		}

		if opts.json {
			if err := encoder.Encode(env); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			fmt.Fprintln(s.out)
		}
		fmt.Fprint(s.out, renderer.Render(env))
	}

	if failed {
		return errDecodeFailed
	}
	return nil
}

func decodeInput(decoder *trb.Decoder, parse func(string) ([]byte, error), input string) (*trb.Envelope, error) {
	data, err := parse(input)
	if err != nil {
		return nil, err
	}
	return decoder.Decode(data)
}

// runSend sends every argument as one binary message
func (s *streams) runSend(ctx context.Context, target string, args []string, dwords bool) error {
	if len(args) == 0 {
		return errors.New("nothing to send: pass one hex TRB per argument")
	}

	parse := parser(dwords)
	messages := make([][]byte, 0, len(args))
	for i, arg := range args {
		data, err := parse(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		messages = append(messages, data)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.Close()

	for i, msg := range messages {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("failed to send message %d: %w", i+1, err)
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))

	fmt.Fprintf(s.err, "sent %d message(s) to %s\n", len(messages), target)
	return nil
}

// watchRecord is the subset of a streamed record the watcher prints. The
// packet is decoded again from its raw bytes.
type watchRecord struct {
	Seq        uint64    `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
	Source     string    `json:"source"`
	Transport  string    `json:"transport"`
	Packet     struct {
		Raw trb.RawBytes `json:"raw"`
	} `json:"packet"`
}

// runWatch prints every record streamed by the service until ctx ends or the
// server closes the connection
func (s *streams) runWatch(ctx context.Context, target string, replay int, raw bool) error {
	if replay > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", target, err)
		}
		q := u.Query()
		q.Set("replay", strconv.Itoa(replay))
		u.RawQuery = q.Encode()
		target = u.String()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	renderer := render.NewRenderer(isTTY(s.out))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("watch connection: %w", err)
		}

		if raw {
			fmt.Fprintln(s.out, string(data))
			continue
		}

		var record watchRecord
		if err := json.Unmarshal(data, &record); err != nil {
			fmt.Fprintf(s.err, "skipping malformed record: %v\n", err)
			continue
		}

		env, err := trb.Decode(record.Packet.Raw)
		if err != nil {
			fmt.Fprintf(s.err, "record %d: %v\n", record.Seq, err)
			continue
		}

		fmt.Fprintf(s.out, "#%d  %s  %s/%s\n", record.Seq,
			record.ReceivedAt.Local().Format("15:04:05.000"), record.Transport, record.Source)
		fmt.Fprintln(s.out, renderer.Render(env))
	}
}
