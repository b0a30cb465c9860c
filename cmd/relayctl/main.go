// File: cmd/relayctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// relayctl is an operator tool that talks to a running relay as an ordinary
// WebSocket peer.
//
//	relayctl clients                 list connected sessions
//	relayctl send '{"action":...}'   send one envelope and print the replies

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/momentics/hioload-relay/relay"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "relayctl:", err)
		os.Exit(1)
	}
}

type options struct {
	url     string
	timeout time.Duration
	wait    time.Duration
	asJSON  bool
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	fs.StringVarP(&opts.url, "url", "u", "ws://127.0.0.1:6788/", "relay WebSocket URL")
	fs.DurationVarP(&opts.timeout, "timeout", "t", 5*time.Second, "dial and read timeout")
	fs.DurationVarP(&opts.wait, "wait", "w", time.Second, "how long send waits for replies")
	fs.BoolVar(&opts.asJSON, "json", false, "print JSON even on a terminal")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: relayctl [flags] clients | send <json>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	switch rest[0] {
	case "clients":
		return listClients(ctx, opts, stdout)
	case "send":
		if len(rest) != 2 {
			return errors.New("send takes exactly one JSON argument")
		}
		return sendRaw(ctx, opts, rest[1], stdout)
	case "version":
		fmt.Fprintf(stdout, "relayctl %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func dial(ctx context.Context, opts options) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	hdr := http.Header{"User-Agent": {"relayctl/" + version}}
	c, _, err := websocket.DefaultDialer.DialContext(dctx, opts.url, hdr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.url, err)
	}
	return c, nil
}

func hangUp(c *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.Close()
}

type clientsReply struct {
	Action  string `json:"action"`
	Payload struct {
		Clients []relay.ClientInfo `json:"clients"`
	} `json:"payload"`
}

// listClients asks for the listing without registering as manager, so the
// running manager keeps its slot.
func listClients(ctx context.Context, opts options, stdout io.Writer) error {
	c, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer hangUp(c)

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"action":"getClients"}`)); err != nil {
		return err
	}
	deadline := time.Now().Add(opts.timeout)
	for {
		c.SetReadDeadline(deadline)
		_, data, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for listing: %w", err)
		}
		var reply clientsReply
		if json.Unmarshal(data, &reply) != nil || reply.Action != relay.ActionGetClients {
			continue
		}
		if opts.asJSON || !isTerminal(stdout) {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reply.Payload.Clients)
		}
		return printTable(stdout, reply.Payload.Clients)
	}
}

func printTable(w io.Writer, clients []relay.ClientInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLES\tDEVICE\tUSER-AGENT\tCONNECTED")
	for _, ci := range clients {
		var roles []string
		device := "-"
		if ci.Manager {
			roles = append(roles, "manager")
		}
		if ci.Device != nil {
			roles = append(roles, "device")
			device = ci.Device.DeviceID
		}
		if ci.Client != nil {
			roles = append(roles, "client")
			device = ci.Client.DeviceID
		}
		if len(roles) == 0 {
			roles = append(roles, "-")
		}
		since := time.UnixMilli(ci.CreatedAt).Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ci.ID, strings.Join(roles, ","), device, ci.Metadata.UserAgent, since)
	}
	return tw.Flush()
}

// sendRaw sends msg unchanged and prints every reply until opts.wait passes
// without one.
func sendRaw(ctx context.Context, opts options, msg string, stdout io.Writer) error {
	if !json.Valid([]byte(msg)) {
		return errors.New("argument is not valid JSON")
	}
	c, err := dial(ctx, opts)
	if err != nil {
		return err
	}
	defer hangUp(c)

	if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.SetReadDeadline(time.Now().Add(opts.wait))
		_, data, err := c.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				fmt.Fprintf(stdout, "closed: %d %s\n", ce.Code, ce.Text)
				return nil
			}
			return err
		}
		fmt.Fprintln(stdout, string(data))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
