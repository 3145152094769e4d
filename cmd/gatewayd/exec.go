package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mrzor/gatewayd/internal/gateway"
	"github.com/mrzor/gatewayd/internal/log"
	"github.com/mrzor/gatewayd/internal/poller"

	"github.com/spf13/cobra"
)

var execFlags struct {
	method      string
	target      string
	headers     []string
	interpreter []string
	body        string
	timeout     time.Duration
	wsgi        bool
	inherit     []string
}

var execCmd = &cobra.Command{
	Use:   "exec SCRIPT",
	Short: "Run one script once and print its response",
	Long: `Run a single gateway invocation outside the server.

The script receives the CGI environment for the described request. Its
parsed response is printed as a status line, headers, and body.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, script, err := execRequest(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		p, err := poller.New(8)
		if err != nil {
			return err
		}
		defer p.Close()

		resp, err := gateway.Run(p, req, script, gateway.Options{
			Server:  gateway.Server{Software: software()},
			Inherit: execFlags.inherit,
		})
		if err != nil {
			log.Get().Debugw("invocation failed", "error", err)
			return fmt.Errorf("%d %w", gateway.StatusCode(err), err)
		}
		return writeExecResponse(cmd.OutOrStdout(), resp)
	},
}

func init() {
	f := execCmd.Flags()
	f.StringVarP(&execFlags.method, "method", "X", "GET", "Request method")
	f.StringVarP(&execFlags.target, "target", "t", "/", "Request target (path and query)")
	f.StringArrayVarP(&execFlags.headers, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	f.StringSliceVarP(&execFlags.interpreter, "interpreter", "i", nil, "Interpreter argv prepended to the script path")
	f.StringVarP(&execFlags.body, "body", "d", "", "Body file, or '-' for stdin")
	f.DurationVar(&execFlags.timeout, "timeout", 30*time.Second, "Invocation timeout")
	f.BoolVar(&execFlags.wsgi, "wsgi", false, "Add the wsgi.* variables")
	f.StringSliceVar(&execFlags.inherit, "inherit", nil, "Server variables passed to the script (default PATH)")
	rootCmd.AddCommand(execCmd)
}

func execRequest(path string, stdin io.Reader) (*gateway.Request, *gateway.Script, error) {
	method, err := gateway.ParseMethod(strings.ToUpper(execFlags.method))
	if err != nil {
		return nil, nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}

	req := &gateway.Request{
		Method:     method,
		Target:     execFlags.target,
		Proto:      "HTTP/1.1",
		RemoteAddr: "127.0.0.1:0",
	}
	for _, h := range execFlags.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, nil, fmt.Errorf("header %q: want 'Name: value'", h)
		}
		req.Header = append(req.Header, gateway.Field{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	if host, ok := req.HeaderValue("Host"); ok && host != "" {
		req.Host = host
	}

	switch execFlags.body {
	case "":
	case "-":
		if req.Body, err = io.ReadAll(stdin); err != nil {
			return nil, nil, fmt.Errorf("reading body: %w", err)
		}
	default:
		if req.Body, err = os.ReadFile(execFlags.body); err != nil {
			return nil, nil, fmt.Errorf("reading body: %w", err)
		}
	}

	script := &gateway.Script{
		Route:       "exec",
		Path:        abs,
		Interpreter: execFlags.interpreter,
		Timeout:     execFlags.timeout,
	}
	if execFlags.wsgi {
		script.Flavor = gateway.FlavorWSGI
	}
	return req, script, nil
}

// writeExecResponse prints resp with headers in sorted order.
func writeExecResponse(w io.Writer, resp *gateway.Response) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Status: %d\n", resp.Status)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(bw, "%s: %s\n", name, v)
		}
	}
	bw.WriteString("\n")
	bw.Write(resp.Body)
	return bw.Flush()
}
