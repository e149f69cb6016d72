package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/CloudNativeWorks/isul-sdk/isul"
)

// cliDelegate is the Delegate of the terminal host.
type cliDelegate struct {
	isul.BaseDelegate
	out    io.Writer
	logger *slog.Logger
	allow  bool
}

func (d *cliDelegate) GetContentView() any { return d.out }

func (d *cliDelegate) ShouldStartActivation(st isul.Status) bool {
	if d.allow {
		fmt.Fprintf(d.out, "Activation required: %s\n", st)
	}
	return d.allow
}

func (d *cliDelegate) OnServerLog(status isul.ServerStatus, severity isul.LogSeverity, message, content string) {
	d.logger.Debug(message, "server_status", status.String(), "severity", severity.String(), "content", content)
}

func (d *cliDelegate) OnFallback() {
	fmt.Fprintln(d.out, "Fallback activation is not available in the terminal.")
}

// terminalPresenter asks for a license key on the terminal. Input prefixed
// with "token:" is installed as an offline token; empty input cancels.
//
// One goroutine reads lines for the lifetime of the presenter, so a prompt
// abandoned on cancellation leaves its line to the next prompt.
type terminalPresenter struct {
	in    *bufio.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
	done  chan struct{}
}

func newTerminalPresenter(in io.Reader, out io.Writer) *terminalPresenter {
	return &terminalPresenter{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
}

// Close stops handing lines to prompts. A read already blocked on the
// terminal ends with the process.
func (p *terminalPresenter) Close() {
	close(p.done)
}

// readLines feeds p.lines until the input ends, then closes it.
func (p *terminalPresenter) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if line != "" || err == nil {
			select {
			case p.lines <- strings.TrimSpace(line):
			case <-p.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *terminalPresenter) Present(ctx context.Context, req isul.SignInRequest) (isul.SignInResult, error) {
	p.once.Do(func() { go p.readLines() })

	fmt.Fprintf(p.out, "%s\n", req.Status)
	fmt.Fprintf(p.out, "Sign in at %s\n", req.URL)
	if req.OfflineURL != "" {
		fmt.Fprintf(p.out, "Without network access, obtain a token at %s\n", req.OfflineURL)
	}
	fmt.Fprint(p.out, "License key (empty to cancel): ")

	select {
	case <-ctx.Done():
		return isul.SignInResult{}, ctx.Err()
	case line, ok := <-p.lines:
		switch {
		case !ok, line == "":
			return isul.SignInResult{Outcome: isul.SignInCancelled}, nil
		case strings.HasPrefix(line, "token:"):
			return isul.SignInResult{Outcome: isul.SignInOfflineToken, Token: strings.TrimPrefix(line, "token:")}, nil
		}
		return isul.SignInResult{Outcome: isul.SignInLicenseKey, LicenseKey: line}, nil
	}
}
