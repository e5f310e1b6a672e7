package traffic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"isoflow/internal/flow"
)

const (
	readyBanner         = "Server listening"
	defaultReadyTimeout = 5 * time.Second
	defaultLinger       = 2 * time.Second
	remoteKillTimeout   = 5 * time.Second
)

// Iperf launches iperf 2 client/server pairs, over ssh for remote hosts.
type Iperf struct {
	Binary       string
	SSH          string
	ReadyTimeout time.Duration
	// Linger is how long the server may keep reporting after the client exits.
	Linger time.Duration
}

func NewIperf(binary string) *Iperf {
	if binary == "" {
		binary = "iperf"
	}
	return &Iperf{
		Binary:       binary,
		SSH:          "ssh",
		ReadyTimeout: defaultReadyTimeout,
		Linger:       defaultLinger,
	}
}

// ServerArgs builds the server side command line. The server is bounded by
// its own -t so a server left behind on a remote host exits on its own.
func (ip *Iperf) ServerArgs(d flow.Descriptor) []string {
	args := []string{ip.Binary, "-s", "-e", "--histograms", "-B", d.Destination}
	if d.Protocol == flow.UDP {
		args = append(args, "-u")
	}
	if d.ReportInterval > 0 {
		args = append(args, "-i", formatSeconds(d.ReportInterval))
	}
	return append(args, "-t", formatSeconds(ip.serverLifetime(d)))
}

// serverLifetime covers the ready wait, the flow and the final reports.
func (ip *Iperf) serverLifetime(d flow.Descriptor) time.Duration {
	ready, linger := ip.ReadyTimeout, ip.Linger
	if ready <= 0 {
		ready = defaultReadyTimeout
	}
	if linger <= 0 {
		linger = defaultLinger
	}
	return (d.Duration + ready + linger).Round(time.Second)
}

// ClientArgs builds the client side command line.
func (ip *Iperf) ClientArgs(d flow.Descriptor) []string {
	args := []string{ip.Binary, "-c", d.Destination, "-e", "--trip-times",
		"-t", formatSeconds(d.Duration), "-S", d.TOSArg()}
	if d.Protocol == flow.UDP {
		args = append(args, "-u")
	}
	if d.ReportInterval > 0 {
		args = append(args, "-i", formatSeconds(d.ReportInterval))
	}
	return append(args, d.Load.IperfArgs()...)
}

func (ip *Iperf) command(host, user string, args []string) *exec.Cmd {
	if isLocal(host) {
		return exec.Command(args[0], args[1:]...)
	}
	return exec.Command(ip.SSH, ip.sshArgs(host, user, args)...)
}

func (ip *Iperf) sshArgs(host, user string, args []string) []string {
	sshArgs := []string{"-o", "BatchMode=yes"}
	if user != "" {
		sshArgs = append(sshArgs, "-l", user)
	}
	sshArgs = append(sshArgs, host)
	return append(sshArgs, args...)
}

// remoteKill builds the command that stops args on a remote host. Killing
// the local ssh does not reach the remote process, which has no tty to
// hang up. Local hosts need nothing beyond the process kill.
func (ip *Iperf) remoteKill(host, user string, args []string) func() error {
	if isLocal(host) {
		return nil
	}
	pattern := killPattern(strings.Join(args, " "))
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), remoteKillTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, ip.SSH, ip.sshArgs(host, user, []string{"pkill", "-f", "--", shellQuote(pattern)})...)
		err := cmd.Run()
		var exitErr *exec.ExitError
		// pkill exits 1 when nothing matched: the process is already gone.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("remote kill on %s: %w", host, err)
		}
		return nil
	}
}

// killPattern matches cmdline literally. The bracketed first character
// keeps pkill from matching the remote shell that carries the pattern.
func killPattern(cmdline string) string {
	if cmdline == "" {
		return cmdline
	}
	return "[" + cmdline[:1] + "]" + regexp.QuoteMeta(cmdline[1:])
}

// shellQuote quotes s for the remote shell ssh hands the command to.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (ip *Iperf) Launch(ctx context.Context, d flow.Descriptor) (Session, error) {
	s := &iperfSession{
		name:    d.Name,
		reports: make(chan Report, 64),
		done:    make(chan struct{}),
		linger:  ip.Linger,
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	serverArgs, clientArgs := ip.ServerArgs(d), ip.ClientArgs(d)
	server, err := startProc(ip.command(d.ServerHost, d.User, serverArgs), func(line string) {
		if strings.Contains(line, readyBanner) {
			readyOnce.Do(func() { close(ready) })
		}
		s.emit(line)
	})
	if err != nil {
		return nil, fmt.Errorf("start server on %s: %w", d.ServerHost, err)
	}
	server.remoteKill = ip.remoteKill(d.ServerHost, d.User, serverArgs)
	s.server = server

	timeout := ip.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	select {
	case <-ready:
	case <-server.done:
		err := server.exitErr()
		if err == nil {
			err = errors.New("exit status 0")
		}
		return nil, fmt.Errorf("server on %s exited before ready: %w", d.ServerHost, err)
	case <-time.After(timeout):
		server.kill()
		return nil, fmt.Errorf("server on %s not ready after %s", d.ServerHost, timeout)
	case <-ctx.Done():
		server.kill()
		return nil, ctx.Err()
	}

	client, err := startProc(ip.command(d.ClientHost, d.User, clientArgs), s.emit)
	if err != nil {
		server.kill()
		return nil, fmt.Errorf("start client on %s: %w", d.ClientHost, err)
	}
	client.remoteKill = ip.remoteKill(d.ClientHost, d.User, clientArgs)
	s.client = client

	log.Debug().Str("flow", d.Name).
		Strs("server", serverArgs).
		Strs("client", clientArgs).
		Msg("iperf session started")

	go s.supervise()
	return s, nil
}

type iperfSession struct {
	name   string
	server *proc
	client *proc
	linger time.Duration

	mu      sync.Mutex
	reports chan Report
	closed  bool

	done chan struct{}
	err  error
}

func (s *iperfSession) Reports() <-chan Report { return s.reports }
func (s *iperfSession) Done() <-chan struct{}  { return s.done }

func (s *iperfSession) Err() error {
	<-s.done
	return s.err
}

func (s *iperfSession) Terminate() error {
	return errors.Join(s.client.kill(), s.server.kill())
}

func (s *iperfSession) emit(line string) {
	r, ok, err := ParseLine(line)
	if err != nil {
		log.Warn().Err(err).Str("flow", s.name).Msg("unparsable report line")
		return
	}
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.reports <- r
	}
}

// supervise waits for the client to finish, gives the server a moment to
// print its final reports, then tears the server down.
func (s *iperfSession) supervise() {
	<-s.client.done
	clientErr := s.client.exitErr()

	select {
	case <-s.server.done:
	case <-time.After(s.linger):
		if err := s.server.kill(); err != nil {
			log.Warn().Err(err).Str("flow", s.name).Msg("server teardown")
		}
		<-s.server.done
	}

	s.mu.Lock()
	s.closed = true
	close(s.reports)
	s.mu.Unlock()

	if clientErr != nil {
		s.err = fmt.Errorf("client: %w", clientErr)
	}
	close(s.done)
}

// proc is a child process whose combined output is fed line by line to a
// callback.
type proc struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	killMu sync.Mutex
	killed bool
	// remoteKill stops the process behind ssh, nil for local processes.
	remoteKill func() error
}

func startProc(cmd *exec.Cmd, onLine func(string)) (*proc, error) {
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	// grandchildren (ssh, shells) may hold the pipe open after a kill
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, err
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}
	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			onLine(sc.Text())
		}
		// keep draining so the child never blocks on a full pipe
		io.Copy(io.Discard, pr)
	}()
	go func() {
		err := cmd.Wait()
		pw.Close()
		<-scanned
		p.err = err
		close(p.done)
	}()
	return p, nil
}

func (p *proc) kill() error {
	if p == nil {
		return nil
	}
	p.killMu.Lock()
	defer p.killMu.Unlock()
	if p.killed {
		return nil
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	p.killed = true
	var err error
	if p.remoteKill != nil {
		err = p.remoteKill()
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return err
}

// exitErr is the process error, ignoring the one caused by our own kill.
func (p *proc) exitErr() error {
	<-p.done
	p.killMu.Lock()
	killed := p.killed
	p.killMu.Unlock()
	if killed {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	return p.err
}

func isLocal(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
