package shell

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// Uplink is the subset of the Agent's outbound link shell needs; it mirrors
// agentrt.Uplink so both packages can share an adapter at the call site.
type Uplink interface {
	Send(kind wire.Kind, id string, payload any) error
}

// Server owns every live SSH session multiplexed over one Agent link,
// keyed by SessionID (§4.G). Each session gets its own in-process pipeConn
// feeding a *ssh.ServerConn, so the crypto/ssh handshake, rekeying, and
// channel framing all run exactly as they would over a real socket.
type Server struct {
	config *ssh.ServerConfig
	uplink Uplink
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id    string
	local *pipeConn
	cmd   *exec.Cmd
}

// NewServer builds a shell multiplexer. hostKey is the Agent's SSH host
// key; NoClientAuth is intentional — authentication already happened at
// the hello/resolve_identity layer (§4.B) before any ssh_open frame can
// reach the Agent.
func NewServer(hostKey ssh.Signer, uplink Uplink, logger *slog.Logger) *Server {
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(hostKey)
	return &Server{
		config:   cfg,
		uplink:   uplink,
		logger:   logger.With("component", "shell"),
		sessions: make(map[string]*session),
	}
}

// Open starts a new multiplexed session for sessionID, sized cols x rows.
func (s *Server) Open(sessionID string, cols, rows int) error {
	s.mu.Lock()
	if _, exists := s.sessions[sessionID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("shell: session %s already open", sessionID)
	}
	local, remote := newPipeConn()
	sess := &session{id: sessionID, local: local}
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	go s.serve(sess, remote, cols, rows)
	go s.pump(sess)
	return nil
}

func (s *Server) serve(sess *session, remote *pipeConn, cols, rows int) {
	serverConn, chans, reqs, err := ssh.NewServerConn(remote, s.config)
	if err != nil {
		s.logger.Warn("ssh handshake failed", "session_id", sess.id, "error", err)
		s.Close(sess.id, "handshake failed")
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			s.logger.Warn("accept channel failed", "session_id", sess.id, "error", err)
			continue
		}
		s.serveChannel(sess, channel, requests, cols, rows)
	}
}

func (s *Server) serveChannel(sess *session, channel ssh.Channel, requests <-chan *ssh.Request, cols, rows int) {
	shellCmd := os.Getenv("SHELL")
	if shellCmd == "" {
		shellCmd = "/bin/sh"
	}
	cmd := exec.Command(shellCmd)
	cmd.Env = append(os.Environ(), fmt.Sprintf("COLUMNS=%d", cols), fmt.Sprintf("LINES=%d", rows))
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	go func() {
		for req := range requests {
			switch req.Type {
			case "shell", "pty-req":
				req.Reply(true, nil)
			case "window-change":
				req.Reply(true, nil)
			default:
				req.Reply(false, nil)
			}
		}
	}()

	s.mu.Lock()
	sess.cmd = cmd
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.logger.Warn("start shell failed", "session_id", sess.id, "error", err)
		channel.Close()
		return
	}

	go func() {
		cmd.Wait()
		channel.Close()
	}()
}

// Data feeds inbound ssh_data bytes from the link into the session's local
// pipe end, where the ssh.ServerConn reads them as raw transport bytes.
func (s *Server) Data(sessionID string, data []byte) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("shell: no such session %s", sessionID)
	}
	_, err := sess.local.Write(data)
	return err
}

// pump copies bytes written by ssh.ServerConn on the local pipe end out as
// ssh_data frames on the uplink. Callers start this once per Open.
func (s *Server) pump(sess *session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.local.Read(buf)
		if n > 0 {
			s.uplink.Send(wire.KindSSHData, sess.id, wire.SSHDataPayload{
				SessionID: sess.id,
				Data:      append([]byte(nil), buf[:n]...),
			})
		}
		if err != nil {
			return
		}
	}
}

// Close tears down sessionID's shell process and pipe.
func (s *Server) Close(sessionID, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if sess.cmd != nil && sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	return sess.local.Close()
}
