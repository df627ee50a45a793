package classpath

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/apex/log"
)

// Server answers the deodexerant line protocol from an Oracle:
//
//	I          -> "inline: <kind> <method>" lines, "done"
//	V <type>   -> "vtable: <name>(<params>)<ret>" lines, "done"
//	F <type>   -> "field: <offset> <name>:<type>" lines, "done"
//	P <type>   -> "class: <superclass>"
//	C <t1> <t2> -> "class: <common superclass>"
//
// Failures are answered with a single "err: <message>" line.
type Server struct {
	oracle Oracle

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	done  bool
}

// NewServer creates a server for the given oracle
func NewServer(o Oracle) *Server {
	return &Server{
		oracle: o,
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until Close is called
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called. Each connection is handled on its
// own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	log.WithField("addr", ln.Addr().String()).Info("Serving class hierarchy")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.done
			s.mu.Unlock()
			if done || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Addr returns the listening address, or nil before Serve is called
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the listener, closes all client connections and waits for their handlers to return
func (s *Server) Close() error {
	s.mu.Lock()
	s.done = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	log.WithField("client", conn.RemoteAddr().String()).Debug("Oracle client connected")

	rd := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("Oracle client read failed")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := s.respond(w, line); err != nil {
			fmt.Fprintf(w, "err: %s\n", strings.ReplaceAll(err.Error(), "\n", " "))
		}
		if err := w.Flush(); err != nil {
			log.WithError(err).Debug("Oracle client write failed")
			return
		}
	}
}

// respond writes the full answer for one command to w. On error nothing has been written.
func (s *Server) respond(w io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errors.New("empty command")
	}
	cmd, args := fields[0], fields[1:]

	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d argument(s), got %d", cmd, n, len(args))
		}
		return nil
	}

	var out strings.Builder
	switch cmd {
	case "I":
		if err := want(0); err != nil {
			return err
		}
		methods, err := s.oracle.InlineMethods()
		if err != nil {
			return err
		}
		for _, m := range methods {
			fmt.Fprintf(&out, "inline: %s\n", m)
		}
		out.WriteString("done\n")
	case "V":
		if err := want(1); err != nil {
			return err
		}
		vtable, err := s.oracle.VirtualMethods(args[0])
		if err != nil {
			return err
		}
		for _, m := range vtable {
			fmt.Fprintf(&out, "vtable: %s\n", m)
		}
		out.WriteString("done\n")
	case "F":
		if err := want(1); err != nil {
			return err
		}
		fields, err := s.oracle.InstanceFields(args[0])
		if err != nil {
			return err
		}
		for _, f := range fields {
			fmt.Fprintf(&out, "field: %d %s\n", f.Offset, f)
		}
		out.WriteString("done\n")
	case "P":
		if err := want(1); err != nil {
			return err
		}
		super, err := s.oracle.Superclass(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(&out, "class: %s\n", super)
	case "C":
		if err := want(2); err != nil {
			return err
		}
		join, err := s.oracle.CommonSuperclass(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(&out, "class: %s\n", join)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	_, err := io.WriteString(w, out.String())
	return err
}
