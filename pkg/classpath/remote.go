package classpath

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/deodex/pkg/dalvik"
	lru "github.com/hashicorp/golang-lru/v2"
)

// answers caches replies for one query kind
type answers[K comparable, V any] interface {
	Get(key K) (V, bool)
	Add(key K, value V) bool
}

// sessionCache keeps every answer for the life of the Remote
type sessionCache[K comparable, V any] map[K]V

func (c sessionCache[K, V]) Get(key K) (V, bool) {
	v, ok := c[key]
	return v, ok
}

func (c sessionCache[K, V]) Add(key K, value V) bool {
	c[key] = value
	return false
}

func newAnswers[K comparable, V any](size int) (answers[K, V], error) {
	if size <= 0 {
		return make(sessionCache[K, V]), nil
	}
	return lru.New[K, V](size)
}

// ProtocolError is returned when the remote oracle answers with an error or a line that can't be parsed
type ProtocolError struct {
	Command  string
	Response string
	Msg      string
}

func (e *ProtocolError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("oracle command %q failed: %s", e.Command, e.Msg)
	}
	return fmt.Sprintf("oracle command %q: invalid response %q", e.Command, e.Response)
}

type typePair struct {
	a, b string
}

func newTypePair(a, b string) typePair {
	if b < a {
		a, b = b, a
	}
	return typePair{a, b}
}

// Remote is an Oracle backed by a deodexerant-style line protocol server. The connection is
// opened on first use and kept for the life of the Remote; it is never re-established.
type Remote struct {
	Addr string

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
	dead error

	vtables answers[string, []string]
	fields  answers[string, []Field]
	supers  answers[string, string]
	joins   answers[typePair, string]
	inline  []InlineMethod
	gotInl  bool
}

// NewRemote creates a remote oracle for host:port. No connection is made until the first query.
// A cacheSize > 0 bounds each answer cache to that many entries, otherwise answers are kept for
// the life of the Remote.
func NewRemote(host string, port int, cacheSize int) (*Remote, error) {
	r := &Remote{Addr: net.JoinHostPort(host, strconv.Itoa(port))}
	var err error
	if r.vtables, err = newAnswers[string, []string](cacheSize); err != nil {
		return nil, err
	}
	if r.fields, err = newAnswers[string, []Field](cacheSize); err != nil {
		return nil, err
	}
	if r.supers, err = newAnswers[string, string](cacheSize); err != nil {
		return nil, err
	}
	if r.joins, err = newAnswers[typePair, string](cacheSize); err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the connection, if one was opened
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.dead = net.ErrClosed
	return err
}

func (r *Remote) connect() error {
	if r.dead != nil {
		return r.dead
	}
	if r.conn != nil {
		return nil
	}
	log.WithField("addr", r.Addr).Debug("Connecting to class hierarchy oracle")
	conn, err := net.Dial("tcp", r.Addr)
	if err != nil {
		r.dead = fmt.Errorf("failed to connect to oracle at %s: %w", r.Addr, err)
		return r.dead
	}
	r.conn = conn
	r.rd = bufio.NewReader(conn)
	return nil
}

// readLine must be called with mu held
func (r *Remote) readLine(cmd string) (string, error) {
	line, err := r.rd.ReadString('\n')
	if err != nil {
		r.dead = fmt.Errorf("lost connection to oracle at %s while running %q: %w", r.Addr, cmd, err)
		return "", r.dead
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "err") {
		msg := strings.TrimPrefix(strings.TrimPrefix(line, "err"), ":")
		return "", &ProtocolError{Command: cmd, Response: line, Msg: strings.TrimSpace(msg)}
	}
	return line, nil
}

// send writes a single command line. must be called with mu held
func (r *Remote) send(cmd string) error {
	if err := r.connect(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(r.conn, "%s\n", cmd); err != nil {
		r.dead = fmt.Errorf("failed to send %q to oracle at %s: %w", cmd, r.Addr, err)
		return r.dead
	}
	return nil
}

func (r *Remote) command(cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.send(cmd); err != nil {
		return "", err
	}
	return r.readLine(cmd)
}

func (r *Remote) multilineCommand(cmd string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.send(cmd); err != nil {
		return nil, err
	}
	var lines []string
	for {
		line, err := r.readLine(cmd)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(line, "done") {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// classResponse extracts the type from a "<anything>: <type>" answer
func classResponse(cmd, line string) (string, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", &ProtocolError{Command: cmd, Response: line}
	}
	return strings.TrimSpace(line[colon+1:]), nil
}

// Superclass implements Oracle
func (r *Remote) Superclass(typ string) (string, error) {
	if super, ok := r.supers.Get(typ); ok {
		return super, nil
	}
	cmd := "P " + typ
	line, err := r.command(cmd)
	if err != nil {
		return "", err
	}
	super, err := classResponse(cmd, line)
	if err != nil {
		return "", err
	}
	r.supers.Add(typ, super)
	return super, nil
}

// CommonSuperclass implements Oracle
func (r *Remote) CommonSuperclass(a, b string) (string, error) {
	switch {
	case a == b:
		return a, nil
	case a == "":
		return b, nil
	case b == "":
		return a, nil
	}
	key := newTypePair(a, b)
	if join, ok := r.joins.Get(key); ok {
		return join, nil
	}
	cmd := "C " + a + " " + b
	line, err := r.command(cmd)
	if err != nil {
		return "", err
	}
	join, err := classResponse(cmd, line)
	if err != nil {
		return "", err
	}
	if join == "" {
		return "", &ProtocolError{Command: cmd, Response: line}
	}
	r.joins.Add(key, join)
	return join, nil
}

// VirtualMethods implements Oracle
func (r *Remote) VirtualMethods(typ string) ([]string, error) {
	if vtable, ok := r.vtables.Get(typ); ok {
		return vtable, nil
	}
	cmd := "V " + typ
	lines, err := r.multilineCommand(cmd)
	if err != nil {
		return nil, err
	}
	vtable := make([]string, 0, len(lines))
	for _, line := range lines {
		sig, ok := strings.CutPrefix(line, "vtable: ")
		if !ok {
			return nil, &ProtocolError{Command: cmd, Response: line}
		}
		if _, err := dalvik.ParseSignature(sig); err != nil {
			return nil, &ProtocolError{Command: cmd, Response: line, Msg: err.Error()}
		}
		vtable = append(vtable, sig)
	}
	r.vtables.Add(typ, vtable)
	return vtable, nil
}

// InstanceFields implements Oracle
func (r *Remote) InstanceFields(typ string) ([]Field, error) {
	if fields, ok := r.fields.Get(typ); ok {
		return fields, nil
	}
	cmd := "F " + typ
	lines, err := r.multilineCommand(cmd)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, 0, len(lines))
	for _, line := range lines {
		rest, ok := strings.CutPrefix(line, "field: ")
		if !ok {
			return nil, &ProtocolError{Command: cmd, Response: line}
		}
		off, spec, ok := strings.Cut(rest, " ")
		if !ok {
			return nil, &ProtocolError{Command: cmd, Response: line}
		}
		offset, err := strconv.ParseUint(off, 10, 32)
		if err != nil {
			return nil, &ProtocolError{Command: cmd, Response: line, Msg: err.Error()}
		}
		name, ftype, err := dalvik.ParseFieldSpec(spec)
		if err != nil {
			return nil, &ProtocolError{Command: cmd, Response: line, Msg: err.Error()}
		}
		fields = append(fields, Field{Offset: uint32(offset), Name: name, Type: ftype})
	}
	r.fields.Add(typ, fields)
	return fields, nil
}

// InlineMethods implements Oracle. The table is fetched once per Remote.
func (r *Remote) InlineMethods() ([]InlineMethod, error) {
	r.mu.Lock()
	if r.gotInl {
		defer r.mu.Unlock()
		return r.inline, nil
	}
	r.mu.Unlock()

	lines, err := r.multilineCommand("I")
	if err != nil {
		return nil, err
	}
	methods := make([]InlineMethod, 0, len(lines))
	for _, line := range lines {
		rest, ok := strings.CutPrefix(line, "inline: ")
		if !ok {
			return nil, &ProtocolError{Command: "I", Response: line}
		}
		m, err := ParseInlineMethod(rest)
		if err != nil {
			return nil, &ProtocolError{Command: "I", Response: line, Msg: err.Error()}
		}
		methods = append(methods, m)
	}

	r.mu.Lock()
	r.inline, r.gotInl = methods, true
	r.mu.Unlock()
	return methods, nil
}
