// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fakepgserver provides a fake PostgreSQL server for testing. It
// speaks the v3 wire protocol over TCP, authenticates with the configured
// method, and answers queries with pre-configured binary results.
package fakepgserver

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// AuthMethod selects how the server authenticates sessions.
type AuthMethod int

const (
	AuthTrust AuthMethod = iota
	AuthCleartext
	AuthMD5
	AuthSCRAM
)

// Server is a fake PostgreSQL server. All methods are thread-safe.
type Server struct {
	t        testing.TB
	listener net.Listener
	address  string
	name     string

	auth     AuthMethod
	user     string
	password string

	orderMatters atomic.Bool
	neverFail    atomic.Bool
	nextPID      atomic.Uint32
	wg           sync.WaitGroup

	// mu protects all the following fields.
	mu sync.Mutex

	// data maps tolower(query) to a result.
	data map[string]*Result

	// rejectedData maps tolower(query) to an error.
	rejectedData map[string]*Error

	// patterns are checked in insertion order when no exact match exists.
	patterns []*exprResult

	// queryCalled counts executions of each query.
	queryCalled map[string]int

	// querylog keeps every executed query.
	querylog []string

	// expected is the ordered list used once OrderMatters is set.
	expected      []ExpectedExecuteFetch
	expectedIndex int

	// conns are all open connections; sessions are those past startup,
	// keyed by backend pid.
	conns    map[*session]struct{}
	sessions map[uint32]*session
	accepted int
	closed   bool
}

type exprResult struct {
	pattern  string
	expr     *regexp.Regexp
	result   *Result
	err      *Error
	called   int
	callback func(query string, params [][]byte)
}

// ExpectedExecuteFetch is one entry of the ordered expectation list.
type ExpectedExecuteFetch struct {
	Query       string
	QueryResult *Result
	Error       *Error
}

// Option configures a Server.
type Option func(*Server)

// WithAuth requires the given authentication method and credentials.
func WithAuth(method AuthMethod, user, password string) Option {
	return func(s *Server) {
		s.auth = method
		s.user = user
		s.password = password
	}
}

// WithName names the server in test failures.
func WithName(name string) Option {
	return func(s *Server) {
		s.name = name
	}
}

// New starts a fake server on a random local TCP port. It is closed when
// the test ends.
func New(t testing.TB, opts ...Option) *Server {
	s := &Server{
		t:            t,
		name:         "fakepgserver",
		user:         "test",
		data:         make(map[string]*Result),
		rejectedData: make(map[string]*Error),
		queryCalled:  make(map[string]int),
		conns:        make(map[*session]struct{}),
		sessions:     make(map[uint32]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextPID.Store(1000)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakepgserver: failed to listen: %v", err)
	}
	s.listener = ln
	s.address = ln.Addr().String()

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	t.Logf("fakepgserver: %s listening on %s", s.name, s.address)
	return s
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.t.Logf("fakepgserver: accept error: %v", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Address returns host:port.
func (s *Server) Address() string {
	return s.address
}

// ConnString returns a conninfo string for this server. Extra key/value
// pairs are appended verbatim.
func (s *Server) ConnString(extra ...string) string {
	host, port, _ := net.SplitHostPort(s.address)
	parts := []string{
		"host=" + host,
		"port=" + port,
		"user=" + s.user,
		"dbname=testdb",
		"sslmode=disable",
	}
	if s.password != "" {
		parts = append(parts, "password="+s.password)
	}
	parts = append(parts, extra...)
	return strings.Join(parts, " ")
}

// Close stops accepting connections, drops live sessions, and waits for
// every server goroutine to exit.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

// DropConnections closes every live session, as a server crash would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.conns))
	for ss := range s.conns {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()
	for _, ss := range sessions {
		ss.close()
	}
}

// Accepted returns how many sessions completed startup.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Live returns the number of open sessions.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// OrderMatters switches to the ordered expectation list.
func (s *Server) OrderMatters() {
	s.orderMatters.Store(true)
}

// SetNeverFail makes unmatched queries succeed with an empty result.
func (s *Server) SetNeverFail(neverFail bool) {
	s.neverFail.Store(neverFail)
}

// AddQuery adds a query and its result.
func (s *Server) AddQuery(q string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(q)
	s.data[key] = result
	s.queryCalled[key] = 0
}

// AddQueryPattern adds a result for every query matching queryPattern.
// The pattern is anchored and case-insensitive.
func (s *Server) AddQueryPattern(queryPattern string, result *Result) {
	s.addPattern(&exprResult{pattern: queryPattern, result: result})
}

// AddQueryPatternWithCallback is AddQueryPattern that also reports each
// match with its raw parameters.
func (s *Server) AddQueryPatternWithCallback(queryPattern string, result *Result, callback func(string, [][]byte)) {
	s.addPattern(&exprResult{pattern: queryPattern, result: result, callback: callback})
}

// RejectQueryPattern fails every query matching queryPattern.
func (s *Server) RejectQueryPattern(queryPattern string, err *Error) {
	s.addPattern(&exprResult{pattern: queryPattern, err: err})
}

func (s *Server) addPattern(p *exprResult) {
	p.expr = regexp.MustCompile("(?is)^" + p.pattern + "$")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.patterns {
		if old.pattern == p.pattern {
			s.patterns[i] = p
			return
		}
	}
	s.patterns = append(s.patterns, p)
}

// ClearQueryPattern removes all patterns.
func (s *Server) ClearQueryPattern() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = nil
}

// AddRejectedQuery fails query with err.
func (s *Server) AddRejectedQuery(query string, err *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectedData[strings.ToLower(query)] = err
}

// GetQueryCalledNum returns how many times query ran.
func (s *Server) GetQueryCalledNum(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCalled[strings.ToLower(query)]
}

// GetPatternCalledNum returns how many times pattern matched.
func (s *Server) GetPatternCalledNum(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		if p.pattern == pattern {
			return p.called
		}
	}
	return 0
}

// QueryLog returns the executed queries, lower-cased and joined by ";".
func (s *Server) QueryLog() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.querylog, ";")
}

// ResetQueryLog clears the query log.
func (s *Server) ResetQueryLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.querylog = nil
}

// AddExpectedExecuteFetch appends to the ordered expectation list.
func (s *Server) AddExpectedExecuteFetch(entry ExpectedExecuteFetch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = append(s.expected, entry)
}

// AddExpectedQuery appends a query that returns no rows, or err.
func (s *Server) AddExpectedQuery(q string, err *Error) {
	s.AddExpectedExecuteFetch(ExpectedExecuteFetch{
		Query:       q,
		QueryResult: CommandResult("SELECT 0"),
		Error:       err,
	})
}

// VerifyAllExecutedOrFail fails the test if ordered expectations remain.
func (s *Server) VerifyAllExecutedOrFail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expectedIndex != len(s.expected) {
		s.t.Errorf("%v: not all expected queries were executed. leftovers: %v", s.name, s.expected[s.expectedIndex:])
	}
}

// handleQuery finds the response for q. Transaction control statements
// succeed unless something more specific matches.
func (s *Server) handleQuery(q string, params [][]byte) (*Result, *Error) {
	if s.orderMatters.Load() {
		return s.handleQueryOrdered(q)
	}

	key := strings.ToLower(q)
	s.mu.Lock()
	s.queryCalled[key]++
	s.querylog = append(s.querylog, key)

	if err, ok := s.rejectedData[key]; ok {
		s.mu.Unlock()
		return nil, err
	}
	if result, ok := s.data[key]; ok {
		s.mu.Unlock()
		return result, nil
	}
	for _, p := range s.patterns {
		if !p.expr.MatchString(q) {
			continue
		}
		p.called++
		s.mu.Unlock()
		if p.callback != nil {
			p.callback(q, params)
		}
		return p.result, p.err
	}
	s.mu.Unlock()

	if tag, ok := txnControlTag(q); ok {
		return CommandResult(tag), nil
	}
	if s.neverFail.Load() {
		return CommandResult("SELECT 0"), nil
	}
	return nil, NewError("42000", fmt.Sprintf("fakepgserver: query '%s' is not supported on %v", q, s.name))
}

func (s *Server) handleQueryOrdered(q string) (*Result, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.querylog = append(s.querylog, strings.ToLower(q))
	index := s.expectedIndex
	if index >= len(s.expected) {
		if s.neverFail.Load() {
			return CommandResult("SELECT 0"), nil
		}
		s.t.Errorf("%v: got unexpected out of bound fetch: %v >= %v (%s)", s.name, index, len(s.expected), q)
		return nil, NewError("42000", "unexpected out of bound fetch")
	}

	entry := s.expected[index]
	expected := entry.Query
	matched := q == expected
	if prefix, ok := strings.CutSuffix(expected, "*"); ok {
		matched = strings.HasPrefix(q, prefix)
	}
	if !matched {
		if s.neverFail.Load() {
			return CommandResult("SELECT 0"), nil
		}
		s.t.Errorf("%v: got unexpected query (index=%v): %v != %v", s.name, index, q, expected)
		return nil, NewError("42000", "unexpected query")
	}

	s.expectedIndex++
	if entry.Error != nil {
		return nil, entry.Error
	}
	return entry.QueryResult, nil
}

func txnControlTag(q string) (string, bool) {
	fields := strings.Fields(strings.ToUpper(q))
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "BEGIN", "START":
		return "BEGIN", true
	case "COMMIT", "END":
		return "COMMIT", true
	case "ROLLBACK", "ABORT":
		return "ROLLBACK", true
	}
	return "", false
}

func (s *Server) track(ss *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[ss] = struct{}{}
	return true
}

func (s *Server) untrack(ss *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, ss)
}

func (s *Server) register(ss *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[ss.pid] = ss
	s.accepted++
	return true
}

func (s *Server) unregister(ss *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ss.pid)
}

func (s *Server) cancel(pid, secret uint32) {
	s.mu.Lock()
	ss, ok := s.sessions[pid]
	s.mu.Unlock()
	if ok && ss.secret == secret {
		ss.interrupt()
	}
}
