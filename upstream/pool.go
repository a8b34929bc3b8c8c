package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultHealthTimeout é o limite de cada health check.
const DefaultHealthTimeout = 5 * time.Second

type Target struct {
	ID     string
	URL    string
	Weight int
}

// Server é um servidor de aplicação atrás do gateway.
type Server struct {
	ID     string
	URL    *url.URL
	Weight int

	healthy   atomic.Bool
	lastCheck atomic.Int64 // unix nano
	lastError atomic.Value // string
}

func (s *Server) Healthy() bool { return s.healthy.Load() }

// ServerStatus é o snapshot usado pelo /api/health.
type ServerStatus struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Weight    int       `json:"weight"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"lastCheck,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

type Options struct {
	HealthPath     string
	HealthTimeout  time.Duration
	HealthInterval time.Duration
	Client         *http.Client
	Logger         zerolog.Logger
	// OnHealth é chamado após cada check (metrics).
	OnHealth func(server string, healthy bool)
}

// ServerPool guarda os servidores e escolhe o próximo saudável.
type ServerPool struct {
	opts    Options
	servers []*Server

	mu sync.Mutex
	rr swrr[*Server]

	stopOnce sync.Once
	stop     context.CancelFunc
	done     chan struct{}
}

func NewServerPool(targets []Target, opts Options) (*ServerPool, error) {
	if len(targets) == 0 {
		return nil, errors.New("upstream: at least one server is required")
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/api/health"
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: newTransport()}
	}

	p := &ServerPool{opts: opts}
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		u, err := url.Parse(strings.TrimSpace(t.URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("upstream: invalid url %q for server %d", t.URL, i)
		}
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("s%d", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("upstream: duplicate server id %q", id)
		}
		seen[id] = true

		s := &Server{ID: id, URL: u, Weight: max(1, t.Weight)}
		// saudável até o primeiro check dizer o contrário
		s.healthy.Store(true)
		p.servers = append(p.servers, s)
		p.rr.add(s, s.Weight)
	}
	return p, nil
}

// Next devolve o próximo servidor saudável; skip exclui servidores já tentados.
func (p *ServerPool) Next(skip map[string]bool) (*Server, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rr.next(func(s *Server) bool {
		return s.Healthy() && !skip[s.ID]
	})
}

func (p *ServerPool) Len() int { return len(p.servers) }

// HealthyCount conta os servidores saudáveis.
func (p *ServerPool) HealthyCount() int {
	n := 0
	for _, s := range p.servers {
		if s.Healthy() {
			n++
		}
	}
	return n
}

// Status devolve o estado de todos os servidores, sem fazer chamadas de rede.
func (p *ServerPool) Status() []ServerStatus {
	out := make([]ServerStatus, 0, len(p.servers))
	for _, s := range p.servers {
		st := ServerStatus{ID: s.ID, URL: s.URL.String(), Weight: s.Weight, Healthy: s.Healthy()}
		if ns := s.lastCheck.Load(); ns > 0 {
			st.LastCheck = time.Unix(0, ns).UTC()
		}
		if e, ok := s.lastError.Load().(string); ok {
			st.LastError = e
		}
		out = append(out, st)
	}
	return out
}

// CheckAll roda o health check de todos os servidores em paralelo.
func (p *ServerPool) CheckAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(8)
	for _, s := range p.servers {
		s := s
		g.Go(func() error {
			p.check(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *ServerPool) check(ctx context.Context, s *Server) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.HealthTimeout)
	defer cancel()

	err := p.probe(ctx, s)
	healthy := err == nil
	was := s.healthy.Swap(healthy)
	s.lastCheck.Store(time.Now().UnixNano())
	if err != nil {
		s.lastError.Store(err.Error())
	} else {
		s.lastError.Store("")
	}

	if was != healthy {
		ev := p.opts.Logger.Info()
		if !healthy {
			ev = p.opts.Logger.Warn().Err(err)
		}
		ev.Str("server", s.ID).Bool("healthy", healthy).Msg("upstream health changed")
	}
	if p.opts.OnHealth != nil {
		p.opts.OnHealth(s.ID, healthy)
	}
}

func (p *ServerPool) probe(ctx context.Context, s *Server) error {
	u := s.URL.JoinPath(p.opts.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}

// Start faz um check imediato e depois repete a cada HealthInterval até Stop ou ctx.
func (p *ServerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.stop = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.CheckAll(ctx)

		t := time.NewTicker(p.opts.HealthInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.CheckAll(ctx)
			}
		}
	}()
}

// Stop encerra o loop de health check e espera a rodada atual terminar.
func (p *ServerPool) Stop() {
	p.stopOnce.Do(func() {
		if p.stop == nil {
			return
		}
		p.stop()
		<-p.done
	})
}
