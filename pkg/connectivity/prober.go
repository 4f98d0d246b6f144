package connectivity

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
	"github.com/core-tools/hsu-zapret-go/pkg/logging"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Target is a named endpoint used to check whether blocked services are reachable
type Target struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// DefaultTargets returns the built-in probe targets
func DefaultTargets() []Target {
	return []Target{
		{Name: "youtube", URL: "https://www.youtube.com"},
		{Name: "discord", URL: "https://discord.com"},
	}
}

// ProbeResult is the outcome of a single probe
type ProbeResult struct {
	Target     string    `json:"target"`
	URL        string    `json:"url,omitempty"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latency_ms"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	Err        error     `json:"-"`
}

// Summary renders the result in one line
func (r *ProbeResult) Summary() string {
	if r.Success {
		return fmt.Sprintf("%s: OK, status %d, %d ms", r.Target, r.StatusCode, r.LatencyMs)
	}
	return fmt.Sprintf("%s: FAILED, %s", r.Target, r.Error)
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	Targets   []Target
}

func DefaultOptions() Options {
	return Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
		Targets:   DefaultTargets(),
	}
}

// Prober checks reachability of named targets. A probe never reports
// progress through the event stream; it only returns its result.
type Prober struct {
	options Options
	targets map[string]Target
	order   []string
	logger  logging.Logger
}

func NewProber(options Options, logger logging.Logger) (*Prober, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.UserAgent == "" {
		options.UserAgent = DefaultUserAgent
	}
	if len(options.Targets) == 0 {
		options.Targets = DefaultTargets()
	}

	targets := make(map[string]Target, len(options.Targets))
	order := make([]string, 0, len(options.Targets))
	for _, target := range options.Targets {
		name := strings.ToLower(strings.TrimSpace(target.Name))
		if name == "" {
			return nil, errors.NewValidationError("probe target name cannot be empty", nil)
		}
		if target.URL == "" {
			return nil, errors.NewValidationError("probe target URL cannot be empty", nil).WithContext("target", name)
		}
		if _, exists := targets[name]; exists {
			return nil, errors.NewValidationError("duplicate probe target", nil).WithContext("target", name)
		}
		targets[name] = Target{Name: name, URL: target.URL}
		order = append(order, name)
	}

	return &Prober{
		options: options,
		targets: targets,
		order:   order,
		logger:  logger,
	}, nil
}

// Targets returns the configured targets in declaration order
func (p *Prober) Targets() []Target {
	result := make([]Target, 0, len(p.order))
	for _, name := range p.order {
		result = append(result, p.targets[name])
	}
	return result
}

// Test probes one target by name. An unknown name fails without any network activity.
func (p *Prober) Test(ctx context.Context, name string) *ProbeResult {
	key := strings.ToLower(strings.TrimSpace(name))
	target, ok := p.targets[key]
	if !ok {
		err := errors.NewUnknownTargetError(fmt.Sprintf("unknown target: %s", name), nil).
			WithContext("known", strings.Join(p.sortedNames(), ","))
		return &ProbeResult{
			Target:    name,
			Success:   false,
			Error:     err.Message,
			CheckedAt: time.Now(),
			Err:       err,
		}
	}
	return p.probe(ctx, target)
}

// TestAll probes every target concurrently and returns results in declaration order
func (p *Prober) TestAll(ctx context.Context) []*ProbeResult {
	results := make([]*ProbeResult, len(p.order))
	var wg sync.WaitGroup
	for i, name := range p.order {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			results[i] = p.probe(ctx, target)
		}(i, p.targets[name])
	}
	wg.Wait()
	return results
}

func (p *Prober) probe(ctx context.Context, target Target) *ProbeResult {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &ProbeResult{
		Target:    target.Name,
		URL:       target.URL,
		CheckedAt: time.Now(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		result.Err = errors.NewValidationError("invalid probe URL", err).WithContext("target", target.Name)
		result.Error = err.Error()
		return result
	}
	req.Header.Set("User-Agent", p.options.UserAgent)

	// A dedicated transport per probe keeps results independent of earlier connections
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		DialContext: (&net.Dialer{
			Timeout: p.options.Timeout,
		}).DialContext,
		TLSHandshakeTimeout:   p.options.Timeout,
		ResponseHeaderTimeout: p.options.Timeout,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   p.options.Timeout,
	}

	p.logger.Debugf("Probing target, name: %s, url: %s", target.Name, target.URL)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	result.LatencyMs = latency.Milliseconds()

	if err != nil {
		description := describeError(err, p.options.Timeout)
		result.Error = description
		result.Err = errors.NewNetworkError(description, err).WithContext("target", target.Name)
		p.logger.Debugf("Probe failed, name: %s, error: %s", target.Name, description)
		return result
	}
	// Only the status line and headers matter
	resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Success = true
	} else {
		result.Error = fmt.Sprintf("unexpected status code %d", resp.StatusCode)
		result.Err = errors.NewNetworkError(result.Error, nil).
			WithContext("target", target.Name).
			WithContext("status_code", resp.StatusCode)
	}

	p.logger.Debugf("Probe finished, name: %s, status: %d, latency: %d ms, success: %t",
		target.Name, result.StatusCode, result.LatencyMs, result.Success)
	return result
}

func (p *Prober) sortedNames() []string {
	names := make([]string, len(p.order))
	copy(names, p.order)
	sort.Strings(names)
	return names
}

func describeError(err error, timeout time.Duration) string {
	if goerrors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %s", timeout)
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("request timed out after %s", timeout)
	}
	if goerrors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	return err.Error()
}
