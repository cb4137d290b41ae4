package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
	"github.com/welldanyogia/webrana-mailengine/internal/validator"
)

// Discovery sources
const (
	SourceSRV   = "srv"
	SourceGuess = "guess"
)

// Endpoint is one discovered mail server
type Endpoint struct {
	Host       string             `json:"host"`
	Port       int                `json:"port"`
	Encryption transport.Security `json:"encryption_mode"`
	Source     string             `json:"source"`
}

// DiscoveryResult holds suggested account settings for an address
type DiscoveryResult struct {
	Email string   `json:"email"`
	IMAP  Endpoint `json:"imap"`
	SMTP  Endpoint `json:"smtp"`
}

// DiscoveryConfig holds configuration for the discovery service
type DiscoveryConfig struct {
	MaxRetries    int
	RetryDelay    time.Duration
	LookupTimeout time.Duration
}

// DefaultDiscoveryConfig returns default configuration for discovery
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		MaxRetries:    2,
		RetryDelay:    500 * time.Millisecond,
		LookupTimeout: 5 * time.Second,
	}
}

// DNSResolver interface for DNS lookups (allows mocking in tests)
type DNSResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// defaultDNSResolver implements DNSResolver using net package
type defaultDNSResolver struct {
	resolver *net.Resolver
}

func newDefaultDNSResolver(timeout time.Duration) *defaultDNSResolver {
	return &defaultDNSResolver{
		resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: timeout}
				return d.DialContext(ctx, network, address)
			},
		},
	}
}

func (r *defaultDNSResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	return r.resolver.LookupSRV(ctx, service, proto, name)
}

// srvService is one RFC 6186/8314 service label, most preferred first
type srvService struct {
	name     string
	security transport.Security
}

var (
	imapServices = []srvService{
		{"imaps", transport.SecurityTLS},
		{"imap", transport.SecuritySTARTTLS},
	}
	submissionServices = []srvService{
		{"submissions", transport.SecurityTLS},
		{"submission", transport.SecuritySTARTTLS},
	}
)

// DiscoveryService suggests IMAP and SMTP settings from DNS SRV records
type DiscoveryService struct {
	config   DiscoveryConfig
	resolver DNSResolver
}

// NewDiscoveryService creates a new DiscoveryService
func NewDiscoveryService(config DiscoveryConfig) *DiscoveryService {
	return &DiscoveryService{
		config:   config,
		resolver: newDefaultDNSResolver(config.LookupTimeout),
	}
}

// NewDiscoveryServiceWithResolver creates a DiscoveryService with custom resolver (for testing)
func NewDiscoveryServiceWithResolver(config DiscoveryConfig, resolver DNSResolver) *DiscoveryService {
	return &DiscoveryService{config: config, resolver: resolver}
}

// Discover looks up the mail servers for email's domain. When a service
// has no usable SRV record the endpoint falls back to mail.<domain>.
func (s *DiscoveryService) Discover(ctx context.Context, email string) (*DiscoveryResult, error) {
	email = strings.TrimSpace(email)
	if err := validator.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: email: %v", apperrors.ErrInvalidInput, err)
	}
	domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])

	imap, err := s.lookup(ctx, domain, imapServices)
	if err != nil {
		return nil, err
	}
	if imap == nil {
		imap = &Endpoint{Host: getMailHostname(domain), Port: 993, Encryption: transport.SecurityTLS, Source: SourceGuess}
	}

	smtp, err := s.lookup(ctx, domain, submissionServices)
	if err != nil {
		return nil, err
	}
	if smtp == nil {
		smtp = &Endpoint{Host: getMailHostname(domain), Port: 587, Encryption: transport.SecuritySTARTTLS, Source: SourceGuess}
	}

	return &DiscoveryResult{Email: email, IMAP: *imap, SMTP: *smtp}, nil
}

// lookup returns the first usable target across services, or nil
func (s *DiscoveryService) lookup(ctx context.Context, domain string, services []srvService) (*Endpoint, error) {
	for _, svc := range services {
		records, err := s.lookupWithRetry(ctx, svc.name, domain)
		if err != nil {
			return nil, err
		}
		for _, srv := range records {
			host := strings.TrimSuffix(strings.ToLower(srv.Target), ".")
			// "." means the service is explicitly not offered
			if host == "" || srv.Port == 0 {
				break
			}
			return &Endpoint{Host: host, Port: int(srv.Port), Encryption: svc.security, Source: SourceSRV}, nil
		}
	}
	return nil, nil
}

// lookupWithRetry retries transient resolver failures. A name that does
// not exist is an empty answer, not an error.
func (s *DiscoveryService) lookupWithRetry(ctx context.Context, service, domain string) ([]*net.SRV, error) {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, records, err := s.resolver.LookupSRV(ctx, service, "tcp", domain)
		if err == nil {
			return records, nil
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		lastErr = err

		// Don't sleep on the last attempt
		if attempt < s.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.config.RetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("%w: SRV lookup _%s._tcp.%s: %v", apperrors.ErrConnection, service, domain, lastErr)
}

// getMailHostname returns the mail hostname for a domain
// e.g., "example.com" -> "mail.example.com", "mail.example.com" -> "mail.example.com"
func getMailHostname(domainName string) string {
	if strings.HasPrefix(domainName, "mail.") {
		return domainName
	}
	return "mail." + domainName
}
