package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds the connection settings for the Firestore client.
type Config struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// Provider lazily initialises and shares a single Firestore client.
type Provider struct {
	cfg Config

	mu     sync.Mutex
	client *firestore.Client
	err    error
}

// NewProvider validates cfg and returns a provider. The client is not
// dialed until first use.
func NewProvider(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("firestore: project id is required")
	}
	return &Provider{cfg: cfg}, nil
}

// Client returns the shared Firestore client, dialing it on first call.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if p == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.client != nil {
		return p.client, nil
	}

	var opts []option.ClientOption
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		conn, err := grpc.NewClient(host, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			p.err = fmt.Errorf("firestore: dial emulator: %w", err)
			return nil, p.err
		}
		opts = append(opts, option.WithGRPCConn(conn), option.WithoutAuthentication())
	}

	database := strings.TrimSpace(p.cfg.DatabaseID)
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, p.cfg.ProjectID, database, opts...)
	if err != nil {
		p.err = fmt.Errorf("firestore: new client: %w", err)
		return nil, p.err
	}
	p.client = client
	return p.client, nil
}

// Close releases the underlying client, if one was created.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
