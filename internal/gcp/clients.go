package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
)

// Clients bundles the Google Cloud clients a function instance keeps for its
// lifetime. Executions and Vertex are nil when not configured.
type Clients struct {
	Storage    *storage.Client
	Firestore  *firestore.Client
	Executions *executions.Client
	Vertex     *VertexClient
}

// ClientOptions selects which optional clients to create.
type ClientOptions struct {
	ProjectID    string
	Region       string
	VertexModel  string
	UseVertex    bool
	UseWorkflows bool
}

// NewClients creates every client opts asks for. On error the clients created
// so far are closed.
func NewClients(ctx context.Context, opts ClientOptions) (_ *Clients, err error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create clients")
	}
	c := &Clients{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.Firestore, err = firestore.NewClient(ctx, opts.ProjectID); err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	if c.Storage, err = storage.NewClient(ctx); err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	if opts.UseWorkflows {
		if c.Executions, err = executions.NewClient(ctx); err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
	}
	if opts.UseVertex {
		if c.Vertex, err = NewVertexClient(ctx, opts.ProjectID, opts.Region, opts.VertexModel); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Clients) Close() error {
	var errs []error
	if c.Vertex != nil {
		errs = append(errs, c.Vertex.Close())
	}
	if c.Executions != nil {
		errs = append(errs, c.Executions.Close())
	}
	if c.Storage != nil {
		errs = append(errs, c.Storage.Close())
	}
	if c.Firestore != nil {
		errs = append(errs, c.Firestore.Close())
	}
	return errors.Join(errs...)
}
