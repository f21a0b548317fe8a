package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// IngestClient calls the ingest service with a service token.
type IngestClient struct {
	conn  grpc.ClientConnInterface
	token string
}

func NewIngestClient(conn grpc.ClientConnInterface, token string) *IngestClient {
	return &IngestClient{conn: conn, token: token}
}

func (c *IngestClient) invoke(ctx context.Context, method string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	return c.conn.Invoke(ctx, "/"+ingestServiceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *IngestClient) Publish(ctx context.Context, req *PublishRequest) (*PublishResponse, error) {
	out := new(PublishResponse)
	if err := c.invoke(ctx, "Publish", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestClient) PublishCell(ctx context.Context, req *CellRequest) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.invoke(ctx, "PublishCell", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestClient) SeedLeaderboard(ctx context.Context, req *SeedRequest) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.invoke(ctx, "SeedLeaderboard", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestClient) Freeze(ctx context.Context, req *FreezeRequest) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.invoke(ctx, "Freeze", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IngestClient) Unfreeze(ctx context.Context, req *UnfreezeRequest) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.invoke(ctx, "Unfreeze", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
