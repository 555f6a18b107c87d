// Package client a typed gRPC client for the StringDB service.
package client

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zendbit/StringDB/internal/stringdbserver"
	"github.com/zendbit/StringDB/internal/token"
)

type StringDBClient struct {
	conn *grpc.ClientConn
}

func NewStringDBClient(address, authToken string, extra ...grpc.DialOption) (*StringDBClient, error) {
	opts := []grpc.DialOption{
		grpc.WithPerRPCCredentials(&token.Tokens{Token: authToken}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(stringdbserver.Codec{})),
	}
	opts = append(opts, extra...)

	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, err
	}
	return &StringDBClient{conn: conn}, nil
}

func (c *StringDBClient) Close() error {
	return c.conn.Close()
}

func (c *StringDBClient) Insert(ctx context.Context, key, value []byte) error {
	var resp stringdbserver.InsertResponse
	err := c.conn.Invoke(ctx, "/"+stringdbserver.ServiceName+"/Insert",
		&stringdbserver.InsertRequest{Key: key, Value: value}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New("insert resp.Error: " + resp.Error)
	}
	return nil
}

func (c *StringDBClient) InsertRange(ctx context.Context, items []stringdbserver.KeyValue) error {
	var resp stringdbserver.InsertResponse
	err := c.conn.Invoke(ctx, "/"+stringdbserver.ServiceName+"/InsertRange",
		&stringdbserver.InsertRangeRequest{Items: items}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New("insert range resp.Error: " + resp.Error)
	}
	return nil
}

// Scanner one open scan stream. Recv returns io.EOF after the final record.
type Scanner struct {
	stream grpc.ClientStream
}

// Scan opens a streaming scan of the whole database. With loadValues the
// server materializes and sends every value.
func (c *StringDBClient) Scan(ctx context.Context, loadValues bool) (*Scanner, error) {
	stream, err := c.conn.NewStream(ctx, &stringdbserver.ScanStreamDesc,
		"/"+stringdbserver.ServiceName+"/Scan")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&stringdbserver.ScanRequest{LoadValues: loadValues}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Scanner{stream: stream}, nil
}

// Recv the next record. The server's end-of-scan marker is consumed and
// reported as io.EOF.
func (s *Scanner) Recv() (*stringdbserver.ScanRecord, error) {
	var rec stringdbserver.ScanRecord
	if err := s.stream.RecvMsg(&rec); err != nil {
		return nil, err
	}
	if rec.Last {
		return nil, io.EOF
	}
	return &rec, nil
}
