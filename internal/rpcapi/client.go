package rpcapi

import (
	"context"
	"sync"

	"google.golang.org/grpc"

	"github.com/aerokv/teamcollection/internal/recruit"
	"github.com/aerokv/teamcollection/internal/registry"
)

// Client is the production implementation of recruit.WorkerRecruiter,
// recruit.StorageInitializer, and registry.FailureMonitor, dialed
// against the cluster controller's gRPC listener: a thin wrapper
// around a *grpc.ClientConn.
type Client struct {
	conn *grpc.ClientConn

	mu        sync.RWMutex
	available map[string]bool
}

// Dial connects to addr with the caller's dial options, which must
// include the transport credentials (ddcontrold passes insecure ones).
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: cc, available: make(map[string]bool)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(callContentSubtype())}
}

// RequestWorker implements recruit.WorkerRecruiter.
func (c *Client) RequestWorker(ctx context.Context, excluded []string, dcHint string, critical bool) (recruit.Candidate, error) {
	reply := new(RequestWorkerReply)
	args := &RequestWorkerArgs{Excluded: excluded, DCHint: dcHint, Critical: critical}
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/RequestWorker", args, reply, c.callOpts()...); err != nil {
		return recruit.Candidate{}, err
	}
	return recruit.Candidate{Address: reply.Address, DC: reply.DC, DataHall: reply.DataHall}, nil
}

// InitializeStorage implements recruit.StorageInitializer.
func (c *Client) InitializeStorage(ctx context.Context, cand recruit.Candidate, engineType registry.EngineType, interfaceID, seedTag string, tssPair *recruit.TSSPairInfo) (recruit.InitializeReply, error) {
	args := &InitializeStorageArgs{
		Address:     cand.Address,
		EngineType:  int(engineType),
		InterfaceID: interfaceID,
		SeedTag:     seedTag,
	}
	if tssPair != nil {
		args.TSSPaired = true
		args.PairedID = tssPair.PairedID.String()
		args.PairedVer = tssPair.PairedAddedVersion
	}
	reply := new(InitializeStorageReply)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/InitializeStorage", args, reply, c.callOpts()...); err != nil {
		return recruit.InitializeReply{}, err
	}
	return recruit.InitializeReply{Interface: reply.Interface, AddedVersion: reply.AddedVersion}, nil
}

// RemoveStorage asks the cluster controller to tear down a superseded
// process. No component in this module calls it.
func (c *Client) RemoveStorage(ctx context.Context, serverID, address string) error {
	args := &RemoveStorageArgs{ServerID: serverID, Address: address}
	reply := new(RemoveStorageReply)
	return c.conn.Invoke(ctx, "/"+ServiceName+"/RemoveStorage", args, reply, c.callOpts()...)
}

// Run backs registry.FailureMonitor by maintaining an edge-triggered
// availability cache fed from the server-streaming WatchFailure RPC. Run must be started once and kept alive for the
// cache to track reality; IsAvailable answers from the cache without
// blocking, satisfying the health tracker's "poll, don't push" suspension
// model (see registry.FailureMonitor's doc comment).
func (c *Client) Run(ctx context.Context, addresses []string) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchFailure", c.callOpts()...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchFailureArgs{Addresses: addresses}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		upd := new(WatchFailureUpdate)
		if err := stream.RecvMsg(upd); err != nil {
			return err
		}
		c.mu.Lock()
		c.available[upd.Address] = upd.Available
		c.mu.Unlock()
	}
}

// IsAvailable implements registry.FailureMonitor.
func (c *Client) IsAvailable(addr string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	avail, known := c.available[addr]
	return !known || avail
}
