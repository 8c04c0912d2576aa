package profileapi

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"edgepolicy/internal/model"
	"edgepolicy/internal/server"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newBufClient(t *testing.T, table *server.ProfileTable) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := NewGRPCServer(NewTableService(table), quiet())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, lis, srv, quiet()) }()

	dialer := func(context.Context, string) (net.Conn, error) {
		return lis.DialContext(context.Background())
	}
	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(dialer))
	if err != nil {
		cancel()
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-done
		_ = lis.Close()
	})
	return c
}

func seededTable() *server.ProfileTable {
	table := server.NewProfileTable()
	table.Set("192.168.30.21", server.Entry{Profile: model.ProfileCriticalTask, CPU: 91, RAM: 70, Traffic: "0.05Mbps", Peer: "192.168.30.21:50122"})
	table.Set("192.168.30.12", server.Entry{Profile: model.ProfileIdle, CPU: 3, RAM: 10, Traffic: "0.05Mbps", Peer: "192.168.30.12:40100"})
	return table
}

func TestListProfiles(t *testing.T) {
	c := newBufClient(t, seededTable())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := c.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].SourceIP != "192.168.30.12" || entries[0].Profile != "Idle" {
		t.Fatalf("entries not sorted by ip: %+v", entries)
	}
	if entries[1].CPU != 91 || entries[1].UpdatedAt.IsZero() {
		t.Fatalf("entry fields lost in transit: %+v", entries[1])
	}
}

func TestGetProfile(t *testing.T) {
	c := newBufClient(t, seededTable())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, err := c.GetProfile(ctx, "192.168.30.21")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if e.Profile != "Critical Task" || e.Peer != "192.168.30.21:50122" {
		t.Fatalf("entry = %+v", e)
	}

	_, err = c.GetProfile(ctx, "10.0.0.1")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unknown ip: code = %s, err = %v", status.Code(err), err)
	}
	_, err = c.GetProfile(ctx, " ")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("empty ip: code = %s", status.Code(err))
	}
}

func TestListProfilesEmptyTable(t *testing.T) {
	c := newBufClient(t, server.NewProfileTable())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := c.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %v", entries)
	}
}
