package network

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestManager_ListenDuplicatePortFails(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	handler := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200}, nil
	}
	if err := m.Listen(ctx, 3000, KindHTTP, "0.0.0.0", 1, handler); err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	if err := m.Listen(ctx, 3000, KindHTTP, "0.0.0.0", 2, handler); err != ErrAddrInUse {
		t.Fatalf("second Listen err = %v, want ErrAddrInUse", err)
	}
}

func TestManager_ListenSameOwnerIsIdempotent(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	handler := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200}, nil
	}
	if err := m.Listen(ctx, 3001, KindHTTP, "0.0.0.0", 1, handler); err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	if err := m.Listen(ctx, 3001, KindHTTP, "0.0.0.0", 1, handler); err != nil {
		t.Fatalf("re-Listen from same owner: %v", err)
	}
	servers := m.ListServers()
	if len(servers) != 1 {
		t.Fatalf("servers = %v, want exactly one entry", servers)
	}
}

func TestManager_HandleRequestNoServerReturns502(t *testing.T) {
	m := NewManager()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	_, status := m.HandleRequest(context.Background(), req, 9999)
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
}

func TestManager_HandleRequestTimeout(t *testing.T) {
	m := NewManager()
	m.RequestTimeout = 20 * time.Millisecond
	ctx := context.Background()

	slow := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		select {
		case <-time.After(time.Second):
			return &http.Response{StatusCode: 200}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.Listen(ctx, 4000, KindHTTP, "0.0.0.0", 1, slow); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	_, status := m.HandleRequest(ctx, req, 4000)
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", status)
	}
}

func TestManager_CloseAllOwnedByCascades(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	var closedPorts []int
	m.OnClose(func(port int, kind ServerKind, ownerPID int64) {
		closedPorts = append(closedPorts, port)
	})

	handler := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 200}, nil
	}
	m.Listen(ctx, 1000, KindHTTP, "", 42, handler)
	m.Listen(ctx, 1001, KindHTTP, "", 42, handler)
	m.Listen(ctx, 1002, KindHTTP, "", 7, handler)

	m.CloseAllOwnedBy(ctx, 42)

	if len(closedPorts) != 2 {
		t.Fatalf("closedPorts = %v, want 2 entries", closedPorts)
	}
	servers := m.ListServers()
	if len(servers) != 1 || servers[0].Port != 1002 {
		t.Fatalf("remaining servers = %v, want only port 1002", servers)
	}
}
