package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// ---------------------------------------------------------------------------
// Connect over HTTP
// ---------------------------------------------------------------------------

func connectClient(t *testing.T, hs *httptest.Server, procedure string, opts ...connect.ClientOption) *connect.Client[structpb.Struct, structpb.Struct] {
	t.Helper()
	return connect.NewClient[structpb.Struct, structpb.Struct](hs.Client(), hs.URL+procedure, opts...)
}

func TestConnect_GetMethodJSON(t *testing.T) {
	hs := httptest.NewServer(newTestServer(t).Handler())
	defer hs.Close()

	client := connectClient(t, hs, GetMethodProcedure, connect.WithProtoJSON())
	resp, err := client.CallUnary(bg(), connect.NewRequest(structReq(t, map[string]any{"method": loopSig})))
	if err != nil {
		t.Fatalf("GetMethod over Connect: %v", err)
	}
	if got := resp.Msg.Fields["method"].GetStringValue(); got != loopSig {
		t.Errorf("method = %q, want %q", got, loopSig)
	}
	if n := len(resp.Msg.Fields["blocks"].GetListValue().GetValues()); n != 4 {
		t.Errorf("blocks = %d, want 4", n)
	}
}

func TestConnect_ErrorCodes(t *testing.T) {
	hs := httptest.NewServer(newTestServer(t).Handler())
	defer hs.Close()

	client := connectClient(t, hs, BlockContainingProcedure)
	_, err := client.CallUnary(bg(), connect.NewRequest(structReq(t, map[string]any{"method": brokenSig, "offset": 0})))
	if code := connect.CodeOf(err); code != connect.CodeFailedPrecondition {
		t.Errorf("broken method code = %v, want FailedPrecondition", code)
	}

	_, err = client.CallUnary(bg(), connect.NewRequest(structReq(t, map[string]any{"method": loopSig})))
	if code := connect.CodeOf(err); code != connect.CodeInvalidArgument {
		t.Errorf("missing offset code = %v, want InvalidArgument", code)
	}
}

func TestConnect_UnknownProcedure(t *testing.T) {
	hs := httptest.NewServer(newTestServer(t).Handler())
	defer hs.Close()

	resp, err := hs.Client().Post(hs.URL+"/"+ServiceName+"/Nope", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	srv := newTestServer(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(bg())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient,
		"http://"+lis.Addr().String()+ListMethodsProcedure, connect.WithProtoJSON())
	if _, err := client.CallUnary(bg(), connect.NewRequest(&structpb.Struct{})); err != nil {
		t.Fatalf("ListMethods over TCP: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

// ---------------------------------------------------------------------------
// Native gRPC
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	srv := newTestServer(t)
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(bg())
	done := make(chan error, 1)
	go func() { done <- srv.ServeGRPC(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return conn
}

func TestGRPC_Queries(t *testing.T) {
	client := NewAnalysisClient(dialBufconn(t))

	list, err := client.ListMethods(bg(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListMethods over gRPC: %v", err)
	}
	if n := len(list.Fields["methods"].GetListValue().GetValues()); n != 1 {
		t.Errorf("methods = %d, want 1", n)
	}

	block, err := client.BlockContaining(bg(), structReq(t, map[string]any{"method": loopSig, "offset": 10}))
	if err != nil {
		t.Fatalf("BlockContaining over gRPC: %v", err)
	}
	if got := block.Fields["start"].GetNumberValue(); got != 6 {
		t.Errorf("block start = %v, want 6", got)
	}

	class, err := client.GetClass(bg(), structReq(t, map[string]any{"name": "Lcom/example/Task;"}))
	if err != nil {
		t.Fatalf("GetClass over gRPC: %v", err)
	}
	if !class.Fields["interface"].GetBoolValue() {
		t.Error("Task should be an interface")
	}

	dis, err := client.Disassemble(bg(), structReq(t, map[string]any{"method": loopSig}))
	if err != nil {
		t.Fatalf("Disassemble over gRPC: %v", err)
	}
	if dis.Fields["listing"].GetStringValue() == "" {
		t.Error("empty listing")
	}
}

func TestGRPC_StatusCodes(t *testing.T) {
	client := NewAnalysisClient(dialBufconn(t))
	tests := []struct {
		name   string
		fields map[string]any
		code   codes.Code
	}{
		{"ok", map[string]any{"method": loopSig}, codes.OK},
		{"missing", nil, codes.InvalidArgument},
		{"unknown", map[string]any{"method": "Lnope;->x()V"}, codes.NotFound},
		{"abstract", map[string]any{"method": abstractSig}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.GetMethod(bg(), structReq(t, tt.fields))
			if code := status.Code(err); code != tt.code {
				t.Errorf("code = %v (%v), want %v", code, err, tt.code)
			}
		})
	}
}

func TestGRPC_Health(t *testing.T) {
	health := healthpb.NewHealthClient(dialBufconn(t))

	resp, err := health.Check(bg(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}
